package yun

// Handler receives reassembled inbound message.
// payload is only valid during the call.
type Handler interface {
	OnMessage(payload []byte)
}

type HandlerFunc func(payload []byte)

func (f HandlerFunc) OnMessage(payload []byte) { f(payload) }

type subSlot struct {
	used bool
	// transactional slot is released after its first complete message
	transactional bool
	handler       Handler
}

type subTable [MaxSub]subSlot

// alloc returns first free index, MaxSub when table is full.
func (t *subTable) alloc() int {
	for i := range t {
		if !t[i].used {
			return i
		}
	}
	return MaxSub
}

func (t *subTable) claim(i int, transactional bool, h Handler) {
	t[i] = subSlot{used: true, transactional: transactional, handler: h}
}

func (t *subTable) release(i int) {
	if i >= 0 && i < MaxSub {
		t[i] = subSlot{}
	}
}

func (t *subTable) get(i int) *subSlot {
	if i < 0 || i >= MaxSub || !t[i].used {
		return nil
	}
	return &t[i]
}

func (t *subTable) used() int {
	n := 0
	for i := range t {
		if t[i].used {
			n++
		}
	}
	return n
}
