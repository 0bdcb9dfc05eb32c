package fakeyun

import (
	"strconv"
	"sync"
)

const DefaultChunkSize = 50

type inboxMsg struct {
	handle  int
	payload []byte
}

// inbox queues messages for yield and cuts them into chunks.
// Lock ("z") snapshots queue length; chunk requests ("y") after that
// only see messages present at lock time.
type inbox struct {
	mu        sync.Mutex
	chunkSize int
	queue     []inboxMsg
	locked    int
	cur       *inboxMsg
	off       int
}

func newInbox(chunkSize int) *inbox {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &inbox{chunkSize: chunkSize}
}

func (self *inbox) push(handle int, payload []byte) {
	self.mu.Lock()
	self.queue = append(self.queue, inboxMsg{handle: handle, payload: append([]byte(nil), payload...)})
	self.mu.Unlock()
}

func (self *inbox) lock() {
	self.mu.Lock()
	self.locked = len(self.queue)
	self.mu.Unlock()
}

func (self *inbox) len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.queue)
}

// next returns "Y <handle> <more> <chunk>" or "Y F" when locked messages are exhausted.
func (self *inbox) next() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.cur == nil {
		if self.locked == 0 || len(self.queue) == 0 {
			self.locked = 0
			return "Y F"
		}
		m := self.queue[0]
		self.queue = self.queue[1:]
		self.locked--
		self.cur = &m
		self.off = 0
	}
	end := self.off + self.chunkSize
	more := "1"
	if end >= len(self.cur.payload) {
		end = len(self.cur.payload)
		more = "0"
	}
	s := "Y " + strconv.Itoa(self.cur.handle) + " " + more + " " + string(self.cur.payload[self.off:end])
	self.off = end
	if more == "0" {
		self.cur = nil
	}
	return s
}

func (self *inbox) reset() {
	self.mu.Lock()
	self.queue = nil
	self.locked = 0
	self.cur = nil
	self.mu.Unlock()
}
