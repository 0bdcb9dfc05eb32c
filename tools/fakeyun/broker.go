package fakeyun

import (
	"sync"

	"github.com/256dpi/gomqtt/topic"
)

type brokerSub struct {
	pattern string
	fn      MessageFunc
}

type retained struct {
	topic   string
	payload []byte
}

// Broker is in-process message router with MQTT wildcard semantics.
// Callbacks run synchronously in publisher goroutine, without broker lock held.
type Broker struct {
	mu     sync.Mutex
	subs   *topic.Tree // *brokerSub
	retain *topic.Tree // *retained
}

func NewBroker() *Broker {
	return &Broker{
		subs:   topic.NewStandardTree(),
		retain: topic.NewStandardTree(),
	}
}

func (self *Broker) Publish(t string, payload []byte, retain bool) {
	p := append([]byte(nil), payload...)
	self.mu.Lock()
	if retain {
		if len(p) == 0 {
			self.retain.Empty(t)
		} else {
			self.retain.Set(t, &retained{topic: t, payload: p})
		}
	}
	matches := self.subs.Match(t)
	self.mu.Unlock()

	for _, x := range matches {
		x.(*brokerSub).fn(t, p)
	}
}

func (self *Broker) Subscribe(pattern string, fn MessageFunc) *brokerSub {
	sub := &brokerSub{pattern: pattern, fn: fn}
	self.mu.Lock()
	self.subs.Add(pattern, sub)
	rs := self.retain.Search(pattern)
	self.mu.Unlock()

	for _, x := range rs {
		r := x.(*retained)
		fn(r.topic, r.payload)
	}
	return sub
}

func (self *Broker) Unsubscribe(sub *brokerSub) {
	self.mu.Lock()
	self.subs.Remove(sub.pattern, sub)
	self.mu.Unlock()
}

func (self *Broker) Subscribers(t string) int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.subs.Match(t))
}
