package fakeyun

import (
	"sync"
	"time"

	"github.com/juju/errors"
)

// Loopback backend routes messages through in-process Broker.
type Loopback struct {
	// FailConnect, when set, is returned by Connect
	FailConnect error

	broker    *Broker
	mu        sync.Mutex
	connected bool
	subs      map[string]*brokerSub
}

func NewLoopback(b *Broker) *Loopback {
	return &Loopback{broker: b, subs: make(map[string]*brokerSub)}
}

func (self *Loopback) Connect(clientID string, clean bool, ep Endpoint, keepalive time.Duration) error {
	if self.FailConnect != nil {
		return self.FailConnect
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if clean {
		for t, s := range self.subs {
			self.broker.Unsubscribe(s)
			delete(self.subs, t)
		}
	}
	self.connected = true
	return nil
}

func (self *Loopback) Disconnect() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.connected {
		return errors.New("not connected")
	}
	self.connected = false
	return nil
}

func (self *Loopback) IsConnected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}

func (self *Loopback) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if !self.IsConnected() {
		return errors.New("not connected")
	}
	self.broker.Publish(topic, payload, retain)
	return nil
}

func (self *Loopback) Subscribe(topic string, qos byte, fn MessageFunc) error {
	self.mu.Lock()
	if !self.connected {
		self.mu.Unlock()
		return errors.New("not connected")
	}
	if old, ok := self.subs[topic]; ok {
		self.broker.Unsubscribe(old)
	}
	self.mu.Unlock()

	// may deliver retained messages synchronously
	sub := self.broker.Subscribe(topic, func(t string, p []byte) {
		if self.IsConnected() {
			fn(t, p)
		}
	})
	self.mu.Lock()
	self.subs[topic] = sub
	self.mu.Unlock()
	return nil
}

func (self *Loopback) Unsubscribe(topic string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	sub, ok := self.subs[topic]
	if !ok {
		return errors.NotFoundf("subscription topic=%s", topic)
	}
	self.broker.Unsubscribe(sub)
	delete(self.subs, topic)
	return nil
}
