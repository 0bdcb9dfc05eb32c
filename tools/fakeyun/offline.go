package fakeyun

import "sync"

type DropBehavior int

const (
	DropOldest DropBehavior = 0
	DropNewest DropBehavior = 1

	DefaultOfflineQueueSize = 20
)

type queuedPublish struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

// offlineQueue holds publishes made while disconnected.
// Size 0 means unlimited.
type offlineQueue struct {
	mu    sync.Mutex
	size  int
	drop  DropBehavior
	items []queuedPublish
}

func newOfflineQueue(size int, drop DropBehavior) *offlineQueue {
	return &offlineQueue{size: size, drop: drop}
}

// append returns false when message was dropped or displaced another.
func (self *offlineQueue) append(p queuedPublish) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.size > 0 && len(self.items) >= self.size {
		if self.drop == DropNewest {
			return false
		}
		self.items = append(self.items[1:], p)
		return false
	}
	self.items = append(self.items, p)
	return true
}

func (self *offlineQueue) pop() (queuedPublish, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if len(self.items) == 0 {
		return queuedPublish{}, false
	}
	p := self.items[0]
	self.items = self.items[1:]
	return p, true
}

func (self *offlineQueue) len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.items)
}

// reconfigure replaces limits, keeping newest items that fit.
func (self *offlineQueue) reconfigure(size int, drop DropBehavior) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.size = size
	self.drop = drop
	if size > 0 && len(self.items) > size {
		self.items = self.items[len(self.items)-size:]
	}
}
