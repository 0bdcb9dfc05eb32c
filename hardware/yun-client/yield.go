package yun

import "strings"

// Yield drains runtime inbound message queue, snapshotted at call time.
// Chunks "Y <handle> <more> <payload>" are reassembled and delivered
// to handle's Handler when more=0. Messages over MaxBufSize are delivered
// as OutOfBufferMessage and Yield returns PayloadOverflow after draining.
func (self *Client) Yield() error {
	self.enter()
	defer self.leave()
	defer self.resetAcc()

	self.send(&famYieldLock, nil)
	if !strings.HasPrefix(self.Reply(), famYieldLock.ok) {
		return self.yieldError("lock")
	}

	overflow := false
	for {
		self.send(&famYieldChunk, nil)
		reply := self.Reply()
		if strings.HasPrefix(reply, famYieldChunk.ok) {
			break
		}
		if len(reply) == 0 || reply[0] != 'Y' {
			return self.yieldError("unexpected reply")
		}
		handle, more, payload, ok := parseChunk(reply)
		if !ok {
			return self.yieldError("malformed chunk")
		}
		self.accumulate(payload)
		if more {
			continue
		}
		if self.accOverflow {
			overflow = true
			self.stat.inc(&self.stat.Overflow)
		}
		self.dispatch(handle)
		self.resetAcc()
	}
	if overflow {
		return &Error{Op: famYieldChunk.name, Code: PayloadOverflow}
	}
	return nil
}

func (self *Client) accumulate(payload string) {
	if self.accOverflow {
		return
	}
	if self.accLen+len(payload) > MaxBufSize {
		self.accOverflow = true
		return
	}
	self.accLen += copy(self.acc[self.accLen:], payload)
}

func (self *Client) dispatch(handle int) {
	slot := self.subs.get(handle)
	if slot == nil {
		self.Log.Debugf("%s yield message to unused handle=%d dropped", modName, handle)
		return
	}
	self.stat.inc(&self.stat.Message)
	if slot.handler != nil {
		if self.accOverflow {
			slot.handler.OnMessage([]byte(OutOfBufferMessage))
		} else {
			slot.handler.OnMessage(self.acc[:self.accLen])
		}
	}
	if slot.transactional {
		self.subs.release(handle)
	}
}

func (self *Client) resetAcc() {
	self.accLen = 0
	self.accOverflow = false
}

func (self *Client) yieldError(reason string) error {
	self.stat.inc(&self.stat.YieldError)
	reply := self.Reply()
	self.Log.Errorf("%s yield %s reply=%q", modName, reason, reply)
	return &Error{Op: famYieldChunk.name, Code: YieldError, Reply: reply}
}

// parseChunk splits "Y <handle> <more> <payload>", payload may be empty.
// Payload starts after the single space following more and may contain spaces.
func parseChunk(s string) (handle int, more bool, payload string, ok bool) {
	if !strings.HasPrefix(s, "Y ") {
		return
	}
	rest := s[2:]
	i := strings.IndexByte(rest, ' ')
	if i < 0 {
		return
	}
	if handle, ok = parseDigits(rest[:i]); !ok {
		return
	}
	rest = rest[i+1:]
	moreField := rest
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		moreField, payload = rest[:j], rest[j+1:]
	}
	m, okMore := parseDigits(moreField)
	if !okMore || m > 1 {
		return 0, false, "", false
	}
	return handle, m == 1, payload, true
}
