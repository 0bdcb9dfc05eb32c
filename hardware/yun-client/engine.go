package yun

// exec writes one line and collects reply into raw buffer.
// Phase 1 consumes echo of written bytes within Timeouts.Echo,
// '\r' is not counted since tty may echo LF as CRLF.
// Phase 2 optionally waits for first reply byte within Timeouts.Reply,
// then drains available input, storing bytes up to end of line.
// Timeouts are absorbed: result is empty reply.
func (self *Client) exec(cmd string, wait, singleLine bool) string {
	self.rawLen = 0
	self.stat.inc(&self.stat.Request)
	t := &self.cfg.Timeouts

	if _, err := self.uart.Write([]byte(cmd)); err != nil {
		self.stat.inc(&self.stat.WriteError)
		self.Log.Errorf("%s write cmd=%q err=%v", modName, cmd, err)
		return ""
	}

	echo := len(cmd) + self.cfg.EchoExtra
	dl := after(t.Echo)
	for echo > 0 {
		if b, err := self.uart.ReadByte(); err == nil {
			if b != '\r' {
				echo--
			}
			continue
		}
		if dl.expired() {
			self.stat.inc(&self.stat.EchoTimeout)
			self.Log.Debugf("%s echo timeout cmd=%q missing=%d", modName, cmd, echo)
			return ""
		}
		dl.sleep(t.EchoPoll)
	}

	after(t.Settle).sleep(t.Settle)
	if wait {
		dl = after(t.Reply)
		for self.uart.Available() == 0 {
			if dl.expired() {
				self.stat.inc(&self.stat.ReplyTimeout)
				self.Log.Debugf("%s reply timeout cmd=%q", modName, cmd)
				return ""
			}
			dl.sleep(t.ReplyPoll)
		}
	}
	self.drain(singleLine)
	if self.Log.Enabled(logLevelExchange) {
		self.Log.Debugf("%s exec cmd=%q reply=%q", modName, cmd, self.Reply())
	}
	return self.Reply()
}

// drain reads available input. '\r' is dropped, '\n' or full buffer ends line.
// Bytes after end of line are discarded unless singleLine stops reading there.
// Partially received line waits up to Timeouts.Settle for its remainder.
func (self *Client) drain(singleLine bool) {
	t := &self.cfg.Timeouts
	eol := false
	var tail deadline
	tailSet := false
	for {
		if self.uart.Available() == 0 {
			if eol || self.rawLen == 0 {
				return
			}
			if !tailSet {
				tail, tailSet = after(t.Settle), true
			}
			if tail.expired() {
				return
			}
			tail.sleep(t.EchoPoll)
			continue
		}
		b, err := self.uart.ReadByte()
		if err != nil {
			return
		}
		if eol {
			continue
		}
		if b == '\n' || self.rawLen == MaxBufSize-1 {
			eol = true
			if singleLine {
				return
			}
			continue
		}
		if b == '\r' {
			continue
		}
		self.raw[self.rawLen] = b
		self.rawLen++
	}
}
