package yun

import (
	"strings"
	"time"

	"github.com/juju/errors"
)

type BaudType uint8

const (
	BaudTypeUnknown BaudType = iota
	BaudTypeArduino
	BaudTypeLinino
)

func (b BaudType) String() string {
	switch b {
	case BaudTypeArduino:
		return "arduino"
	case BaudTypeLinino:
		return "linino"
	}
	return "unknown"
}

func (b BaudType) Baud() int {
	switch b {
	case BaudTypeArduino:
		return BaudDefault
	case BaudTypeLinino:
		return BaudLinino
	}
	return 0
}

const osQuery = "uname\n"
const osTag = "Linux"

// FindBaudType tries known line speeds until Linux shell answers.
// Runtime left in protocol mode is cancelled back to shell.
func (self *Client) FindBaudType() BaudType {
	self.enter()
	defer self.leave()
	return self.findBaudType()
}

func (self *Client) findBaudType() BaudType {
	for _, bt := range []BaudType{BaudTypeArduino, BaudTypeLinino} {
		if err := self.resetSession(bt.Baud()); err != nil {
			self.Log.Errorf("%s reset baud=%d err=%v", modName, bt.Baud(), err)
			continue
		}
		if strings.HasPrefix(self.exec(osQuery, true, false), osTag) {
			self.baudType = bt
			self.Log.Debugf("%s baud type=%s", modName, bt)
			return bt
		}
	}
	self.baudType = BaudTypeUnknown
	return BaudTypeUnknown
}

// resetSession reopens port at baud and unwinds any half-finished
// command left by previous session.
func (self *Client) resetSession(baud int) error {
	self.stat.inc(&self.stat.Reset)
	t := &self.cfg.Timeouts
	if err := self.uart.Open(self.cfg.Device, baud); err != nil {
		return errors.Annotatef(err, "uart open device=%s", self.cfg.Device)
	}
	dl := after(t.Ready)
	for !self.uart.Ready() {
		if dl.expired() {
			return errors.Timeoutf("uart ready device=%s", self.cfg.Device)
		}
		dl.sleep(10 * time.Millisecond)
	}
	// skip login banner or shell prompt
	self.exec("\n", true, false)
	time.Sleep(t.Boot)
	for i := 0; i < exitAttempts; i++ {
		self.exec("1\n", false, false)
		self.exec("~\n", true, false)
	}
	time.Sleep(t.Exit)
	return nil
}
