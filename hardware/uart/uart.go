// Package uart is the byte-level serial transport used by yun client.
// All implementations are non-blocking on read: callers poll Available()
// and sleep between polls under their own deadline.
package uart

import (
	"github.com/juju/errors"
)

const (
	DriverSerial = "serial"
	DriverFile   = "file"
	DriverMock   = "mock"
)

var ErrNoData = errors.New("uart no data")

type Uarter interface {
	// Open (re)opens device at given line speed, closing previous handle.
	Open(path string, baud int) error
	Ready() bool
	Write(p []byte) (int, error)
	// Available returns number of bytes ReadByte can return without waiting.
	Available() int
	// ReadByte returns ErrNoData when nothing is buffered.
	ReadByte() (byte, error)
	Close() error
}

// New returns Uarter implementation by driver name from config.
func New(driver string) (Uarter, error) {
	switch driver {
	case "", DriverSerial:
		return NewSerialUart(), nil
	case DriverFile:
		return NewFileUart()
	case DriverMock:
		return NewMock(nil), nil
	}
	return nil, errors.NotValidf("uart driver=%s", driver)
}

// ringBuf is the read-ahead store shared by real port implementations.
// buf[r:w] ready to consume, buf[w:] space for reads
type ringBuf struct {
	buf  [512]byte
	r, w int
}

func (self *ringBuf) len() int { return self.w - self.r }

func (self *ringBuf) space() []byte {
	if self.r == self.w {
		self.r, self.w = 0, 0
	}
	return self.buf[self.w:]
}

func (self *ringBuf) pop() (byte, bool) {
	if self.r == self.w {
		return 0, false
	}
	b := self.buf[self.r]
	self.r++
	return b, true
}

func (self *ringBuf) reset() { self.r, self.w = 0, 0 }
