package uart

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/yunbridge/helpers"
	"go.bug.st/serial"
)

// read timeout of single poll, keeps Available() close to non-blocking
const serialPollTimeout = time.Millisecond

type serialUart struct {
	port serial.Port
	rb   ringBuf
}

func NewSerialUart() *serialUart { return &serialUart{} }

func (self *serialUart) Open(path string, baud int) error {
	if self.port != nil {
		_ = self.port.Close()
		self.port = nil
	}
	self.rb.reset()
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return errors.Annotatef(err, "serial open path=%s baud=%d", path, baud)
	}
	if err = port.SetReadTimeout(serialPollTimeout); err != nil {
		_ = port.Close()
		return errors.Annotate(err, "serial SetReadTimeout")
	}
	if err = port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return errors.Annotate(err, "serial ResetInputBuffer")
	}
	self.port = port
	return nil
}

func (self *serialUart) Ready() bool { return self.port != nil }

func (self *serialUart) Write(p []byte) (int, error) {
	if self.port == nil {
		return 0, errors.New("serial not open")
	}
	n, err := helpers.WriteAll(self.port, p)
	return n, errors.Annotate(err, "serial write")
}

func (self *serialUart) Available() int {
	self.fill()
	return self.rb.len()
}

func (self *serialUart) ReadByte() (byte, error) {
	if self.rb.len() == 0 {
		self.fill()
	}
	if b, ok := self.rb.pop(); ok {
		return b, nil
	}
	return 0, ErrNoData
}

func (self *serialUart) Close() error {
	if self.port == nil {
		return nil
	}
	err := self.port.Close()
	self.port = nil
	return err
}

func (self *serialUart) fill() {
	if self.port == nil {
		return
	}
	space := self.rb.space()
	if len(space) == 0 {
		return
	}
	// timeout is reported as n=0 err=nil
	n, err := self.port.Read(space)
	if err != nil {
		return
	}
	self.rb.w += n
}
