package uart

// Public API to easy create serial stubs to test your code.
import (
	"bytes"
	"sync"

	"github.com/juju/errors"
)

// Responder plays remote side: receives every complete line written
// (without trailing newline) and returns lines to send back.
type Responder interface {
	HandleLine(line string) []string
}

type ResponderFunc func(line string) []string

func (f ResponderFunc) HandleLine(line string) []string { return f(line) }

// Mock Uarter for tests. Written bytes are echoed back like tty does,
// completed lines go to Responder and its reply lines are queued after echo.
type Mock struct {
	Echo      bool  // echo written bytes, default true
	EchoCRLF  bool  // echo '\n' as "\r\n", like tty with ONLCR
	ReplyCRLF bool  // terminate reply lines with "\r\n"
	Bauds     []int // accepted line speeds, empty means any
	OpenErr   error

	mu      sync.Mutex
	resp    Responder
	open    bool
	baud    int
	opens   []int
	in      bytes.Buffer
	line    []byte
	written bytes.Buffer
	lines   []string
}

func NewMock(r Responder) *Mock {
	return &Mock{Echo: true, resp: r}
}

func (self *Mock) SetResponder(r Responder) {
	self.mu.Lock()
	self.resp = r
	self.mu.Unlock()
}

func (self *Mock) Open(path string, baud int) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.opens = append(self.opens, baud)
	if self.OpenErr != nil {
		self.open = false
		return self.OpenErr
	}
	self.open = true
	self.baud = baud
	self.in.Reset()
	self.line = self.line[:0]
	return nil
}

func (self *Mock) Ready() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.open
}

func (self *Mock) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.open {
		return 0, errors.New("mock uart not open")
	}
	self.written.Write(p)
	garbled := !self.baudOk()
	for _, b := range p {
		if self.Echo {
			switch {
			case garbled:
				self.in.WriteByte(0xfe)
			case b == '\n' && self.EchoCRLF:
				self.in.WriteString("\r\n")
			default:
				self.in.WriteByte(b)
			}
		}
		if b != '\n' {
			self.line = append(self.line, b)
			continue
		}
		line := string(self.line)
		self.line = self.line[:0]
		if garbled || self.resp == nil {
			continue
		}
		self.lines = append(self.lines, line)
		for _, r := range self.resp.HandleLine(line) {
			self.in.WriteString(r)
			if self.ReplyCRLF {
				self.in.WriteString("\r\n")
			} else {
				self.in.WriteByte('\n')
			}
		}
	}
	return len(p), nil
}

func (self *Mock) Available() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.in.Len()
}

func (self *Mock) ReadByte() (byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.in.Len() == 0 {
		return 0, ErrNoData
	}
	return self.in.ReadByte()
}

func (self *Mock) Close() error {
	self.mu.Lock()
	self.open = false
	self.mu.Unlock()
	return nil
}

// Push queues unsolicited inbound bytes.
func (self *Mock) Push(s string) {
	self.mu.Lock()
	self.in.WriteString(s)
	self.mu.Unlock()
}

// Written returns everything written since last ResetWritten.
func (self *Mock) Written() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.written.String()
}

func (self *Mock) ResetWritten() {
	self.mu.Lock()
	self.written.Reset()
	self.lines = nil
	self.mu.Unlock()
}

// Lines returns lines delivered to Responder since last ResetWritten.
func (self *Mock) Lines() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string(nil), self.lines...)
}

// Opens returns line speeds of every Open call.
func (self *Mock) Opens() []int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]int(nil), self.opens...)
}

func (self *Mock) Baud() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.baud
}

func (self *Mock) baudOk() bool {
	if len(self.Bauds) == 0 {
		return true
	}
	for _, b := range self.Bauds {
		if b == self.baud {
			return true
		}
	}
	return false
}
