//go:build linux
// +build linux

package uart

import (
	"os"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// blocked Write waits this long for tty output buffer space
const fileWriteTimeout = time.Second

// fileUart talks to tty directly, termios2 BOTHER allows any line speed
// including 250000 which is not in standard Bnnn set.
type fileUart struct {
	f  *os.File
	fd int
	rb ringBuf
}

func NewFileUart() (Uarter, error) { return &fileUart{fd: -1}, nil }

func (self *fileUart) Open(path string, baud int) (err error) {
	if self.f != nil {
		_ = self.f.Close()
		self.f = nil
		self.fd = -1
	}
	self.rb.reset()
	self.f, err = os.OpenFile(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0600)
	if err != nil {
		return errors.Annotatef(err, "uart open path=%s", path)
	}
	self.fd = int(self.f.Fd())
	if err = ioResetTermios(self.fd, baud); err != nil {
		_ = self.f.Close()
		self.f = nil
		self.fd = -1
		return errors.Annotatef(err, "uart termios path=%s baud=%d", path, baud)
	}
	return nil
}

func (self *fileUart) Ready() bool { return self.f != nil }

func (self *fileUart) Write(p []byte) (int, error) {
	if self.f == nil {
		return 0, errors.New("uart not open")
	}
	total := 0
	for len(p) > 0 {
		n, err := unix.Write(self.fd, p)
		if err == unix.EAGAIN {
			if err = self.waitWritable(); err != nil {
				return total, err
			}
			continue
		}
		if err != nil {
			return total, errors.Trace(err)
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

func (self *fileUart) waitWritable() error {
	fds := []unix.PollFd{{Fd: int32(self.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, int(fileWriteTimeout/time.Millisecond))
	switch {
	case err == unix.EINTR:
		return nil
	case err != nil:
		return errors.Annotate(err, "uart poll")
	case n == 0:
		return errors.Timeoutf("uart write")
	}
	return nil
}

func (self *fileUart) Available() int {
	if self.f == nil {
		return self.rb.len()
	}
	if n, err := unix.IoctlGetInt(self.fd, unix.TIOCINQ); err == nil {
		return self.rb.len() + n
	}
	return self.rb.len()
}

func (self *fileUart) ReadByte() (byte, error) {
	if self.rb.len() == 0 && self.f != nil {
		space := self.rb.space()
		n, err := unix.Read(self.fd, space)
		if err != nil && err != unix.EAGAIN {
			return 0, errors.Trace(err)
		}
		if n > 0 {
			self.rb.w += n
		}
	}
	if b, ok := self.rb.pop(); ok {
		return b, nil
	}
	return 0, ErrNoData
}

func (self *fileUart) Close() error {
	if self.f == nil {
		return nil
	}
	err := self.f.Close()
	self.f = nil
	self.fd = -1
	return err
}

// raw 8N1, no flow control, VMIN=0 VTIME=0
func ioResetTermios(fd int, baud int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		return errors.Annotate(err, "TCGETS2")
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	if err = unix.IoctlSetTermios(fd, unix.TCSETS2, t); err != nil {
		return errors.Annotate(err, "TCSETS2")
	}
	return errors.Trace(unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH))
}
