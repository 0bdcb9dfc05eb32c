// Package fakeyun emulates remote IoT runtime behind serial line protocol:
// login shell until launch command, then count-prefixed requests
// answered with status tokens. Messaging is delegated to Backend.
package fakeyun

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/yunbridge/log2"
)

const modName string = "fakeyun"

const RequestTimeoutMessage = "REQUEST TIME OUT"

const (
	DefaultLaunch        = "python run.py"
	DefaultDrainInterval = 500 * time.Millisecond

	maxRequestLines = 6
)

type Options struct {
	Launch    string
	ChunkSize int
}

type shadowPending struct {
	handle int
	timer  *time.Timer
}

type Runtime struct {
	Log *log2.Log

	opt     Options
	backend Backend
	alive   *alive.Alive
	inbox   *inbox
	offline *offlineQueue

	mu    sync.Mutex
	proto bool
	want  int
	lines []string

	setup         bool
	clientID      string
	clean         bool
	endpoint      Endpoint
	drainInterval time.Duration
	draining      bool
	subs          map[string]int  // topic -> handle
	shadows       map[string]bool // initialized things
	replySubs     map[string]bool // shadow response topics
	deltas        map[string]int  // thing -> handle

	pmu      sync.Mutex
	requests map[string]*shadowPending // thing/op
}

func NewRuntime(b Backend, opt Options, log *log2.Log) *Runtime {
	if opt.Launch == "" {
		opt.Launch = DefaultLaunch
	}
	self := &Runtime{
		Log:      log,
		opt:      opt,
		backend:  b,
		alive:    alive.NewAlive(),
		inbox:    newInbox(opt.ChunkSize),
		requests: make(map[string]*shadowPending),
	}
	self.resetState()
	return self
}

func (self *Runtime) resetState() {
	self.setup = false
	self.clientID = ""
	self.endpoint = Endpoint{}
	self.drainInterval = DefaultDrainInterval
	self.offline = newOfflineQueue(DefaultOfflineQueueSize, DropNewest)
	self.subs = make(map[string]int)
	self.shadows = make(map[string]bool)
	self.replySubs = make(map[string]bool)
	self.deltas = make(map[string]int)
}

func (self *Runtime) Close() {
	self.alive.Stop()
	self.pmu.Lock()
	for k, p := range self.requests {
		p.timer.Stop()
		delete(self.requests, k)
	}
	self.pmu.Unlock()
	self.alive.Wait()
}

// InProtocol reports whether launch command was received and not exited.
func (self *Runtime) InProtocol() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.proto
}

// Queued returns number of messages waiting for yield.
func (self *Runtime) Queued() int { return self.inbox.len() }

// Deliver queues message for handle as if it arrived from broker.
func (self *Runtime) Deliver(handle int, payload []byte) { self.inbox.push(handle, payload) }

// HandleLine consumes one input line (without newline) and returns reply lines.
func (self *Runtime) HandleLine(line string) []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	line = strings.TrimRight(line, "\r")
	if !self.proto {
		return self.shell(line)
	}
	if line == "~" {
		self.Log.Debugf("%s exit protocol", modName)
		self.proto = false
		self.want = 0
		self.lines = nil
		return nil
	}
	if self.want == 0 {
		if line == "" {
			return nil
		}
		n, err := strconv.Atoi(line)
		if err != nil || n <= 0 || n > maxRequestLines {
			self.Log.Errorf("%s invalid count line=%q", modName, line)
			return nil
		}
		self.want = n
		self.lines = self.lines[:0]
		return nil
	}
	self.lines = append(self.lines, line)
	if len(self.lines) < self.want {
		return nil
	}
	self.want = 0
	reply := self.execute(self.lines[0], self.lines[1:])
	self.Log.Debugf("%s request=%q reply=%q", modName, self.lines, reply)
	if reply == "" {
		return nil
	}
	return []string{reply}
}

func (self *Runtime) shell(line string) []string {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 0:
		return nil
	case line == self.opt.Launch:
		self.Log.Debugf("%s enter protocol", modName)
		self.proto = true
		self.want = 0
		return nil
	case fields[0] == "uname":
		return []string{"Linux"}
	case fields[0] == "cd":
		return nil
	}
	return []string{"-ash: " + fields[0] + ": not found"}
}

// Serve runs line protocol over byte stream until ctx is done or r returns EOF.
// With echo, every input byte is written back like tty does.
func (self *Runtime) Serve(ctx context.Context, r io.Reader, w io.Writer, echo bool) error {
	if !self.alive.Add(1) {
		return errors.New("runtime closed")
	}
	defer self.alive.Done()

	buf := make([]byte, 256)
	line := make([]byte, 0, 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-self.alive.StopChan():
			return nil
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			if echo {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return errors.Annotate(werr, "echo")
				}
			}
			for _, b := range buf[:n] {
				switch b {
				case '\r':
				case '\n':
					for _, reply := range self.HandleLine(string(line)) {
						if _, werr := io.WriteString(w, reply+"\n"); werr != nil {
							return errors.Annotate(werr, "reply")
						}
					}
					line = line[:0]
				default:
					line = append(line, b)
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotate(err, "read")
		}
	}
}
