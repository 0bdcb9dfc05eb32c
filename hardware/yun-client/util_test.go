package yun

import (
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/temoto/yunbridge/hardware/uart"
	"github.com/temoto/yunbridge/helpers"
	"github.com/temoto/yunbridge/log2"
)

// Helpers for testing yun package

const testDevice = "/dev/mock-yun"

type tenv struct {
	t      testing.TB
	rand   *rand.Rand
	log    *log2.Log
	config Config
	proto  *protoResponder
	shell  *shellResponder
	uart   *uart.Mock
	client *Client
}

func fastTimeouts() Timeouts {
	return Timeouts{
		Ready:     10 * time.Millisecond,
		Echo:      20 * time.Millisecond,
		EchoPoll:  time.Millisecond,
		Settle:    time.Millisecond,
		Reply:     30 * time.Millisecond,
		ReplyPoll: time.Millisecond,
		Boot:      time.Millisecond,
		Exit:      time.Millisecond,
	}
}

// testEnv returns client with port open and runtime in protocol mode.
func testEnv(t testing.TB) *tenv {
	env := &tenv{
		t:     t,
		rand:  helpers.RandUnix(),
		log:   log2.NewTest(t, log2.LDebug),
		proto: &protoResponder{},
	}
	env.shell = &shellResponder{proto: env.proto, launch: DefaultRuntimeLaunch}
	env.uart = uart.NewMock(env.shell)
	env.config = Config{Device: testDevice, Timeouts: fastTimeouts()}
	env.client = NewClient(env.config, env.uart, env.log)
	require.NoError(t, env.uart.Open(testDevice, BaudDefault))
	env.shell.active = true
	return env
}

// replyAll answers every request with s.
func (env *tenv) replyAll(s string) {
	env.proto.setHandle(func([]string) string { return s })
}

// protoResponder parses count line + N lines requests.
type protoResponder struct {
	mu      sync.Mutex
	pending []string
	want    int
	handle  func(req []string) string
	reqs    [][]string
}

func (p *protoResponder) setHandle(f func(req []string) string) {
	p.mu.Lock()
	p.handle = f
	p.mu.Unlock()
}

func (p *protoResponder) requests() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.reqs...)
}

func (p *protoResponder) reset() {
	p.mu.Lock()
	p.reqs = nil
	p.pending = nil
	p.want = 0
	p.mu.Unlock()
}

func (p *protoResponder) HandleLine(line string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.want == 0 {
		n, err := strconv.Atoi(line)
		if err != nil || n <= 0 {
			return []string{"protocol error"}
		}
		p.want = n
		p.pending = nil
		return nil
	}
	p.pending = append(p.pending, line)
	if len(p.pending) < p.want {
		return nil
	}
	p.want = 0
	req := p.pending
	p.reqs = append(p.reqs, req)
	if p.handle == nil {
		return nil
	}
	if r := p.handle(req); r != "" {
		return []string{r}
	}
	return nil
}

// shellResponder plays login shell until launch command, then protocol.
type shellResponder struct {
	proto  *protoResponder
	launch string
	active bool
	lines  []string
}

func (s *shellResponder) HandleLine(line string) []string {
	s.lines = append(s.lines, line)
	if s.active {
		if line == "~" {
			s.active = false
			s.proto.reset()
			return nil
		}
		return s.proto.HandleLine(line)
	}
	switch line {
	case "":
		return nil
	case "uname":
		return []string{"Linux"}
	case s.launch:
		s.active = true
		return nil
	}
	if len(line) > 3 && line[:3] == "cd " {
		return nil
	}
	return []string{"-ash: " + line + ": not found"}
}

func (s *shellResponder) count(line string) int {
	n := 0
	for _, l := range s.lines {
		if l == line {
			n++
		}
	}
	return n
}

// chunkQueue serves yield requests from prepared chunk replies.
type chunkQueue struct {
	mu     sync.Mutex
	chunks []string
	lock   string
}

func newChunkQueue(chunks ...string) *chunkQueue {
	return &chunkQueue{chunks: chunks, lock: "Z T"}
}

func (q *chunkQueue) handle(req []string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch req[0] {
	case "z":
		return q.lock
	case "y":
		if len(q.chunks) == 0 {
			return "Y F"
		}
		c := q.chunks[0]
		q.chunks = q.chunks[1:]
		return c
	}
	return ""
}

type handlerMock struct{ mock.Mock }

func (m *handlerMock) OnMessage(payload []byte) { m.Called(string(payload)) }

// recorder collects delivered payloads, copies since payload is reused.
type recorder struct{ msgs []string }

func (r *recorder) OnMessage(payload []byte) { r.msgs = append(r.msgs, string(payload)) }
