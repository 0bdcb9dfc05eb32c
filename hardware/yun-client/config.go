package yun

import "time"

const (
	MaxBufSize = 256
	MaxSub     = 15

	BaudDefault = 250000
	BaudLinino  = 115200

	// MaxParams is maximum number of parameter lines in one request.
	MaxParams    = 6
	exitAttempts = MaxParams/2 + 1

	OutOfBufferMessage = "OUT OF BUFFER SIZE"

	DefaultRuntimeDir    = "/root/AWS-IoT-Python-Runtime/runtime/"
	DefaultRuntimeLaunch = "python run.py"
	DefaultKeepalive     = 60 * time.Second
)

type Timeouts struct {
	Ready     time.Duration // wait for port after open
	Echo      time.Duration // whole echo phase budget
	EchoPoll  time.Duration
	Settle    time.Duration // pause between echo and reply
	Reply     time.Duration // whole reply wait budget
	ReplyPoll time.Duration
	Boot      time.Duration // after banner skip
	Exit      time.Duration // after cancellation tokens
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Ready:     time.Second,
		Echo:      500 * time.Millisecond,
		EchoPoll:  5 * time.Millisecond,
		Settle:    10 * time.Millisecond,
		Reply:     10 * time.Second,
		ReplyPoll: 100 * time.Millisecond,
		Boot:      time.Second,
		Exit:      1500 * time.Millisecond,
	}
}

type Config struct {
	Device string
	// EchoExtra bytes consumed as echo in addition to command length.
	// CR is never counted, so LF to CRLF expansion needs no extra.
	EchoExtra     int
	RuntimeDir    string
	RuntimeLaunch string
	Timeouts      Timeouts
}

func (c *Config) applyDefaults() {
	if c.RuntimeDir == "" {
		c.RuntimeDir = DefaultRuntimeDir
	}
	if c.RuntimeLaunch == "" {
		c.RuntimeLaunch = DefaultRuntimeLaunch
	}
	def := DefaultTimeouts()
	t := &c.Timeouts
	for _, p := range []struct{ v, d *time.Duration }{
		{&t.Ready, &def.Ready},
		{&t.Echo, &def.Echo},
		{&t.EchoPoll, &def.EchoPoll},
		{&t.Settle, &def.Settle},
		{&t.Reply, &def.Reply},
		{&t.ReplyPoll, &def.ReplyPoll},
		{&t.Boot, &def.Boot},
		{&t.Exit, &def.Exit},
	} {
		if *p.v == 0 {
			*p.v = *p.d
		}
	}
}
