package yun

import (
	"fmt"
	"sync/atomic"
)

type Stat struct {
	Request      uint32
	WriteError   uint32
	EchoTimeout  uint32
	ReplyTimeout uint32
	Reset        uint32
	Message      uint32
	Overflow     uint32
	YieldError   uint32
}

func (s *Stat) inc(p *uint32) { atomic.AddUint32(p, 1) }

func (s *Stat) load() Stat {
	return Stat{
		Request:      atomic.LoadUint32(&s.Request),
		WriteError:   atomic.LoadUint32(&s.WriteError),
		EchoTimeout:  atomic.LoadUint32(&s.EchoTimeout),
		ReplyTimeout: atomic.LoadUint32(&s.ReplyTimeout),
		Reset:        atomic.LoadUint32(&s.Reset),
		Message:      atomic.LoadUint32(&s.Message),
		Overflow:     atomic.LoadUint32(&s.Overflow),
		YieldError:   atomic.LoadUint32(&s.YieldError),
	}
}

func (s Stat) String() string {
	return fmt.Sprintf("request=%d write_error=%d echo_timeout=%d reply_timeout=%d reset=%d message=%d overflow=%d yield_error=%d",
		s.Request, s.WriteError, s.EchoTimeout, s.ReplyTimeout, s.Reset, s.Message, s.Overflow, s.YieldError)
}
