// Package bridge keeps remote IoT runtime session alive: connects,
// subscribes, polls inbound messages and publishes persistent outbox.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
	"github.com/temoto/yunbridge/config"
	"github.com/temoto/yunbridge/hardware/uart"
	yun "github.com/temoto/yunbridge/hardware/yun-client"
	"github.com/temoto/yunbridge/helpers"
	"github.com/temoto/yunbridge/log2"
)

const modName string = "bridge"

// consecutive protocol errors from yield before runtime is set up again
const restartAfter = 3

// MessageFunc receives inbound messages. Topic is subscription filter,
// remote runtime does not report concrete topic. Payload is only valid
// during call.
type MessageFunc func(topic string, payload []byte)

type Stat struct {
	Yield     uint32
	Received  uint32
	Published uint32
	Requeued  uint32
	Dropped   uint32
	Restart   uint32
	Errors    uint32 // logged by bridge or client
}

type Bridge struct {
	Log       *log2.Log
	OnMessage MessageFunc

	cfg    *config.Config
	alive  *alive.Alive
	q      *spq.Queue
	mu     sync.Mutex // serializes client
	client *yun.Client

	stopOnce sync.Once

	smu  sync.Mutex
	stat Stat
}

func New(cfg *config.Config, u uart.Uarter, log *log2.Log) (*Bridge, error) {
	q, err := spq.Open(cfg.OutboxPath())
	if err != nil {
		return nil, errors.Annotate(err, "bridge outbox")
	}
	self := &Bridge{
		Log:   log.Clone(log.Level()),
		cfg:   cfg,
		alive: alive.NewAlive(),
		q:     q,
	}
	self.Log.SetErrorFunc(func(error) { self.incStat(func(s *Stat) { s.Errors++ }) })
	self.client = yun.NewClient(cfg.ClientConfig(), u, self.Log)
	return self, nil
}

// Start runs setup sequence, each failure annotated with step name.
func (self *Bridge) Start(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	c, cfg := self.client, self.cfg

	if err := c.Setup(cfg.ClientId(), cfg.CleanSession(), cfg.MQTTVersion()); err != nil {
		return errors.Annotate(err, "setup")
	}
	if err := c.Configure(cfg.Mqtt.Host, cfg.Port(), cfg.Mqtt.CaFile, cfg.Mqtt.KeyFile, cfg.Mqtt.CertFile); err != nil {
		return errors.Annotate(err, "config")
	}
	if d := cfg.DrainingInterval(); d != 0 {
		if err := c.SetDrainingInterval(d); err != nil {
			return errors.Annotate(err, "draining interval")
		}
	}
	if size, drop, ok := cfg.OfflineQueue(); ok {
		if err := c.ConfigOfflineQueueing(size, drop); err != nil {
			return errors.Annotate(err, "offline queueing")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Connect(cfg.Keepalive()); err != nil {
		return errors.Annotate(err, "connect")
	}
	for _, s := range cfg.Mqtt.Subscribe {
		if err := c.Subscribe(s.Topic, s.Qos, self.sink(s.Topic)); err != nil {
			return errors.Annotatef(err, "subscribe topic=%s", s.Topic)
		}
	}
	if thing := cfg.Shadow.Thing; thing != "" {
		if err := c.ShadowInit(thing); err != nil {
			return errors.Annotate(err, "shadow init")
		}
		if cfg.Shadow.Delta {
			delta := "$aws/things/" + thing + "/shadow/update/delta"
			if err := c.ShadowRegisterDelta(thing, self.sink(delta)); err != nil {
				return errors.Annotate(err, "shadow delta")
			}
		}
	}
	self.Log.Infof("%s started baud=%s subscriptions=%d", modName, c.BaudType(), c.Subscriptions())
	return nil
}

// StartRetry repeats Start with growing delay until success or ctx is done.
// Argument errors are returned at once, retry cannot fix config.
func (self *Bridge) StartRetry(ctx context.Context) error {
	retry := helpers.Backoff{Min: self.cfg.YieldInterval(), Max: self.cfg.YieldMaxInterval(), K: 2}
	for {
		err := self.Start(ctx)
		if err == nil || yun.KindOf(err) == yun.KindArgument {
			return err
		}
		if ctx.Err() != nil {
			return errors.Annotatef(ctx.Err(), "last error: %v", err)
		}
		retry.Failure()
		self.Log.Errorf("%s start err=%v retry in %s", modName, err, retry.Next())
		select {
		case <-ctx.Done():
			return errors.Annotatef(ctx.Err(), "last error: %v", err)
		case <-time.After(retry.Next()):
		}
	}
}

// Run polls inbound messages and drains outbox until ctx is done or Stop.
func (self *Bridge) Run(ctx context.Context) error {
	if !self.alive.Add(2) {
		return errors.New("bridge stopped")
	}
	go self.qworker()
	defer self.alive.Done()

	b := helpers.Backoff{Min: self.cfg.YieldInterval(), Max: self.cfg.YieldMaxInterval(), K: 2}
	broken := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-self.alive.StopChan():
			return nil
		case <-time.After(b.Next()):
		}

		traffic, err := self.yield()
		switch {
		case err == nil:
			broken = 0
		case yun.CodeOf(err) == yun.PayloadOverflow:
			broken = 0
			self.Log.Errorf("%s yield %v", modName, err)
		default:
			self.Log.Errorf("%s yield %v", modName, err)
			b.Failure()
			if yun.KindOf(err) != yun.KindProtocol {
				broken = 0
				continue
			}
			if broken++; broken < restartAfter {
				continue
			}
			broken = 0
			self.incStat(func(s *Stat) { s.Restart++ })
			self.Log.Errorf("%s runtime lost, setup again", modName)
			if err = self.restart(ctx); err != nil {
				if !self.alive.IsRunning() {
					return nil
				}
				return errors.Annotate(err, "restart")
			}
			b.Reset()
			continue
		}
		b.Update(traffic)
	}
}

// restart is StartRetry also interrupted by Stop.
func (self *Bridge) restart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-self.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()
	return self.StartRetry(ctx)
}

func (self *Bridge) yield() (bool, error) {
	var traffic bool
	var err error
	helpers.WithLock(&self.mu, func() {
		before := self.client.Stat().Message
		err = self.client.Yield()
		traffic = self.client.Stat().Message != before
	})
	self.incStat(func(s *Stat) { s.Yield++ })
	return traffic, err
}

// Publish enqueues message into persistent outbox.
func (self *Bridge) Publish(topic string, payload []byte, qos int, retain bool) error {
	if topic == "" || len(payload) >= yun.MaxBufSize {
		return errors.NotValidf("publish topic=%s payload length=%d", topic, len(payload))
	}
	b, err := encodeOutbox(topic, payload, qos, retain)
	if err != nil {
		return err
	}
	return self.q.Push(b)
}

// Stop is safe to call more than once.
func (self *Bridge) Stop() {
	self.stopOnce.Do(self.stop)
}

func (self *Bridge) stop() {
	self.alive.Stop()
	self.q.Close()
	self.alive.Wait()

	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.client.Disconnect(); err != nil {
		self.Log.Debugf("%s stop disconnect err=%v", modName, err)
	}
	if err := self.client.Close(); err != nil {
		self.Log.Errorf("%s stop close err=%v", modName, err)
	}
}

func (self *Bridge) Stat() Stat {
	self.smu.Lock()
	defer self.smu.Unlock()
	return self.stat
}

// ClientStat returns serial exchange counters.
func (self *Bridge) ClientStat() yun.Stat { return self.client.Stat() }

func (self *Bridge) incStat(f func(*Stat)) {
	helpers.WithLock(&self.smu, func() { f(&self.stat) })
}

func (self *Bridge) sink(topic string) yun.Handler {
	return yun.HandlerFunc(func(payload []byte) {
		self.incStat(func(s *Stat) { s.Received++ })
		if self.OnMessage != nil {
			self.OnMessage(topic, payload)
		}
	})
}

func (self *Bridge) qworker() {
	defer self.alive.Done()
	retry := helpers.Backoff{Min: self.cfg.YieldInterval(), Max: self.cfg.YieldMaxInterval(), K: 2}
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			del, err := self.qhandle(b)
			if err != nil {
				self.Log.Errorf("%s outbox handle err=%v", modName, err)
			}
			if del {
				if err = self.q.Delete(box); err != nil {
					self.Log.Errorf("%s outbox Delete err=%v", modName, err)
				}
				retry.Reset()
				continue
			}
			self.incStat(func(s *Stat) { s.Requeued++ })
			if err = self.q.DeletePush(box); err != nil {
				self.Log.Errorf("%s outbox DeletePush err=%v", modName, err)
			}
			retry.Failure()
			select {
			case <-self.alive.StopChan():
				return
			case <-time.After(retry.Next()):
			}

		case spq.ErrClosed:
			select {
			case <-self.alive.StopChan(): // success path
			default:
				self.Log.Errorf("CRITICAL %s outbox closed unexpectedly", modName)
			}
			return

		default:
			self.Log.Errorf("CRITICAL %s outbox err=%v", modName, err)
			select {
			case <-self.alive.StopChan():
				return
			case <-time.After(retry.Next()):
			}
		}
	}
}

// qhandle returns true when item must be deleted: sent or never sendable.
func (self *Bridge) qhandle(b []byte) (bool, error) {
	p, err := decodeOutbox(b)
	if err != nil {
		self.incStat(func(s *Stat) { s.Dropped++ })
		return true, err
	}
	helpers.WithLock(&self.mu, func() {
		err = self.client.Publish(p.Message.Topic, string(p.Message.Payload), int(p.Message.QOS), p.Message.Retain)
	})
	switch {
	case err == nil:
		self.incStat(func(s *Stat) { s.Published++ })
		return true, nil
	case yun.KindOf(err) == yun.KindArgument:
		self.incStat(func(s *Stat) { s.Dropped++ })
		return true, err
	}
	return false, err
}
