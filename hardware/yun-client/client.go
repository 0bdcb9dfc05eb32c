// Package yun drives remote IoT runtime (MQTT client and thing shadow)
// over serial line protocol. Client is not safe for concurrent use.
package yun

import (
	"strconv"
	"strings"
	"time"

	"github.com/temoto/yunbridge/hardware/uart"
	"github.com/temoto/yunbridge/log2"
)

const modName string = "yun-client"
const logLevelExchange = log2.LDebug

type MQTTVersion uint8

const (
	MQTTv31  MQTTVersion = 3
	MQTTv311 MQTTVersion = 4
)

type Client struct {
	Log *log2.Log

	cfg      Config
	uart     uart.Uarter
	baudType BaudType
	subs     subTable
	stat     Stat
	busy     bool

	raw    [MaxBufSize]byte
	rawLen int

	acc         [MaxBufSize]byte
	accLen      int
	accOverflow bool
}

func NewClient(cfg Config, u uart.Uarter, log *log2.Log) *Client {
	cfg.applyDefaults()
	return &Client{
		Log:  log,
		cfg:  cfg,
		uart: u,
	}
}

func (self *Client) Close() error {
	self.enter()
	defer self.leave()
	return self.uart.Close()
}

func (self *Client) SetLog(log *log2.Log) { self.Log = log }

// Reply returns last raw reply line, valid until next operation.
func (self *Client) Reply() string { return string(self.raw[:self.rawLen]) }

func (self *Client) BaudType() BaudType { return self.baudType }

func (self *Client) Stat() Stat { return self.stat.load() }

// Subscriptions returns number of used handle slots.
func (self *Client) Subscriptions() int { return self.subs.used() }

// Exec sends one raw line and waits for reply, for diagnostics.
func (self *Client) Exec(line string) string {
	self.enter()
	defer self.leave()
	return self.exec(line+"\n", true, false)
}

func (self *Client) Setup(clientID string, cleanSession bool, version MQTTVersion) error {
	const op = "setup"
	if err := checkParam(op, clientID, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	if self.findBaudType() == BaudTypeUnknown {
		return localError(op, SerialCommunicationError)
	}
	self.exec("cd "+self.cfg.RuntimeDir+"\n", false, false)
	self.exec(self.cfg.RuntimeLaunch+"\n", false, false)
	err := self.call(&famSetup, clientID, boolParam(cleanSession), strconv.Itoa(int(version)))
	if err == nil {
		// fresh runtime session knows no handles
		self.subs = subTable{}
	}
	return err
}

// Configure sets broker endpoint and TLS material paths. Empty string
// leaves runtime default.
func (self *Client) Configure(host string, port int, caFile, keyFile, certFile string) error {
	const op = "config"
	for _, s := range []string{host, caFile, keyFile, certFile} {
		if err := checkParam(op, s, false); err != nil {
			return err
		}
	}
	self.enter()
	defer self.leave()
	return self.call(&famConfig, host, strconv.Itoa(port), caFile, keyFile, certFile)
}

// Connect with keepalive, zero means DefaultKeepalive.
func (self *Client) Connect(keepalive time.Duration) error {
	if keepalive == 0 {
		keepalive = DefaultKeepalive
	}
	self.enter()
	defer self.leave()
	return self.call(&famConnect, secondsParam(keepalive))
}

func (self *Client) Publish(topic string, payload string, qos int, retain bool) error {
	const op = "publish"
	if err := checkParam(op, topic, true); err != nil {
		return err
	}
	if err := checkParam(op, payload, false); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.call(&famPublish, topic, payload, strconv.Itoa(qos), boolParam(retain))
}

func (self *Client) Subscribe(topic string, qos int, h Handler) error {
	const op = "subscribe"
	if err := checkParam(op, topic, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.callSlot(&famSubscribe, false, h, func(handle string) []string {
		return []string{topic, strconv.Itoa(qos), handle}
	})
}

func (self *Client) Unsubscribe(topic string) error {
	const op = "unsubscribe"
	if err := checkParam(op, topic, true); err != nil {
		return err
	}
	self.enter()
	defer self.leave()
	return self.callRelease(&famUnsubscribe, topic)
}

func (self *Client) Disconnect() error {
	self.enter()
	defer self.leave()
	return self.call(&famDisconnect)
}

// SetDrainingInterval configures pause between offline queue publishes.
func (self *Client) SetDrainingInterval(d time.Duration) error {
	self.enter()
	defer self.leave()
	return self.call(&famDrainingInterval, strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
}

type DropBehavior uint8

const (
	DropOldest DropBehavior = 0
	DropNewest DropBehavior = 1
)

// ConfigOfflineQueueing sets runtime offline publish queue size,
// 0 means unlimited. Runtime rejects negative size.
func (self *Client) ConfigOfflineQueueing(size int, drop DropBehavior) error {
	if drop > DropNewest {
		return localError(famOfflineQueue.name, WrongParameterError)
	}
	self.enter()
	defer self.leave()
	return self.call(&famOfflineQueue, strconv.Itoa(size), strconv.Itoa(int(drop)))
}

// call sends count line, op code line, params; only last line waits for reply.
func (self *Client) call(f *family, params ...string) error {
	self.send(f, params)
	return f.result(self.Reply())
}

func (self *Client) send(f *family, params []string) {
	self.exec(strconv.Itoa(len(params)+1)+"\n", false, false)
	self.exec(f.code+"\n", len(params) == 0, false)
	for i, p := range params {
		self.exec(p+"\n", i == len(params)-1, false)
	}
}

// callSlot claims handle slot for operation, committed only on success reply.
func (self *Client) callSlot(f *family, transactional bool, h Handler, params func(handle string) []string) error {
	i := self.subs.alloc()
	if i == MaxSub {
		return localError(f.name, OutOfSubscribeMemory)
	}
	self.send(f, params(strconv.Itoa(i)))
	if err := f.result(self.Reply()); err != nil {
		return err
	}
	self.subs.claim(i, transactional, h)
	return nil
}

func (self *Client) callRelease(f *family, params ...string) error {
	self.send(f, params)
	reply := self.Reply()
	if strings.HasPrefix(reply, f.ok) {
		return nil
	}
	if h := f.releaseHandle(reply); h >= 0 {
		self.subs.release(h)
		return nil
	}
	return f.result(reply)
}

// enter guards against reentrant use, e.g. Client call from Handler.
func (self *Client) enter() {
	if self.busy {
		panic("code error " + modName + " reentrant call, Client methods must not be used from Handler")
	}
	self.busy = true
}

func (self *Client) leave() { self.busy = false }

func checkParam(op, s string, required bool) error {
	if required && s == "" {
		return localError(op, NullValueError)
	}
	if len(s) >= MaxBufSize {
		return localError(op, OverflowError)
	}
	if strings.ContainsAny(s, "\r\n") {
		return localError(op, WrongParameterError)
	}
	return nil
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// secondsParam rounds up, so sub-second timeout never becomes "0".
func secondsParam(d time.Duration) string {
	if d > 0 {
		d += time.Second - 1
	}
	return strconv.Itoa(int(d / time.Second))
}
