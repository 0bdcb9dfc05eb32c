// Package config reads bridge configuration from HCL files.
package config

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/yunbridge/hardware/uart"
	yun "github.com/temoto/yunbridge/hardware/yun-client"
	"github.com/temoto/yunbridge/helpers"
	"github.com/temoto/yunbridge/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Uart struct {
		Device    string `hcl:"device"`
		Driver    string `hcl:"driver"`
		EchoExtra int    `hcl:"echo_extra"`
	} `hcl:"uart"`

	Runtime struct {
		Dir    string `hcl:"dir"`
		Launch string `hcl:"launch"`
	} `hcl:"runtime"`

	Timeouts struct {
		EchoMs  int `hcl:"echo_ms"`
		ReplyMs int `hcl:"reply_ms"`
		BootMs  int `hcl:"boot_ms"`
		ExitMs  int `hcl:"exit_ms"`
	} `hcl:"timeouts"`

	Mqtt struct {
		ClientId            string         `hcl:"client_id"`
		CleanSession        *bool          `hcl:"clean_session"`
		Version             int            `hcl:"version"`
		Host                string         `hcl:"host"`
		Port                int            `hcl:"port"`
		CaFile              string         `hcl:"ca_file"`
		KeyFile             string         `hcl:"key_file"`
		CertFile            string         `hcl:"cert_file"`
		KeepaliveSec        int            `hcl:"keepalive_sec"`
		DrainingIntervalSec float64        `hcl:"draining_interval_sec"`
		OfflineQueueSize    int            `hcl:"offline_queue_size"`
		OfflineQueueDrop    *int           `hcl:"offline_queue_drop"`
		Subscribe           []Subscription `hcl:"subscribe"`
	} `hcl:"mqtt"`

	Shadow struct {
		Thing string `hcl:"thing"`
		Delta bool   `hcl:"delta"`
	} `hcl:"shadow"`

	Bridge struct {
		YieldIntervalMs    int    `hcl:"yield_interval_ms"`
		YieldMaxIntervalMs int    `hcl:"yield_max_interval_ms"`
		OutboxPath         string `hcl:"outbox_path"`
	} `hcl:"bridge"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type Subscription struct {
	Topic string `hcl:"topic,key"`
	Qos   int    `hcl:"qos"`
}

const (
	DefaultDevice        = "/dev/ttyATH0"
	DefaultClientId      = "yun"
	DefaultPort          = 8883
	DefaultYieldInterval = 200 * time.Millisecond
	DefaultYieldMax      = 5 * time.Second
	DefaultOutboxPath    = "/var/lib/yunbridge/outbox"
	defaultMqttVersion   = int(yun.MQTTv311)
)

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.AlreadyExistsf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Read parses names in order, later values override earlier ones.
// With OsFullReader, includes are relative to directory of first name.
func Read(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]Read() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustRead(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := Read(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func (c *Config) Validate() error {
	switch c.Uart.Driver {
	case "", uart.DriverSerial, uart.DriverFile, uart.DriverMock:
	default:
		return errors.NotValidf("uart.driver=%s", c.Uart.Driver)
	}
	if v := c.Mqtt.Version; v != 0 && v != int(yun.MQTTv31) && v != int(yun.MQTTv311) {
		return errors.NotValidf("mqtt.version=%d", v)
	}
	if p := c.Mqtt.Port; p < 0 || p > 65535 {
		return errors.NotValidf("mqtt.port=%d", p)
	}
	if c.Mqtt.DrainingIntervalSec < 0 {
		return errors.NotValidf("mqtt.draining_interval_sec=%v", c.Mqtt.DrainingIntervalSec)
	}
	if c.Mqtt.OfflineQueueSize < 0 {
		return errors.NotValidf("mqtt.offline_queue_size=%d", c.Mqtt.OfflineQueueSize)
	}
	if d := c.Mqtt.OfflineQueueDrop; d != nil && *d != int(yun.DropOldest) && *d != int(yun.DropNewest) {
		return errors.NotValidf("mqtt.offline_queue_drop=%d", *d)
	}
	for _, s := range c.Mqtt.Subscribe {
		if s.Topic == "" || s.Qos < 0 || s.Qos > 1 {
			return errors.NotValidf("mqtt.subscribe topic='%s' qos=%d", s.Topic, s.Qos)
		}
	}
	if c.Shadow.Delta && c.Shadow.Thing == "" {
		return errors.NotValidf("shadow.delta without shadow.thing")
	}
	return nil
}

// ClientConfig converts to yun.Config, zero timeouts keep client defaults.
func (c *Config) ClientConfig() yun.Config {
	t := yun.DefaultTimeouts()
	t.Echo = helpers.IntMillisecondDefault(c.Timeouts.EchoMs, t.Echo)
	t.Reply = helpers.IntMillisecondDefault(c.Timeouts.ReplyMs, t.Reply)
	t.Boot = helpers.IntMillisecondDefault(c.Timeouts.BootMs, t.Boot)
	t.Exit = helpers.IntMillisecondDefault(c.Timeouts.ExitMs, t.Exit)
	return yun.Config{
		Device:        c.Device(),
		EchoExtra:     c.Uart.EchoExtra,
		RuntimeDir:    c.Runtime.Dir,
		RuntimeLaunch: c.Runtime.Launch,
		Timeouts:      t,
	}
}

func (c *Config) Device() string {
	if c.Uart.Device == "" {
		return DefaultDevice
	}
	return c.Uart.Device
}

func (c *Config) Driver() string {
	if c.Uart.Driver == "" {
		return uart.DriverSerial
	}
	return c.Uart.Driver
}

func (c *Config) ClientId() string {
	if c.Mqtt.ClientId == "" {
		return DefaultClientId
	}
	return c.Mqtt.ClientId
}

func (c *Config) CleanSession() bool {
	return c.Mqtt.CleanSession == nil || *c.Mqtt.CleanSession
}

func (c *Config) MQTTVersion() yun.MQTTVersion {
	if c.Mqtt.Version == 0 {
		return yun.MQTTVersion(defaultMqttVersion)
	}
	return yun.MQTTVersion(c.Mqtt.Version)
}

func (c *Config) Port() int {
	if c.Mqtt.Port == 0 {
		return DefaultPort
	}
	return c.Mqtt.Port
}

func (c *Config) Keepalive() time.Duration {
	return helpers.IntSecondDefault(c.Mqtt.KeepaliveSec, yun.DefaultKeepalive)
}

// DrainingInterval returns 0 when not configured.
func (c *Config) DrainingInterval() time.Duration {
	return time.Duration(c.Mqtt.DrainingIntervalSec * float64(time.Second))
}

// OfflineQueue returns ok=false when queueing is not configured.
func (c *Config) OfflineQueue() (size int, drop yun.DropBehavior, ok bool) {
	if c.Mqtt.OfflineQueueDrop == nil && c.Mqtt.OfflineQueueSize == 0 {
		return 0, 0, false
	}
	drop = yun.DropNewest
	if c.Mqtt.OfflineQueueDrop != nil {
		drop = yun.DropBehavior(*c.Mqtt.OfflineQueueDrop)
	}
	return c.Mqtt.OfflineQueueSize, drop, true
}

func (c *Config) YieldInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.Bridge.YieldIntervalMs, DefaultYieldInterval)
}

func (c *Config) YieldMaxInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.Bridge.YieldMaxIntervalMs, DefaultYieldMax)
}

func (c *Config) OutboxPath() string {
	if c.Bridge.OutboxPath == "" {
		return DefaultOutboxPath
	}
	return c.Bridge.OutboxPath
}
