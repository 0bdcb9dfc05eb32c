package fakeyun

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/yunbridge/log2"
)

const pahoTimeout = 10 * time.Second

// Paho backend connects to real MQTT broker. Endpoint host and port
// come from runtime config command; Broker overrides them when set.
type Paho struct {
	Broker string
	Log    *log2.Log

	mu sync.Mutex
	m  mqtt.Client
}

func NewPaho(broker string, log *log2.Log) *Paho {
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	return &Paho{Broker: broker, Log: log}
}

func (self *Paho) Connect(clientID string, clean bool, ep Endpoint, keepalive time.Duration) error {
	tlsconf, err := loadTLS(ep)
	if err != nil {
		return err
	}
	broker := self.Broker
	if broker == "" {
		scheme := "tcp"
		if tlsconf != nil {
			scheme = "ssl"
		}
		broker = fmt.Sprintf("%s://%s:%d", scheme, ep.Host, ep.Port)
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(broker).
		SetAutoReconnect(true).
		SetCleanSession(clean).
		SetClientID(clientID).
		SetConnectTimeout(pahoTimeout).
		SetKeepAlive(keepalive).
		SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
			self.Log.Errorf("%s unexpected mqtt message topic=%s", modName, msg.Topic())
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			self.Log.Infof("%s mqtt connection lost err=%v", modName, err)
		})
	if tlsconf != nil {
		mopt.SetTLSConfig(tlsconf)
	}

	m := mqtt.NewClient(mopt)
	if err = wait(m.Connect(), "connect"); err != nil {
		return err
	}
	self.mu.Lock()
	old := self.m
	self.m = m
	self.mu.Unlock()
	if old != nil {
		old.Disconnect(0)
	}
	self.Log.Infof("%s mqtt connected broker=%s", modName, broker)
	return nil
}

func (self *Paho) Disconnect() error {
	self.mu.Lock()
	m := self.m
	self.m = nil
	self.mu.Unlock()
	if m == nil {
		return errors.New("not connected")
	}
	m.Disconnect(250)
	return nil
}

func (self *Paho) IsConnected() bool {
	m := self.client()
	return m != nil && m.IsConnected()
}

func (self *Paho) Publish(topic string, payload []byte, qos byte, retain bool) error {
	m := self.client()
	if m == nil {
		return errors.New("not connected")
	}
	return wait(m.Publish(topic, qos, retain, payload), "publish")
}

func (self *Paho) Subscribe(topic string, qos byte, fn MessageFunc) error {
	m := self.client()
	if m == nil {
		return errors.New("not connected")
	}
	return wait(m.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Topic(), msg.Payload())
	}), "subscribe")
}

func (self *Paho) Unsubscribe(topic string) error {
	m := self.client()
	if m == nil {
		return errors.New("not connected")
	}
	return wait(m.Unsubscribe(topic), "unsubscribe")
}

func (self *Paho) client() mqtt.Client {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.m
}

func wait(t mqtt.Token, op string) error {
	if !t.WaitTimeout(pahoTimeout) {
		return errors.Timeoutf("mqtt %s", op)
	}
	return errors.Annotatef(t.Error(), "mqtt %s", op)
}

// loadTLS returns nil config when endpoint has no CA file.
func loadTLS(ep Endpoint) (*tls.Config, error) {
	if ep.CAFile == "" {
		return nil, nil
	}
	ca, err := ioutil.ReadFile(ep.CAFile)
	if err != nil {
		return nil, errors.Annotate(err, "tls ca")
	}
	tlsconf := &tls.Config{RootCAs: x509.NewCertPool()}
	if !tlsconf.RootCAs.AppendCertsFromPEM(ca) {
		return nil, errors.Errorf("tls ca file=%s no certificates", ep.CAFile)
	}
	if ep.CertFile != "" || ep.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(ep.CertFile, ep.KeyFile)
		if err != nil {
			return nil, errors.Annotate(err, "tls certificate")
		}
		tlsconf.Certificates = []tls.Certificate{cert}
	}
	return tlsconf, nil
}
