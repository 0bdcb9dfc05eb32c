package fakeyun

import "time"

// Endpoint is broker address and TLS material from config command.
type Endpoint struct {
	Host     string
	Port     int
	CAFile   string
	KeyFile  string
	CertFile string
}

type MessageFunc func(topic string, payload []byte)

// Backend performs real messaging work on behalf of Runtime.
type Backend interface {
	Connect(clientID string, clean bool, ep Endpoint, keepalive time.Duration) error
	Disconnect() error
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(topic string, qos byte, fn MessageFunc) error
	Unsubscribe(topic string) error
}
