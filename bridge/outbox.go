package bridge

import (
	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
)

// Outbox items are stored as MQTT PUBLISH frames.

func encodeOutbox(topic string, payload []byte, qos int, retain bool) ([]byte, error) {
	p := packet.NewPublish()
	p.ID = 1
	p.Message.Topic = topic
	p.Message.Payload = payload
	p.Message.QOS = packet.QOS(qos)
	p.Message.Retain = retain
	b := make([]byte, p.Len())
	if _, err := p.Encode(b); err != nil {
		return nil, errors.Annotatef(err, "outbox encode topic=%s", topic)
	}
	return b, nil
}

func decodeOutbox(b []byte) (*packet.Publish, error) {
	p := packet.NewPublish()
	if _, err := p.Decode(b); err != nil {
		return nil, errors.Annotate(err, "outbox decode")
	}
	return p, nil
}
