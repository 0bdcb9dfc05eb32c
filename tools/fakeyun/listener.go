package fakeyun

import (
	"net"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/yunbridge/log2"
)

// Listener exposes Broker over MQTT 3.1.1 TCP, so real clients
// (Paho backend of another fakeyun, mosquitto_sub) can talk to it.
// QoS is downgraded to 0 on delivery, QoS 2 publish closes connection.
type Listener struct {
	broker *Broker
	log    *log2.Log
	alive  *alive.Alive
	ns     *transport.NetServer

	mu    sync.Mutex
	conns map[transport.Conn]struct{}
}

type listenerConn struct {
	conn transport.Conn
	id   string
	smu  sync.Mutex
	subs map[string]*brokerSub
}

func Listen(b *Broker, addr string, log *log2.Log) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "net.Listen address=%s", addr)
	}
	self := &Listener{
		broker: b,
		log:    log,
		alive:  alive.NewAlive(),
		ns:     transport.NewNetServer(l),
		conns:  make(map[transport.Conn]struct{}),
	}
	self.alive.Add(1)
	go self.acceptLoop()
	self.log.Infof("%s mqtt listen addr=%s", modName, self.Addr())
	return self, nil
}

func (self *Listener) Addr() string { return self.ns.Addr().String() }

func (self *Listener) Close() error {
	self.alive.Stop()
	err := self.ns.Close()
	self.mu.Lock()
	for c := range self.conns {
		_ = c.Close()
	}
	self.mu.Unlock()
	self.alive.Wait()
	return errors.Annotate(err, "listener close")
}

func (self *Listener) acceptLoop() {
	defer self.alive.Done()
	for {
		conn, err := self.ns.Accept()
		if !self.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			self.log.Error(errors.Annotate(err, "mqtt accept"))
			self.alive.Stop()
			return
		}
		if !self.alive.Add(1) {
			_ = conn.Close()
			return
		}
		self.mu.Lock()
		self.conns[conn] = struct{}{}
		self.mu.Unlock()
		go self.processConn(conn)
	}
}

func (self *Listener) processConn(conn transport.Conn) {
	defer self.alive.Done()
	lc := &listenerConn{conn: conn, subs: make(map[string]*brokerSub)}
	defer func() {
		lc.smu.Lock()
		for _, s := range lc.subs {
			self.broker.Unsubscribe(s)
		}
		lc.subs = nil
		lc.smu.Unlock()
		self.mu.Lock()
		delete(self.conns, conn)
		self.mu.Unlock()
		_ = conn.Close()
	}()

	if err := self.onConnect(lc); err != nil {
		self.log.Infof("%s mqtt connect addr=%s err=%v", modName, conn.RemoteAddr(), err)
		return
	}
	for self.alive.IsRunning() {
		pkt, err := conn.Receive()
		if err != nil {
			self.log.Debugf("%s mqtt id=%s receive err=%v", modName, lc.id, err)
			return
		}
		done, err := self.processPacket(lc, pkt)
		if err != nil {
			self.log.Errorf("%s mqtt id=%s pkt=%s err=%v", modName, lc.id, pkt.String(), err)
			return
		}
		if done {
			return
		}
	}
}

func (self *Listener) onConnect(lc *listenerConn) error {
	pkt, err := lc.conn.Receive()
	if err != nil {
		return errors.Trace(err)
	}
	pc, ok := pkt.(*packet.Connect)
	if !ok {
		return errors.Errorf("expected CONNECT received=%s", pkt.String())
	}
	lc.id = pc.ClientID
	if pc.KeepAlive != 0 {
		lc.conn.SetReadTimeout(time.Duration(pc.KeepAlive) * 1500 * time.Millisecond)
	}
	connack := packet.NewConnack()
	connack.ReturnCode = packet.ConnectionAccepted
	self.log.Debugf("%s mqtt connected id=%s clean=%t", modName, lc.id, pc.CleanSession)
	return lc.send(connack)
}

// processPacket returns done=true on DISCONNECT.
func (self *Listener) processPacket(lc *listenerConn, pkt packet.Generic) (bool, error) {
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		return false, lc.send(packet.NewPingresp())

	case *packet.Publish:
		switch pt.Message.QOS {
		case packet.QOSAtMostOnce:
		case packet.QOSAtLeastOnce:
			puback := packet.NewPuback()
			puback.ID = pt.ID
			defer func() { _ = lc.send(puback) }()
		default:
			return false, errors.NotSupportedf("qos=%d", pt.Message.QOS)
		}
		self.broker.Publish(pt.Message.Topic, pt.Message.Payload, pt.Message.Retain)
		return false, nil

	case *packet.Subscribe:
		suback := packet.NewSuback()
		suback.ID = pt.ID
		for range pt.Subscriptions {
			suback.ReturnCodes = append(suback.ReturnCodes, packet.QOSAtMostOnce)
		}
		if err := lc.send(suback); err != nil {
			return false, err
		}
		for _, s := range pt.Subscriptions {
			self.subscribe(lc, s.Topic)
		}
		return false, nil

	case *packet.Unsubscribe:
		lc.smu.Lock()
		for _, t := range pt.Topics {
			if s, ok := lc.subs[t]; ok {
				self.broker.Unsubscribe(s)
				delete(lc.subs, t)
			}
		}
		lc.smu.Unlock()
		unsuback := packet.NewUnsuback()
		unsuback.ID = pt.ID
		return false, lc.send(unsuback)

	case *packet.Disconnect:
		self.log.Debugf("%s mqtt disconnect id=%s", modName, lc.id)
		return true, nil

	default:
		return false, errors.NotSupportedf("packet=%s", pkt.String())
	}
}

func (self *Listener) subscribe(lc *listenerConn, pattern string) {
	lc.smu.Lock()
	if old, ok := lc.subs[pattern]; ok {
		self.broker.Unsubscribe(old)
	}
	lc.smu.Unlock()

	sub := self.broker.Subscribe(pattern, func(t string, p []byte) {
		pub := packet.NewPublish()
		pub.Message.Topic = t
		pub.Message.Payload = p
		if err := lc.send(pub); err != nil {
			self.log.Debugf("%s mqtt id=%s deliver topic=%s err=%v", modName, lc.id, t, err)
		}
	})
	lc.smu.Lock()
	if lc.subs == nil { // connection closed meanwhile
		lc.smu.Unlock()
		self.broker.Unsubscribe(sub)
		return
	}
	lc.subs[pattern] = sub
	lc.smu.Unlock()
}

func (lc *listenerConn) send(pkt packet.Generic) error {
	return errors.Annotatef(lc.conn.Send(pkt, false), "send %s", pkt.Type())
}
