package fakeyun

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

const shadowPrefix = "$aws/things/"

// ShadowTopic returns "$aws/things/<thing>/shadow/<op>[/<result>]".
func ShadowTopic(thing, op, result string) string {
	t := shadowPrefix + thing + "/shadow/" + op
	if result != "" {
		t += "/" + result
	}
	return t
}

// parseShadowTopic returns thing and rest after "/shadow/".
func parseShadowTopic(t string) (thing, rest string, ok bool) {
	if !strings.HasPrefix(t, shadowPrefix) {
		return "", "", false
	}
	t = t[len(shadowPrefix):]
	i := strings.Index(t, "/shadow/")
	if i <= 0 {
		return "", "", false
	}
	return t[:i], t[i+len("/shadow/"):], true
}

type shadowState struct {
	Desired  map[string]interface{} `json:"desired,omitempty"`
	Reported map[string]interface{} `json:"reported,omitempty"`
}

type shadowDoc struct {
	State   shadowState `json:"state"`
	Version int         `json:"version"`
}

type shadowRequest struct {
	State       *shadowState `json:"state"`
	ClientToken string       `json:"clientToken,omitempty"`
}

type shadowReply struct {
	State       interface{} `json:"state,omitempty"`
	Code        int         `json:"code,omitempty"`
	Message     string      `json:"message,omitempty"`
	Version     int         `json:"version,omitempty"`
	Timestamp   int64       `json:"timestamp"`
	ClientToken string      `json:"clientToken,omitempty"`
}

// ShadowService answers thing shadow requests published to Broker.
type ShadowService struct {
	broker *Broker
	mu     sync.Mutex
	docs   map[string]*shadowDoc
	subs   []*brokerSub
	now    func() time.Time
}

func NewShadowService(b *Broker) *ShadowService {
	self := &ShadowService{broker: b, docs: make(map[string]*shadowDoc), now: time.Now}
	for _, op := range []string{"get", "update", "delete"} {
		self.subs = append(self.subs, b.Subscribe(ShadowTopic("+", op, ""), self.onRequest))
	}
	return self
}

func (self *ShadowService) Close() {
	for _, s := range self.subs {
		self.broker.Unsubscribe(s)
	}
	self.subs = nil
}

// Document returns copy of current shadow JSON, nil if absent.
func (self *ShadowService) Document(thing string) []byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	d, ok := self.docs[thing]
	if !ok {
		return nil
	}
	b, _ := json.Marshal(d)
	return b
}

type outMsg struct {
	topic   string
	payload interface{}
}

func (self *ShadowService) onRequest(t string, payload []byte) {
	thing, op, ok := parseShadowTopic(t)
	if !ok {
		return
	}
	var req shadowRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			self.send([]outMsg{{ShadowTopic(thing, op, "rejected"), self.reject(400, "Invalid JSON", "")}})
			return
		}
	}

	self.mu.Lock()
	var out []outMsg
	switch op {
	case "get":
		out = self.get(thing, req)
	case "update":
		out = self.update(thing, req)
	case "delete":
		out = self.delete(thing, req)
	}
	self.mu.Unlock()
	self.send(out)
}

func (self *ShadowService) get(thing string, req shadowRequest) []outMsg {
	d, ok := self.docs[thing]
	if !ok {
		return []outMsg{{ShadowTopic(thing, "get", "rejected"),
			self.reject(404, fmt.Sprintf("No shadow exists with name: '%s'", thing), req.ClientToken)}}
	}
	return []outMsg{{ShadowTopic(thing, "get", "accepted"), shadowReply{
		State:       d.State,
		Version:     d.Version,
		Timestamp:   self.now().Unix(),
		ClientToken: req.ClientToken,
	}}}
}

func (self *ShadowService) update(thing string, req shadowRequest) []outMsg {
	if req.State == nil {
		return []outMsg{{ShadowTopic(thing, "update", "rejected"),
			self.reject(400, "Missing required node: state", req.ClientToken)}}
	}
	d, ok := self.docs[thing]
	if !ok {
		d = &shadowDoc{}
		self.docs[thing] = d
	}
	d.State.Desired = mergeState(d.State.Desired, req.State.Desired)
	d.State.Reported = mergeState(d.State.Reported, req.State.Reported)
	d.Version++
	ts := self.now().Unix()
	out := []outMsg{{ShadowTopic(thing, "update", "accepted"), shadowReply{
		State:       req.State,
		Version:     d.Version,
		Timestamp:   ts,
		ClientToken: req.ClientToken,
	}}}
	if delta := stateDelta(d.State); len(delta) != 0 && req.State.Desired != nil {
		out = append(out, outMsg{ShadowTopic(thing, "update", "delta"), shadowReply{
			State:     delta,
			Version:   d.Version,
			Timestamp: ts,
		}})
	}
	return out
}

func (self *ShadowService) delete(thing string, req shadowRequest) []outMsg {
	d, ok := self.docs[thing]
	if !ok {
		return []outMsg{{ShadowTopic(thing, "delete", "rejected"),
			self.reject(404, fmt.Sprintf("No shadow exists with name: '%s'", thing), req.ClientToken)}}
	}
	delete(self.docs, thing)
	return []outMsg{{ShadowTopic(thing, "delete", "accepted"), shadowReply{
		Version:     d.Version,
		Timestamp:   self.now().Unix(),
		ClientToken: req.ClientToken,
	}}}
}

func (self *ShadowService) reject(code int, msg, token string) shadowReply {
	return shadowReply{Code: code, Message: msg, Timestamp: self.now().Unix(), ClientToken: token}
}

func (self *ShadowService) send(out []outMsg) {
	for _, m := range out {
		b, err := json.Marshal(m.payload)
		if err != nil {
			panic(fmt.Sprintf("code error shadow reply marshal err=%v", err))
		}
		self.broker.Publish(m.topic, b, false)
	}
}

// mergeState applies update on top of current, null value deletes key.
func mergeState(current, update map[string]interface{}) map[string]interface{} {
	if update == nil {
		return current
	}
	if current == nil {
		current = make(map[string]interface{}, len(update))
	}
	for k, v := range update {
		if v == nil {
			delete(current, k)
			continue
		}
		if um, ok := v.(map[string]interface{}); ok {
			cm, _ := current[k].(map[string]interface{})
			if m := mergeState(cm, um); m != nil {
				current[k] = m
			} else {
				delete(current, k)
			}
			continue
		}
		current[k] = v
	}
	if len(current) == 0 {
		return nil
	}
	return current
}

// stateDelta returns desired keys whose value differs from reported.
func stateDelta(s shadowState) map[string]interface{} {
	delta := make(map[string]interface{})
	for k, dv := range s.Desired {
		if rv, ok := s.Reported[k]; !ok || !reflect.DeepEqual(dv, rv) {
			delta[k] = dv
		}
	}
	return delta
}
