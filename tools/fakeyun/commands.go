package fakeyun

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

type command struct {
	params int
	// token answered on parameter count mismatch
	bad string
	run func(self *Runtime, p []string) string
}

var commands = map[string]command{
	"i":    {3, "I F: Wrong number of parameters.", (*Runtime).cmdSetup},
	"g":    {5, "G2F: Wrong number of parameters.", (*Runtime).cmdConfig},
	"c":    {1, "C2F: Wrong number of parameters.", (*Runtime).cmdConnect},
	"p":    {4, "P2F: Wrong number of parameters.", (*Runtime).cmdPublish},
	"s":    {3, "S2F: Wrong number of parameters.", (*Runtime).cmdSubscribe},
	"u":    {1, "U2F: Wrong number of parameters.", (*Runtime).cmdUnsubscribe},
	"z":    {0, "Z F", (*Runtime).cmdLock},
	"y":    {0, "Y F", (*Runtime).cmdYield},
	"d":    {0, "DFF: Wrong number of parameters.", (*Runtime).cmdDisconnect},
	"si":   {2, "SI F: Wrong number of parameters.", (*Runtime).cmdShadowInit},
	"s_rd": {2, "S_RD2F: Wrong number of parameters.", (*Runtime).cmdRegisterDelta},
	"s_ud": {1, "S_UD2F: Wrong number of parameters.", (*Runtime).cmdUnregisterDelta},
	"sg":   {3, "SG2F: Wrong number of parameters.", (*Runtime).cmdShadowGet},
	"su":   {4, "SU2F: Wrong number of parameters.", (*Runtime).cmdShadowUpdate},
	"sd":   {3, "SD2F: Wrong number of parameters.", (*Runtime).cmdShadowDelete},
	"di":   {1, "DI2F: Wrong number of parameters.", (*Runtime).cmdDrainingInterval},
	"pq":   {2, "PQ2F: Wrong number of parameters.", (*Runtime).cmdOfflineQueue},
}

func (self *Runtime) execute(code string, params []string) string {
	cmd, ok := commands[code]
	if !ok {
		self.Log.Errorf("%s unknown command=%q", modName, code)
		return ""
	}
	if len(params) != cmd.params {
		return cmd.bad
	}
	return cmd.run(self, params)
}

func (self *Runtime) cmdSetup(p []string) string {
	clean, okClean := parseFlag(p[1])
	version, err := strconv.Atoi(p[2])
	if p[0] == "" || !okClean || err != nil || (version != 3 && version != 4) {
		return "I F: Invalid parameters."
	}
	if self.backend.IsConnected() {
		_ = self.backend.Disconnect()
	}
	self.resetState()
	self.setup = true
	self.clientID = p[0]
	self.clean = clean
	return "I T"
}

func (self *Runtime) cmdConfig(p []string) string {
	if !self.setup {
		return "G1F: No setup."
	}
	port, err := strconv.Atoi(p[1])
	if err != nil || port < 0 || port > 65535 {
		return "G2F: Invalid port."
	}
	self.endpoint = Endpoint{Host: p[0], Port: port, CAFile: p[2], KeyFile: p[3], CertFile: p[4]}
	return "G T"
}

func (self *Runtime) cmdConnect(p []string) string {
	if !self.setup {
		return "C1F: No setup."
	}
	keepalive, err := strconv.Atoi(p[0])
	if err != nil || keepalive <= 0 {
		return "C2F: Invalid keepalive."
	}
	if err = self.backend.Connect(self.clientID, self.clean, self.endpoint, time.Duration(keepalive)*time.Second); err != nil {
		self.Log.Errorf("%s connect err=%v", modName, err)
		if strings.Contains(err.Error(), "tls") {
			return "C3F: " + err.Error()
		}
		return failToken("C4F", "C5F", err)
	}
	self.startDraining()
	return "C T"
}

func (self *Runtime) cmdPublish(p []string) string {
	if !self.setup {
		return "P1F: No setup."
	}
	qos, okQos := parseQos(p[2])
	retain, okRetain := parseFlag(p[3])
	if !okQos || !okRetain {
		return "P2F: Invalid parameters."
	}
	msg := queuedPublish{topic: p[0], payload: []byte(p[1]), qos: qos, retain: retain}
	if self.draining || !self.backend.IsConnected() {
		if !self.offline.append(msg) {
			return "P3F: Offline publish queue full."
		}
		return "P T"
	}
	if err := self.backend.Publish(msg.topic, msg.payload, msg.qos, msg.retain); err != nil {
		return failToken("P3F", "P4F", err)
	}
	return "P T"
}

func (self *Runtime) cmdSubscribe(p []string) string {
	if !self.setup {
		return "S1F: No setup."
	}
	qos, okQos := parseQos(p[1])
	handle, err := strconv.Atoi(p[2])
	if p[0] == "" || !okQos || err != nil || handle < 0 {
		return "S2F: Invalid parameters."
	}
	if !self.backend.IsConnected() {
		return "S3F: Not connected."
	}
	if err = self.backend.Subscribe(p[0], qos, self.deliverTo(handle)); err != nil {
		return failToken("S3F", "S4F", err)
	}
	self.subs[p[0]] = handle
	return "S T"
}

func (self *Runtime) cmdUnsubscribe(p []string) string {
	if !self.setup {
		return "U1F: No setup."
	}
	handle, ok := self.subs[p[0]]
	if !ok {
		return "U T"
	}
	if err := self.backend.Unsubscribe(p[0]); err != nil {
		return failToken("U3F", "U4F", err)
	}
	delete(self.subs, p[0])
	return "U " + strconv.Itoa(handle)
}

func (self *Runtime) cmdLock([]string) string {
	self.inbox.lock()
	return "Z T"
}

func (self *Runtime) cmdYield([]string) string { return self.inbox.next() }

func (self *Runtime) cmdDisconnect([]string) string {
	if !self.setup {
		return "D1F: No setup."
	}
	if err := self.backend.Disconnect(); err != nil {
		return failToken("D2F", "D3F", err)
	}
	return "D T"
}

func (self *Runtime) cmdShadowInit(p []string) string {
	if !self.setup || p[0] == "" {
		return "SI F: No setup."
	}
	self.shadows[p[0]] = p[1] == "1"
	return "SI T"
}

func (self *Runtime) cmdRegisterDelta(p []string) string {
	thing := p[0]
	if _, ok := self.shadows[thing]; !ok {
		return "S_RD1F: No shadow init."
	}
	handle, err := strconv.Atoi(p[1])
	if err != nil || handle < 0 {
		return "S_RD2F: Invalid handle."
	}
	if !self.backend.IsConnected() {
		return "S_RD3F: Not connected."
	}
	if err = self.backend.Subscribe(ShadowTopic(thing, "update", "delta"), 0, self.deliverTo(handle)); err != nil {
		return failToken("S_RD3F", "S_RD4F", err)
	}
	self.deltas[thing] = handle
	return "S_RD T"
}

func (self *Runtime) cmdUnregisterDelta(p []string) string {
	thing := p[0]
	if _, ok := self.shadows[thing]; !ok {
		return "S_UD1F: No shadow init."
	}
	handle, ok := self.deltas[thing]
	if !ok {
		return "S_UD T"
	}
	if err := self.backend.Unsubscribe(ShadowTopic(thing, "update", "delta")); err != nil {
		return failToken("S_UD3F", "S_UD4F", err)
	}
	delete(self.deltas, thing)
	return "S_UD " + strconv.Itoa(handle)
}

var shadowFails = map[string][4]string{
	// subscribe, subscribe timeout, publish, publish timeout
	"get":    {"SG3F", "SG4F", "SG5F", "SG6F"},
	"update": {"SU4F", "SU5F", "SU6F", "SU7F"},
	"delete": {"SD3F", "SD4F", "SD5F", "SD6F"},
}

func (self *Runtime) cmdShadowGet(p []string) string {
	return self.requestShadow("get", "SG", p[0], p[1], p[2], "")
}

func (self *Runtime) cmdShadowUpdate(p []string) string {
	if !json.Valid([]byte(p[1])) {
		if _, ok := self.shadows[p[0]]; !ok {
			return "SU1F: No shadow init."
		}
		return "SU3F: Invalid JSON."
	}
	return self.requestShadow("update", "SU", p[0], p[2], p[3], p[1])
}

func (self *Runtime) cmdShadowDelete(p []string) string {
	return self.requestShadow("delete", "SD", p[0], p[1], p[2], "")
}

func (self *Runtime) cmdDrainingInterval(p []string) string {
	if !self.setup {
		return "DI1F: No setup."
	}
	sec, err := strconv.ParseFloat(p[0], 64)
	if err != nil {
		return "DI2F: " + err.Error()
	}
	if sec < 0 {
		return "DI3F: Draining interval must be non-negative."
	}
	self.drainInterval = time.Duration(sec * float64(time.Second))
	return "DI T"
}

func (self *Runtime) cmdOfflineQueue(p []string) string {
	if !self.setup {
		return "PQ1F: No setup."
	}
	size, err1 := strconv.Atoi(p[0])
	drop, err2 := strconv.Atoi(p[1])
	if err1 != nil || err2 != nil {
		return "PQ2F: Size and drop behavior must be integer."
	}
	if size < 0 || (drop != int(DropOldest) && drop != int(DropNewest)) {
		return "PQ3F: Invalid queue size or drop behavior."
	}
	self.offline.reconfigure(size, DropBehavior(drop))
	return "PQ T"
}

// requestShadow subscribes to op responses, registers pending handle
// and publishes request. Handle gets exactly one message: accepted,
// rejected or RequestTimeoutMessage.
func (self *Runtime) requestShadow(op, prefix, thing, handleStr, timeoutStr, payload string) string {
	if _, ok := self.shadows[thing]; !ok {
		return prefix + "1F: No shadow init."
	}
	handle, err1 := strconv.Atoi(handleStr)
	timeout, err2 := strconv.Atoi(timeoutStr)
	if err1 != nil || err2 != nil || handle < 0 || timeout <= 0 {
		return prefix + "2F: Invalid parameters."
	}
	fails := shadowFails[op]
	if !self.backend.IsConnected() {
		return fails[0] + ": Not connected."
	}
	for _, result := range []string{"accepted", "rejected"} {
		t := ShadowTopic(thing, op, result)
		if self.replySubs[t] {
			continue
		}
		if err := self.backend.Subscribe(t, 0, self.onShadowReply); err != nil {
			return failToken(fails[0], fails[1], err)
		}
		self.replySubs[t] = true
	}

	if payload == "" {
		payload = fmt.Sprintf(`{"clientToken":"%s-%s"}`, self.clientID, op)
	}
	key := thing + "/" + op
	self.addRequest(key, handle, time.Duration(timeout)*time.Second)
	if err := self.backend.Publish(ShadowTopic(thing, op, ""), []byte(payload), 0, false); err != nil {
		self.takeRequest(key)
		return failToken(fails[2], fails[3], err)
	}
	return prefix + " T"
}

func (self *Runtime) addRequest(key string, handle int, timeout time.Duration) {
	p := &shadowPending{handle: handle}
	self.pmu.Lock()
	if old, ok := self.requests[key]; ok {
		// superseded request still gets its one message
		old.timer.Stop()
		self.inbox.push(old.handle, []byte(RequestTimeoutMessage))
	}
	self.requests[key] = p
	p.timer = time.AfterFunc(timeout, func() {
		self.pmu.Lock()
		cur, ok := self.requests[key]
		if ok && cur == p {
			delete(self.requests, key)
		}
		self.pmu.Unlock()
		if ok && cur == p {
			self.Log.Debugf("%s shadow request %s timeout", modName, key)
			self.inbox.push(p.handle, []byte(RequestTimeoutMessage))
		}
	})
	self.pmu.Unlock()
}

func (self *Runtime) takeRequest(key string) *shadowPending {
	self.pmu.Lock()
	defer self.pmu.Unlock()
	p, ok := self.requests[key]
	if !ok {
		return nil
	}
	delete(self.requests, key)
	p.timer.Stop()
	return p
}

func (self *Runtime) onShadowReply(topic string, payload []byte) {
	thing, rest, ok := parseShadowTopic(topic)
	if !ok {
		return
	}
	op := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		op = rest[:i]
	}
	if p := self.takeRequest(thing + "/" + op); p != nil {
		self.inbox.push(p.handle, payload)
	}
}

func (self *Runtime) deliverTo(handle int) MessageFunc {
	return func(_ string, payload []byte) { self.inbox.push(handle, payload) }
}

// startDraining publishes offline queue at drain interval in background.
// Called with mu held.
func (self *Runtime) startDraining() {
	if self.draining || self.offline.len() == 0 {
		return
	}
	if !self.alive.Add(1) {
		return
	}
	self.draining = true
	interval := self.drainInterval
	go func() {
		defer self.alive.Done()
		for {
			p, ok := self.offline.pop()
			if ok {
				if err := self.backend.Publish(p.topic, p.payload, p.qos, p.retain); err != nil {
					self.Log.Errorf("%s drain publish topic=%s err=%v", modName, p.topic, err)
				}
			}
			self.mu.Lock()
			if self.offline.len() == 0 || !self.backend.IsConnected() {
				self.draining = false
				self.mu.Unlock()
				return
			}
			self.mu.Unlock()
			select {
			case <-self.alive.StopChan():
				return
			case <-time.After(interval):
			}
		}
	}()
}

func failToken(fail, timeout string, err error) string {
	if errors.IsTimeout(err) {
		return timeout + ": " + err.Error()
	}
	return fail + ": " + err.Error()
}

func parseFlag(s string) (bool, bool) {
	switch s {
	case "0":
		return false, true
	case "1":
		return true, true
	}
	return false, false
}

func parseQos(s string) (byte, bool) {
	switch s {
	case "0":
		return 0, true
	case "1":
		return 1, true
	}
	return 0, false
}
