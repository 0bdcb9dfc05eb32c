package fakeyun

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/yunbridge/helpers"
	"github.com/temoto/yunbridge/log2"
)

type renv struct {
	t       testing.TB
	broker  *Broker
	backend *Loopback
	shadow  *ShadowService
	rt      *Runtime
}

func testRuntime(t testing.TB) *renv {
	env := &renv{t: t, broker: NewBroker()}
	env.backend = NewLoopback(env.broker)
	env.shadow = NewShadowService(env.broker)
	env.rt = NewRuntime(env.backend, Options{ChunkSize: 8}, log2.NewTest(t, log2.LDebug))
	t.Cleanup(func() {
		env.rt.Close()
		env.shadow.Close()
	})
	require.Nil(t, env.rt.HandleLine(DefaultLaunch))
	require.True(t, env.rt.InProtocol())
	return env
}

// req sends count line and request lines, returns reply of last line.
func (env *renv) req(lines ...string) string {
	require.Nil(env.t, env.rt.HandleLine(strconv.Itoa(len(lines))))
	var out []string
	for _, l := range lines {
		out = env.rt.HandleLine(l)
	}
	if len(out) == 0 {
		return ""
	}
	return out[0]
}

func (env *renv) connect() {
	require.Equal(env.t, "I T", env.req("i", "dev1", "1", "4"))
	require.Equal(env.t, "G T", env.req("g", "localhost", "8883", "", "", ""))
	require.Equal(env.t, "C T", env.req("c", "60"))
}

// yield returns all chunks until "Y F".
func (env *renv) yield() []string {
	require.Equal(env.t, "Z T", env.req("z"))
	out := []string{}
	for i := 0; i < 100; i++ {
		s := env.req("y")
		if s == "Y F" {
			return out
		}
		out = append(out, s)
	}
	env.t.Fatalf("yield does not end")
	return nil
}

func TestRuntimeShell(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(NewLoopback(NewBroker()), Options{}, log2.NewTest(t, log2.LDebug))
	defer rt.Close()
	assert.Equal(t, []string{"Linux"}, rt.HandleLine("uname"))
	assert.Nil(t, rt.HandleLine("cd /root/runtime"))
	assert.Equal(t, []string{"-ash: ls: not found"}, rt.HandleLine("ls -l"))
	assert.Nil(t, rt.HandleLine(""))
	assert.False(t, rt.InProtocol())
	assert.Nil(t, rt.HandleLine("python run.py\r"))
	assert.True(t, rt.InProtocol())
	assert.Nil(t, rt.HandleLine("~"))
	assert.False(t, rt.InProtocol())
}

func TestRuntimeCommands(t *testing.T) {
	t.Parallel()

	type Case struct {
		name   string
		setup  bool
		lines  []string
		expect string
	}
	cases := []Case{
		{"publish-no-setup", false, []string{"p", "t", "x", "0", "0"}, "P1F: No setup."},
		{"config-no-setup", false, []string{"g", "h", "1", "", "", ""}, "G1F: No setup."},
		{"connect-no-setup", false, []string{"c", "60"}, "C1F: No setup."},
		{"disconnect-no-setup", false, []string{"d"}, "D1F: No setup."},
		{"setup-bad-version", false, []string{"i", "id", "1", "5"}, "I F: Invalid parameters."},
		{"setup-bad-clean", false, []string{"i", "id", "yes", "4"}, "I F: Invalid parameters."},
		{"setup-params", false, []string{"i", "id"}, "I F: Wrong number of parameters."},
		{"config-port", true, []string{"g", "h", "port", "", "", ""}, "G2F: Invalid port."},
		{"connect-keepalive", true, []string{"c", "-1"}, "C2F: Invalid keepalive."},
		{"publish-qos", true, []string{"p", "t", "x", "2", "0"}, "P2F: Invalid parameters."},
		{"subscribe-offline", true, []string{"s", "t", "0", "1"}, "S3F: Not connected."},
		{"subscribe-handle", true, []string{"s", "t", "0", "h"}, "S2F: Invalid parameters."},
		{"unsubscribe-unknown", true, []string{"u", "t"}, "U T"},
		{"shadow-init-empty", true, []string{"si", "", "1"}, "SI F: No setup."},
		{"shadow-get-no-init", true, []string{"sg", "lamp", "1", "5"}, "SG1F: No shadow init."},
		{"shadow-update-no-init", true, []string{"su", "lamp", "{}", "1", "5"}, "SU1F: No shadow init."},
		{"shadow-update-no-init-bad-json", true, []string{"su", "lamp", "{", "1", "5"}, "SU1F: No shadow init."},
		{"register-delta-no-init", true, []string{"s_rd", "lamp", "1"}, "S_RD1F: No shadow init."},
		{"unregister-delta-no-init", true, []string{"s_ud", "lamp"}, "S_UD1F: No shadow init."},
		{"draining-negative", true, []string{"di", "-1"}, "DI3F: Draining interval must be non-negative."},
		{"draining-fraction", true, []string{"di", "0.25"}, "DI T"},
		{"queue-negative", true, []string{"pq", "-1", "0"}, "PQ3F: Invalid queue size or drop behavior."},
		{"queue-drop", true, []string{"pq", "5", "2"}, "PQ3F: Invalid queue size or drop behavior."},
		{"queue-int", true, []string{"pq", "x", "1"}, "PQ2F: Size and drop behavior must be integer."},
		{"queue-ok", true, []string{"pq", "0", "0"}, "PQ T"},
		{"lock-empty", true, []string{"z"}, "Z T"},
		{"yield-empty", true, []string{"y"}, "Y F"},
		{"unknown", true, []string{"q"}, ""},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := testRuntime(t)
			if c.setup {
				require.Equal(t, "I T", env.req("i", "dev1", "0", "3"))
			}
			assert.Equal(t, c.expect, env.req(c.lines...))
		})
	}
}

func TestRuntimeSubscribe(t *testing.T) {
	t.Parallel()

	env := testRuntime(t)
	env.connect()
	require.Equal(t, "S T", env.req("s", "room/+", "1", "4"))
	require.Equal(t, "P T", env.req("p", "room/1", "the quick brown fox", "1", "0"))
	env.broker.Publish("room/2", []byte("hi"), false)
	assert.Equal(t, 2, env.rt.Queued())

	assert.Equal(t, []string{
		"Y 4 1 the quic",
		"Y 4 1 k brown ",
		"Y 4 0 fox",
		"Y 4 0 hi",
	}, env.yield())

	assert.Equal(t, "U 4", env.req("u", "room/+"))
	env.broker.Publish("room/3", []byte("lost"), false)
	assert.Equal(t, 0, env.rt.Queued())
	assert.Equal(t, "U T", env.req("u", "room/+"))

	assert.Equal(t, "D T", env.req("d"))
	assert.Equal(t, "D2F: not connected", env.req("d"))
}

func TestRuntimeConnectFail(t *testing.T) {
	t.Parallel()

	env := testRuntime(t)
	env.backend.FailConnect = errors.Timeoutf("connack")
	require.Equal(t, "I T", env.req("i", "dev1", "1", "4"))
	assert.Equal(t, "C5F: connack timeout", env.req("c", "60"))
	env.backend.FailConnect = errors.New("refused")
	assert.Equal(t, "C4F: refused", env.req("c", "60"))
}

func TestRuntimeOfflineQueue(t *testing.T) {
	t.Parallel()

	env := testRuntime(t)
	var c collector
	env.broker.Subscribe("out", c.fn)
	require.Equal(t, "I T", env.req("i", "dev1", "1", "4"))
	require.Equal(t, "DI T", env.req("di", "0.001"))
	require.Equal(t, "PQ T", env.req("pq", "2", "1"))
	assert.Equal(t, "P T", env.req("p", "out", "1", "0", "0"))
	assert.Equal(t, "P T", env.req("p", "out", "2", "0", "0"))
	assert.Equal(t, "P3F: Offline publish queue full.", env.req("p", "out", "3", "0", "0"))
	assert.Empty(t, c.get())

	require.Equal(t, "C T", env.req("c", "30"))
	require.Eventually(t, func() bool { return len(c.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"out=1", "out=2"}, c.get())
	assert.Equal(t, "P T", env.req("p", "out", "4", "0", "0"))
	require.Eventually(t, func() bool { return len(c.get()) == 3 }, time.Second, time.Millisecond)
}

func TestRuntimeShadow(t *testing.T) {
	t.Parallel()

	env := testRuntime(t)
	env.connect()
	require.Equal(t, "SI T", env.req("si", "lamp", "1"))

	assert.Equal(t, "SG T", env.req("sg", "lamp", "2", "5"))
	chunks := env.yield()
	require.NotEmpty(t, chunks)
	assert.Regexp(t, `^Y 2 [01] `, chunks[0])

	assert.Equal(t, "SU3F: Invalid JSON.", env.req("su", "lamp", `{"state":`, "3", "5"))
	assert.Equal(t, "S_RD T", env.req("s_rd", "lamp", "7"))
	assert.Equal(t, "SU T", env.req("su", "lamp", `{"state":{"desired":{"on":true}}}`, "3", "5"))
	last := map[string]int{}
	for _, s := range env.yield() {
		last[s[:6]]++
	}
	assert.Equal(t, 1, last["Y 3 0 "], "update accepted")
	assert.Equal(t, 1, last["Y 7 0 "], "delta")
	assert.NotNil(t, env.shadow.Document("lamp"))

	assert.Equal(t, "S_UD 7", env.req("s_ud", "lamp"))
	assert.Equal(t, "S_UD T", env.req("s_ud", "lamp"))
	assert.Equal(t, "SD T", env.req("sd", "lamp", "4", "5"))
	env.yield()
	assert.Nil(t, env.shadow.Document("lamp"))
}

func TestRuntimeShadowTimeout(t *testing.T) {
	t.Parallel()

	env := testRuntime(t)
	env.shadow.Close()
	env.connect()
	require.Equal(t, "SI T", env.req("si", "lamp", "1"))
	require.Equal(t, "SG T", env.req("sg", "lamp", "5", "1"))
	assert.Equal(t, 0, env.rt.Queued())
	require.Eventually(t, func() bool { return env.rt.Queued() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Y 5 1 REQUEST ", "Y 5 0 TIME OUT"}, env.yield())
}

func TestRuntimeServe(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(NewLoopback(NewBroker()), Options{}, log2.NewTest(t, log2.LDebug))
	defer rt.Close()
	in := "uname\r\npython run.py\n1\nz\n"
	var out bytes.Buffer
	require.NoError(t, rt.Serve(context.Background(), strings.NewReader(in), &out, true))
	// whole read is echoed before replies
	assert.Equal(t, in+"Linux\nZ T\n", out.String())
	assert.True(t, rt.InProtocol())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, rt.Serve(ctx, strings.NewReader(in), &out, false))
}
