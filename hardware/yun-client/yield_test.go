package yun

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/yunbridge/helpers"
)

func subscribeN(t testing.TB, env *tenv, handlers ...Handler) {
	env.replyAll("S T")
	for i, h := range handlers {
		require.NoError(t, env.client.Subscribe("t/"+string(rune('a'+i)), 1, h))
	}
}

func TestYieldReassembly(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	h := &handlerMock{}
	h.On("OnMessage", "hello").Return().Once()
	subscribeN(t, env, h)
	assert.Equal(t, 0, env.client.accLen)

	q := newChunkQueue("Y 0 1 hel", "Y 0 0 lo")
	env.proto.setHandle(q.handle)
	require.NoError(t, env.client.Yield())
	h.AssertExpectations(t)
	assert.Equal(t, 0, env.client.accLen)
	assert.False(t, env.client.accOverflow)
	assert.Equal(t, uint32(1), env.client.Stat().Message)
}

func TestYieldPayloadWithSpaces(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	r := &recorder{}
	subscribeN(t, env, nil, r)
	q := newChunkQueue("Y 1 1 {\"a\": ", "Y 1 0 1 }", "Y 1 0 ", "Y 0 0 no handler", "Y 9 0 unused")
	env.proto.setHandle(q.handle)
	require.NoError(t, env.client.Yield())
	assert.Equal(t, []string{`{"a": 1 }`, ""}, r.msgs)
}

func TestYieldOverflow(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	r := &recorder{}
	subscribeN(t, env, r)
	chunk := strings.Repeat("x", 100)
	q := newChunkQueue(
		"Y 0 1 "+chunk, "Y 0 1 "+chunk, "Y 0 1 "+chunk, "Y 0 0 "+chunk,
		"Y 0 0 small",
	)
	env.proto.setHandle(q.handle)
	err := env.client.Yield()
	assert.Equal(t, PayloadOverflow, CodeOf(err))
	assert.Equal(t, KindResourceExhausted, KindOf(err))
	assert.Equal(t, []string{OutOfBufferMessage, "small"}, r.msgs)
	assert.Empty(t, q.chunks, "stream must be drained to terminator")
	assert.Equal(t, 0, env.client.accLen)
	assert.Equal(t, uint32(1), env.client.Stat().Overflow)
}

func TestYieldExactCapacity(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	r := &recorder{}
	subscribeN(t, env, r)
	half := strings.Repeat("z", MaxBufSize/2)
	q := newChunkQueue("Y 0 1 "+half, "Y 0 0 "+half)
	env.proto.setHandle(q.handle)
	require.NoError(t, env.client.Yield())
	require.Len(t, r.msgs, 1)
	assert.Equal(t, MaxBufSize, len(r.msgs[0]))
}

func TestYieldTransactionalRelease(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	r := &recorder{}
	env.replyAll("SG T")
	require.NoError(t, env.client.ShadowGet("room", r, 5*time.Second))
	assert.Equal(t, 1, env.client.Subscriptions())

	q := newChunkQueue("Y 0 0 {\"state\":{}}")
	env.proto.setHandle(q.handle)
	require.NoError(t, env.client.Yield())
	assert.Equal(t, []string{`{"state":{}}`}, r.msgs)
	assert.Equal(t, 0, env.client.Subscriptions())

	env.proto.reset()
	env.replyAll("SU T")
	require.NoError(t, env.client.ShadowUpdate("room", "{}", r, 5*time.Second))
	assert.Equal(t, "0", env.proto.requests()[0][3], "released handle reused")
}

func TestSubscribeAfterTransactionalRelease(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	shadow, sub := &recorder{}, &recorder{}
	env.replyAll("SG T")
	require.NoError(t, env.client.ShadowGet("room", shadow, time.Second))
	env.proto.setHandle(newChunkQueue("Y 0 0 doc").handle)
	require.NoError(t, env.client.Yield())
	require.Equal(t, 0, env.client.Subscriptions())

	env.proto.reset()
	env.replyAll("S T")
	require.NoError(t, env.client.Subscribe("t/cmd", 1, sub))
	assert.Equal(t, [][]string{{"s", "t/cmd", "1", "0"}}, env.proto.requests())
	assert.Equal(t, 1, env.client.Subscriptions())

	env.proto.setHandle(newChunkQueue("Y 0 0 m1", "Y 0 0 m2").handle)
	require.NoError(t, env.client.Yield())
	assert.Equal(t, []string{"doc"}, shadow.msgs)
	assert.Equal(t, []string{"m1", "m2"}, sub.msgs)
	assert.Equal(t, 1, env.client.Subscriptions(), "persistent slot kept")
}

func TestYieldTransactionalReleaseOnOverflow(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	r := &recorder{}
	env.replyAll("SD T")
	require.NoError(t, env.client.ShadowDelete("room", r, time.Second))
	chunk := strings.Repeat("d", 200)
	q := newChunkQueue("Y 0 1 "+chunk, "Y 0 0 "+chunk)
	env.proto.setHandle(q.handle)
	assert.Equal(t, PayloadOverflow, CodeOf(env.client.Yield()))
	assert.Equal(t, []string{OutOfBufferMessage}, r.msgs)
	assert.Equal(t, 0, env.client.Subscriptions())
}

func TestYieldPersistentKept(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	r := &recorder{}
	env.replyAll("S_RD T")
	require.NoError(t, env.client.ShadowRegisterDelta("room", r))
	q := newChunkQueue("Y 0 0 d1", "Y 0 0 d2")
	env.proto.setHandle(q.handle)
	require.NoError(t, env.client.Yield())
	assert.Equal(t, []string{"d1", "d2"}, r.msgs)
	assert.Equal(t, 1, env.client.Subscriptions())
}

func TestYieldFatal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		lock   string
		chunks []string
	}{
		{"lock-refused", "Z F", nil},
		{"lock-timeout", "", nil},
		{"garbage", "Z T", []string{"-ash: y: not found"}},
		{"empty-reply", "Z T", []string{""}},
		{"no-handle", "Z T", []string{"Y "}},
		{"no-more", "Z T", []string{"Y 0"}},
		{"handle-not-number", "Z T", []string{"Y a 0 x"}},
		{"handle-negative", "Z T", []string{"Y -1 0 x"}},
		{"more-not-number", "Z T", []string{"Y 0 x payload"}},
		{"more-out-of-range", "Z T", []string{"Y 0 2 payload"}},
		{"mid-stream", "Z T", []string{"Y 0 1 part", "garbage"}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := testEnv(t)
			h := &handlerMock{}
			subscribeN(t, env, h)
			q := newChunkQueue(c.chunks...)
			q.lock = c.lock
			env.proto.setHandle(q.handle)
			err := env.client.Yield()
			assert.Equal(t, YieldError, CodeOf(err))
			assert.Equal(t, KindProtocol, KindOf(err))
			assert.Equal(t, 0, env.client.accLen)
			assert.False(t, env.client.accOverflow)
			h.AssertNotCalled(t, "OnMessage")
		})
	}
}

func TestYieldEmptyQueue(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	q := newChunkQueue()
	env.proto.setHandle(q.handle)
	require.NoError(t, env.client.Yield())
	reqs := env.proto.requests()
	assert.Equal(t, [][]string{{"z"}, {"y"}}, reqs)
}

func TestYieldHandlerReentrancy(t *testing.T) {
	t.Parallel()

	env := testEnv(t)
	subscribeN(t, env, HandlerFunc(func([]byte) {
		_ = env.client.Publish("t", "echo", 0, false)
	}))
	q := newChunkQueue("Y 0 0 x")
	env.proto.setHandle(q.handle)
	assert.Panics(t, func() { _ = env.client.Yield() })
}

func TestYieldHandlerReentrancyBootstrap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		call func(c *Client)
	}{
		{"find-baud-type", func(c *Client) { c.FindBaudType() }},
		{"close", func(c *Client) { _ = c.Close() }},
	}
	helpers.ShuffleCases(len(cases), func(i, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := testEnv(t)
			called := false
			subscribeN(t, env, HandlerFunc(func([]byte) {
				called = true
				assert.Panics(t, func() { c.call(env.client) })
			}))
			q := newChunkQueue("Y 0 0 x")
			env.proto.setHandle(q.handle)
			require.NoError(t, env.client.Yield())
			assert.True(t, called)
			assert.Equal(t, []int{BaudDefault}, env.uart.Opens(), "port must not be reopened")
			assert.True(t, env.uart.Ready())
			// guard is released after Yield
			require.NoError(t, env.client.Close())
			assert.False(t, env.uart.Ready())
		})
	}
}

func TestParseChunk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input   string
		handle  int
		more    bool
		payload string
		ok      bool
	}{
		{"Y 0 0 abc", 0, false, "abc", true},
		{"Y 12 1 a b c", 12, true, "a b c", true},
		{"Y 3 0", 3, false, "", true},
		{"Y 3 0 ", 3, false, "", true},
		{"Y 3 0  two-spaces", 3, false, " two-spaces", true},
		{"Y 3 01 x", 3, true, "x", true},
		{"Y 1234567890 0 x", 0, false, "", false},
		{"Y 3 5 x", 0, false, "", false},
		{"Y  0 x", 0, false, "", false},
		{"Y F", 0, false, "", false},
		{"X 0 0 x", 0, false, "", false},
	}
	for _, c := range cases {
		handle, more, payload, ok := parseChunk(c.input)
		assert.Equal(t, c.ok, ok, "input=%q", c.input)
		if c.ok {
			assert.Equal(t, c.handle, handle, "input=%q", c.input)
			assert.Equal(t, c.more, more, "input=%q", c.input)
			assert.Equal(t, c.payload, payload, "input=%q", c.input)
		}
	}
}
