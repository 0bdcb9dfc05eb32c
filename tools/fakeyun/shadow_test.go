package fakeyun

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/yunbridge/helpers"
)

func TestShadowTopic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "$aws/things/lamp/shadow/get", ShadowTopic("lamp", "get", ""))
	assert.Equal(t, "$aws/things/lamp/shadow/update/delta", ShadowTopic("lamp", "update", "delta"))

	thing, rest, ok := parseShadowTopic("$aws/things/lamp/shadow/update/accepted")
	assert.True(t, ok)
	assert.Equal(t, "lamp", thing)
	assert.Equal(t, "update/accepted", rest)
	_, _, ok = parseShadowTopic("other/lamp/shadow/get")
	assert.False(t, ok)
	_, _, ok = parseShadowTopic("$aws/things//shadow/get")
	assert.False(t, ok)
}

func TestMergeState(t *testing.T) {
	t.Parallel()

	type Case struct {
		name    string
		current string
		update  string
		expect  string
	}
	cases := []Case{
		{"add", `{"a":1}`, `{"b":2}`, `{"a":1,"b":2}`},
		{"replace", `{"a":1}`, `{"a":"x"}`, `{"a":"x"}`},
		{"delete", `{"a":1,"b":2}`, `{"a":null}`, `{"b":2}`},
		{"delete-last", `{"a":1}`, `{"a":null}`, `null`},
		{"nested", `{"n":{"x":1,"y":2}}`, `{"n":{"y":null,"z":3}}`, `{"n":{"x":1,"z":3}}`},
		{"from-empty", `null`, `{"a":true}`, `{"a":true}`},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			var cur, up map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(c.current), &cur))
			require.NoError(t, json.Unmarshal([]byte(c.update), &up))
			b, err := json.Marshal(mergeState(cur, up))
			require.NoError(t, err)
			assert.JSONEq(t, c.expect, string(b))
		})
	}
}

func TestShadowService(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	svc := NewShadowService(b)
	defer svc.Close()
	var c collector
	b.Subscribe("$aws/things/lamp/shadow/#", c.fn)

	b.Publish(ShadowTopic("lamp", "get", ""), []byte(`{"clientToken":"t1"}`), false)
	b.Publish(ShadowTopic("lamp", "update", ""), []byte(`{"state":{"desired":{"on":true}}}`), false)
	b.Publish(ShadowTopic("lamp", "update", ""), []byte(`{"state":{"reported":{"on":true}}}`), false)
	b.Publish(ShadowTopic("lamp", "update", ""), []byte(`garbage`), false)

	var doc shadowDoc
	require.NoError(t, json.Unmarshal(svc.Document("lamp"), &doc))
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, map[string]interface{}{"on": true}, doc.State.Desired)
	assert.Equal(t, map[string]interface{}{"on": true}, doc.State.Reported)

	topics := []string{}
	for _, m := range c.get() {
		tp := m[:strings.IndexByte(m, '=')]
		if strings.HasSuffix(tp, "/accepted") || strings.HasSuffix(tp, "/rejected") || strings.HasSuffix(tp, "/delta") {
			topics = append(topics, tp)
		}
	}
	assert.Equal(t, []string{
		"$aws/things/lamp/shadow/get/rejected",
		"$aws/things/lamp/shadow/update/accepted",
		"$aws/things/lamp/shadow/update/delta",
		"$aws/things/lamp/shadow/update/accepted",
		"$aws/things/lamp/shadow/update/rejected",
	}, topics)

	b.Publish(ShadowTopic("lamp", "delete", ""), nil, false)
	assert.Nil(t, svc.Document("lamp"))
}
