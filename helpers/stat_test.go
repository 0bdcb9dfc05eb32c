package helpers

import (
	"bytes"
	"expvar"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatReaderWriter(t *testing.T) {
	t.Parallel()

	type Case struct {
		name  string
		input string
		fix   int64
		calls int
	}
	cases := []Case{
		{"empty", "", 0, 0},
		{"request", "1\nz\n", 0, 1},
		{"overhead", "1\ny\n", 2, 1},
	}
	ShuffleCases(len(cases), func(i, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var rcount, wcount expvar.Int
			var out bytes.Buffer
			r := NewStatReader(strings.NewReader(c.input), &rcount, c.fix)
			w := NewStatWriter(&out, &wcount, c.fix)

			n, err := io.Copy(w, struct{ io.Reader }{r})
			require.NoError(t, err)
			assert.Equal(t, int64(len(c.input)), n)
			assert.Equal(t, c.input, out.String())
			assert.Equal(t, int64(len(c.input))+int64(c.calls)*c.fix, wcount.Value())
			// io.Copy reads once more to see EOF
			assert.Equal(t, int64(len(c.input))+int64(c.calls+1)*c.fix, rcount.Value())
		})
	}
}
