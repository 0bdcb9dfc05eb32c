package uart

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(u Uarter) string {
	var sb strings.Builder
	for u.Available() > 0 {
		b, err := u.ReadByte()
		if err != nil {
			break
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func TestMockEchoReply(t *testing.T) {
	t.Parallel()

	m := NewMock(ResponderFunc(func(line string) []string {
		if line == "uname" {
			return []string{"Linux"}
		}
		return nil
	}))
	require.NoError(t, m.Open("/dev/null", 250000))
	assert.True(t, m.Ready())

	n, err := m.Write([]byte("uname\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "uname\nLinux\n", readAll(m))
	assert.Equal(t, []string{"uname"}, m.Lines())
	assert.Equal(t, "uname\n", m.Written())

	_, err = m.ReadByte()
	assert.Equal(t, ErrNoData, err)
}

func TestMockCRLF(t *testing.T) {
	t.Parallel()

	m := NewMock(ResponderFunc(func(string) []string { return []string{"ok"} }))
	m.EchoCRLF = true
	m.ReplyCRLF = true
	require.NoError(t, m.Open("", 9600))
	_, _ = m.Write([]byte("x\n"))
	assert.Equal(t, "x\r\nok\r\n", readAll(m))
}

func TestMockWrongBaud(t *testing.T) {
	t.Parallel()

	called := false
	m := NewMock(ResponderFunc(func(string) []string { called = true; return []string{"Linux"} }))
	m.Bauds = []int{115200}
	require.NoError(t, m.Open("", 250000))
	_, _ = m.Write([]byte("ab\n"))
	assert.Equal(t, "\xfe\xfe\xfe", readAll(m))
	assert.False(t, called)

	require.NoError(t, m.Open("", 115200))
	_, _ = m.Write([]byte("ab\n"))
	assert.Equal(t, "ab\nLinux\n", readAll(m))
	assert.Equal(t, []int{250000, 115200}, m.Opens())
}

func TestMockSilent(t *testing.T) {
	t.Parallel()

	m := NewMock(nil)
	m.Echo = false
	_, err := m.Write([]byte("x"))
	assert.Error(t, err, "write before open")
	require.NoError(t, m.Open("", 9600))
	_, err = m.Write([]byte("x\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Available())
	m.Push("Y F\n")
	assert.Equal(t, "Y F\n", readAll(m))
}

func TestNewDriver(t *testing.T) {
	t.Parallel()

	u, err := New("")
	require.NoError(t, err)
	assert.False(t, u.Ready())
	_, err = New("usb")
	assert.Error(t, err)
	u, err = New(DriverMock)
	require.NoError(t, err)
	assert.IsType(t, &Mock{}, u)
}
