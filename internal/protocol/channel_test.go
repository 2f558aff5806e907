package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// xorSealer is a stand-in cipher: it flips every byte and appends a
// checksum so tampering is detectable.
type xorSealer struct{}

func (xorSealer) Seal(p []byte) []byte {
	out := make([]byte, len(p)+1)
	var sum byte
	for i, b := range p {
		out[i] = b ^ 0xff
		sum += b
	}
	out[len(p)] = sum
	return out
}

func (xorSealer) Unseal(c []byte) ([]byte, error) {
	if len(c) == 0 {
		return nil, ErrAuthentication
	}
	out := make([]byte, len(c)-1)
	var sum byte
	for i := range out {
		out[i] = c[i] ^ 0xff
		sum += out[i]
	}
	if sum != c[len(c)-1] {
		return nil, ErrAuthentication
	}
	return out, nil
}

func channelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewChannel(a, xorSealer{}), NewChannel(b, xorSealer{})
}

func TestChannelCommandResponse(t *testing.T) {
	viewer, host := channelPair(t)

	go func() {
		cmd, err := host.ReceiveCommand()
		if err != nil {
			return
		}
		_ = host.SendResponse(Success(map[string]string{"echo": cmd.Type}))
	}()

	require.NoError(t, viewer.SendCommand(Command{Type: CmdSystemInfo}))
	resp, err := viewer.ReceiveResponse()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, resp.Bind(&got))
	assert.Equal(t, CmdSystemInfo, got["echo"])
}

// coalescedConn hands out everything written so far in one read.
type coalescedConn struct {
	net.Conn
	buf bytes.Buffer
}

func (c *coalescedConn) Read(p []byte) (int, error)  { return c.buf.Read(p) }
func (c *coalescedConn) Write(p []byte) (int, error) { return c.buf.Write(p) }

func TestChannelSurvivesCoalescedWrites(t *testing.T) {
	conn := &coalescedConn{}
	ch := NewChannel(conn, xorSealer{})

	big := bytes.Repeat([]byte("x"), 200_000)
	require.NoError(t, ch.WriteMessage([]byte("first")))
	require.NoError(t, ch.WriteMessage(big))
	require.NoError(t, ch.WriteMessage([]byte("third")))

	for _, want := range [][]byte{[]byte("first"), big, []byte("third")} {
		got, err := ch.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ch.ReadMessage()
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestChannelRejectsTampered(t *testing.T) {
	conn := &coalescedConn{}
	ch := NewChannel(conn, xorSealer{})
	require.NoError(t, ch.WriteMessage([]byte("hello")))
	raw := conn.buf.Bytes()
	raw[MessageHeaderSize+1] ^= 0x01

	_, err := ch.ReadMessage()
	assert.True(t, errors.Is(err, ErrAuthentication))
}

func TestChannelRejectsOversizedHeader(t *testing.T) {
	conn := &coalescedConn{}
	conn.buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := NewChannel(conn, xorSealer{}).ReadMessage()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestChannelDeadline(t *testing.T) {
	viewer, _ := channelPair(t)
	require.NoError(t, viewer.SetDeadline(time.Now().Add(20*time.Millisecond)))
	_, err := viewer.ReceiveResponse()
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(io.EOF))
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(net.ErrClosed))
	assert.False(t, IsTransient(ErrAuthentication))
	assert.False(t, IsTransient(ErrProtocol))
	assert.False(t, IsTransient(errors.New("boom")))
}
