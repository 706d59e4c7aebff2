package camera

import (
	"context"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortenFirstFrameWait(t *testing.T, d time.Duration) {
	t.Helper()
	prev := firstFrameWait
	firstFrameWait = d
	t.Cleanup(func() { firstFrameWait = prev })
}

// pushFrames binds a PUSH socket and feeds it frame messages until the
// returned stop function is called.
func pushFrames(t *testing.T, endpoint string) func() {
	t.Helper()
	payload, err := cbor.Marshal(map[string]any{
		"type":   "image",
		"width":  4,
		"height": 4,
		"data":   make([]byte, 16),
	})
	require.NoError(t, err)

	socket, err := zmq4.NewSocket(zmq4.PUSH)
	require.NoError(t, err)
	require.NoError(t, socket.Bind(endpoint))

	done := make(chan struct{})
	go func() {
		defer socket.Close()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_, _ = socket.SendBytes(payload, zmq4.DONTWAIT)
			}
		}
	}()
	return func() { close(done) }
}

func TestOpenRemoteUnreachableWithoutControlURL(t *testing.T) {
	shortenFirstFrameWait(t, 200*time.Millisecond)

	// ZMQ connects lazily, so only the first-frame rendezvous can tell
	// that nothing is listening here.
	_, err := OpenRemote("tcp://127.0.0.1:1", "")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestOpenRemoteDeliversFirstFrame(t *testing.T) {
	shortenFirstFrameWait(t, 2*time.Second)

	endpoint := "inproc://holocam-remote-test"
	stop := pushFrames(t, endpoint)
	defer stop()

	src, err := OpenRemote(endpoint, "")
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := src.CaptureFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Width)
	assert.Equal(t, 4, frame.Height)
}

func TestOpenFallsBackToSyntheticWhenDaemonAbsent(t *testing.T) {
	shortenFirstFrameWait(t, 200*time.Millisecond)

	src := Open("tcp://127.0.0.1:1", "", 32, 32)
	defer src.Close()
	_, ok := src.(*SyntheticSource)
	require.True(t, ok, "an unreachable daemon must yield the synthetic source")

	frame, err := src.CaptureFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, frame.Width)
}
