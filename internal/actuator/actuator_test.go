package actuator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/remote"
)

func TestFromStep(t *testing.T) {
	ant := 0.4
	step := behavior.Step{
		Pose: behavior.Pose{Roll: 15, Pitch: -5, Yaw: 2, Z: 0.01, Antennas: &ant},
		Hold: 300 * time.Millisecond,
		Wait: true,
	}
	cmd := FromStep(step)

	assert.Equal(t, 15.0, cmd.Roll)
	assert.Equal(t, -5.0, cmd.Pitch)
	assert.Equal(t, 2.0, cmd.Yaw)
	assert.Equal(t, 0.01, cmd.Z)
	require.NotNil(t, cmd.Antennas)
	assert.Equal(t, 0.4, *cmd.Antennas)
	assert.Equal(t, 300*time.Millisecond, cmd.Duration)
	assert.Equal(t, "roll=15.0 pitch=-5.0 yaw=2.0", cmd.String())
}

func TestSimulated_RecordsCommands(t *testing.T) {
	sim := NewSimulated(nil)
	ctx := context.Background()

	require.NoError(t, sim.Apply(ctx, Command{Roll: 1}))
	require.NoError(t, sim.Apply(ctx, Command{Roll: 2}))

	cmds := sim.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, 1.0, cmds[0].Roll)
	assert.Equal(t, 2.0, cmds[1].Roll)

	sim.Reset()
	assert.Empty(t, sim.Commands())
}

func TestSimulated_InjectedFailure(t *testing.T) {
	sim := NewSimulated(nil)
	sim.FailWith(errors.ErrActuatorUnavailable)

	err := sim.Apply(context.Background(), Command{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrActuatorUnavailable)
	var aerr *errors.ActuatorError
	assert.ErrorAs(t, err, &aerr)
	assert.Empty(t, sim.Commands())

	sim.FailWith(nil)
	assert.NoError(t, sim.Apply(context.Background(), Command{}))
}

func TestSimulated_DelayHonorsContext(t *testing.T) {
	sim := NewSimulated(nil)
	sim.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sim.Apply(ctx, Command{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func newPoseDaemon(t *testing.T, ok bool, got chan<- Command) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req remote.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			var cmd Command
			_ = json.Unmarshal(req.Payload, &cmd)
			got <- cmd
			ack := remote.Ack{ID: req.ID, OK: ok}
			if !ok {
				ack.Error = "out of reach"
			}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRemote_Apply(t *testing.T) {
	got := make(chan Command, 1)
	r := NewRemote(remote.NewClient(newPoseDaemon(t, true, got)))
	defer r.Close()

	require.NoError(t, r.Apply(context.Background(), Command{Roll: -12, Pitch: 8, Duration: time.Second}))

	cmd := <-got
	assert.Equal(t, -12.0, cmd.Roll)
	assert.Equal(t, 8.0, cmd.Pitch)
	assert.Equal(t, time.Second, cmd.Duration)
}

func TestRemote_RejectedIsNotRetryable(t *testing.T) {
	got := make(chan Command, 1)
	r := NewRemote(remote.NewClient(newPoseDaemon(t, false, got)))
	defer r.Close()

	err := r.Apply(context.Background(), Command{Roll: 29})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRejected)
	assert.False(t, errors.IsRetryable(err))
	assert.Contains(t, err.Error(), "out of reach")
}

func TestRemote_UnreachableIsRetryable(t *testing.T) {
	r := NewRemote(remote.NewClient("ws://127.0.0.1:1/pose", remote.WithTimeout(200*time.Millisecond)))
	defer r.Close()

	err := r.Apply(context.Background(), Command{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.ErrorIs(t, err, errors.ErrActuatorUnavailable)
	assert.True(t, errors.IsRetryable(err))
}
