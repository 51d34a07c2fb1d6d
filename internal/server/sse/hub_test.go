package sse

import (
	"encoding/json"
	"testing"
	"time"

	"liveness-gate-go/internal/core/liveness"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, client Client) []byte {
	t.Helper()
	select {
	case msg := <-client:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SSE message")
		return nil
	}
}

func TestHubBroadcastProgress(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := make(Client, 10)
	hub.Register(client)

	entry := liveness.ProgressEntry{
		Seq:       3,
		Timestamp: time.Now(),
		Message:   "please blink",
		Challenge: liveness.ChallengeBlink,
		State:     liveness.StateRunning,
	}
	hub.BroadcastProgress("session-1", "alice", entry)

	var data ProgressData
	require.NoError(t, json.Unmarshal(receive(t, client), &data))
	require.Equal(t, "progress", data.Type)
	require.Equal(t, "session-1", data.SessionID)
	require.Equal(t, "alice", data.Profile)
	require.Equal(t, 3, data.Seq)
	require.Equal(t, "please blink", data.Message)
	require.Equal(t, "blink", data.Challenge)
	require.Equal(t, "running", data.State)
}

func TestHubBroadcastOutcome(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := make(Client, 10)
	hub.Register(client)

	outcome := liveness.Outcome{
		SessionID:        "session-2",
		Completed:        true,
		AllPassed:        true,
		OverallMatchRate: 91.25,
		Results: []liveness.Result{
			{Type: liveness.ChallengeBlink, Position: 0, Passed: true, MatchRate: 92.5, Attempts: 1},
			{Type: liveness.ChallengeSmile, Position: 1, Passed: true, MatchRate: 90.0, Attempts: 2},
		},
		EndedAt: time.Now(),
	}
	hub.BroadcastOutcome("alice", outcome)

	var data OutcomeData
	require.NoError(t, json.Unmarshal(receive(t, client), &data))
	require.Equal(t, "outcome", data.Type)
	require.Equal(t, "session-2", data.SessionID)
	require.True(t, data.Completed)
	require.True(t, data.AllPassed)
	require.Equal(t, 91.25, data.OverallMatchRate)
	require.Len(t, data.Results, 2)
	require.Equal(t, "smile", data.Results[1].Challenge)
	require.Empty(t, data.Reason)
}

func TestHubUnregisterClosesClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := make(Client, 10)
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, open := <-client:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("client channel was not closed")
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// unbuffered client without a reader cannot keep up and is dropped
	slow := make(Client)
	hub.Register(slow)

	hub.BroadcastProgress("session-3", "", liveness.ProgressEntry{Seq: 1, Message: "no face detected"})

	// give the hub loop time to attempt delivery and drop the client
	time.Sleep(100 * time.Millisecond)

	_, open := <-slow
	require.False(t, open)
}
