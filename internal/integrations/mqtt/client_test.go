package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"liveness-gate-go/internal/core/liveness"

	"github.com/stretchr/testify/require"
)

func TestSessionIDFromTopic(t *testing.T) {
	require.Equal(t, "abc-123", SessionIDFromTopic("liveness-gate/frames/abc-123"))
	require.Equal(t, "s1", SessionIDFromTopic("frames/s1"))
	require.Equal(t, "", SessionIDFromTopic("liveness-gate/frames/"))
	require.Equal(t, "", SessionIDFromTopic("noslash"))
}

func TestOutcomeMessagePayload(t *testing.T) {
	outcome := liveness.Outcome{
		SessionID:        "sess-9",
		Completed:        true,
		AllPassed:        true,
		OverallMatchRate: 93.25,
		Results: []liveness.Result{
			{Type: liveness.ChallengeBlink, Position: 0, Passed: true, MatchRate: 93.25, Attempts: 1},
		},
		EndedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	results := make([]OutcomeResult, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		results = append(results, OutcomeResult{
			Challenge: string(r.Type),
			Passed:    r.Passed,
			MatchRate: r.MatchRate,
			Attempts:  r.Attempts,
		})
	}
	message := OutcomeMessage{
		SessionID:        outcome.SessionID,
		Profile:          "alice",
		Completed:        outcome.Completed,
		AllPassed:        outcome.AllPassed,
		OverallMatchRate: outcome.OverallMatchRate,
		Reason:           string(outcome.Reason),
		Results:          results,
		EndedAt:          outcome.EndedAt,
	}

	data, err := json.Marshal(message)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "sess-9", decoded["session_id"])
	require.Equal(t, "alice", decoded["profile"])
	require.Equal(t, true, decoded["all_passed"])
	require.InDelta(t, 93.25, decoded["overall_match_rate"], 0.001)
	require.NotContains(t, decoded, "reason")

	resultList, ok := decoded["results"].([]interface{})
	require.True(t, ok)
	require.Len(t, resultList, 1)
	first := resultList[0].(map[string]interface{})
	require.Equal(t, "blink", first["challenge"])
}
