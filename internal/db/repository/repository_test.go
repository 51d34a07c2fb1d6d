package repository

import (
	"path/filepath"
	"testing"
	"time"

	"liveness-gate-go/internal/core/models"
	"liveness-gate-go/internal/db"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	gormDB, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	return NewSQLiteRepository(gormDB)
}

func testProfile(t *testing.T, repo *SQLiteRepository, name string) *models.ReferenceProfile {
	t.Helper()
	descriptor := make([]float32, 128)
	descriptor[0] = 0.25
	profile := &models.ReferenceProfile{
		Name:       name,
		EnrolledAt: time.Now(),
	}
	require.NoError(t, profile.SetDescriptor(descriptor))
	require.NoError(t, repo.SaveProfile(profile))
	return profile
}

func TestProfileRoundTrip(t *testing.T) {
	repo := testRepository(t)

	created := testProfile(t, repo, "alice")
	require.NotZero(t, created.ID)

	loaded, err := repo.GetProfileByName("alice")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	descriptor, err := loaded.GetDescriptor()
	require.NoError(t, err)
	require.Len(t, descriptor, 128)
	require.Equal(t, float32(0.25), descriptor[0])

	byID, err := repo.GetProfileByID(created.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.Equal(t, "alice", byID.Name)

	require.NoError(t, repo.DeleteProfile(created.ID))
	gone, err := repo.GetProfileByID(created.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestProfileNotFoundIsNil(t *testing.T) {
	repo := testRepository(t)

	profile, err := repo.GetProfileByName("nobody")
	require.NoError(t, err)
	require.Nil(t, profile)

	profile, err = repo.GetProfileByID(42)
	require.NoError(t, err)
	require.Nil(t, profile)

	session, err := repo.GetSessionBySessionID("missing")
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestProfileNameIsUnique(t *testing.T) {
	repo := testRepository(t)
	testProfile(t, repo, "alice")

	duplicate := &models.ReferenceProfile{Name: "alice", EnrolledAt: time.Now()}
	require.NoError(t, duplicate.SetDescriptor(make([]float32, 128)))
	require.Error(t, repo.SaveProfile(duplicate))
}

func TestSessionPersistence(t *testing.T) {
	repo := testRepository(t)
	profile := testProfile(t, repo, "alice")

	now := time.Now()
	session := &models.VerificationSession{
		SessionID:        "session-1",
		ProfileID:        profile.ID,
		State:            "completed",
		AllPassed:        true,
		OverallMatchRate: 93.5,
		Source:           "http",
		StartedAt:        now.Add(-time.Minute),
		EndedAt:          now,
		FrameCount:       12,
		Results: []models.ChallengeResult{
			{Type: "blink", Position: 0, Passed: true, MatchRate: 95.0, Attempts: 1},
			{Type: "smile", Position: 1, Passed: true, MatchRate: 92.0, Attempts: 2},
		},
	}
	require.NoError(t, repo.SaveSession(session))

	loaded, err := repo.GetSessionBySessionID("session-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.AllPassed)
	require.Equal(t, 93.5, loaded.OverallMatchRate)
	require.Len(t, loaded.Results, 2)
	require.Equal(t, "blink", loaded.Results[0].Type)
	require.Equal(t, 2, loaded.Results[1].Attempts)
}

func TestSessionPagination(t *testing.T) {
	repo := testRepository(t)
	profile := testProfile(t, repo, "alice")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		session := &models.VerificationSession{
			SessionID: "session-" + string(rune('a'+i)),
			ProfileID: profile.ID,
			State:     "completed",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		require.NoError(t, repo.SaveSession(session))
	}

	sessions, total, err := repo.GetSessions(2, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, sessions, 2)

	// newest first
	require.Equal(t, "session-c", sessions[0].SessionID)
	require.Equal(t, "session-b", sessions[1].SessionID)

	byProfile, err := repo.GetSessionsByProfileID(profile.ID)
	require.NoError(t, err)
	require.Len(t, byProfile, 3)
}

func TestDeleteSessionsBefore(t *testing.T) {
	repo := testRepository(t)
	profile := testProfile(t, repo, "alice")

	now := time.Now()
	old := &models.VerificationSession{
		SessionID: "old-session",
		ProfileID: profile.ID,
		State:     "aborted",
		StartedAt: now.Add(-48 * time.Hour),
		EndedAt:   now.Add(-48 * time.Hour),
	}
	recent := &models.VerificationSession{
		SessionID: "recent-session",
		ProfileID: profile.ID,
		State:     "completed",
		StartedAt: now.Add(-time.Hour),
		EndedAt:   now.Add(-time.Hour),
	}
	require.NoError(t, repo.SaveSession(old))
	require.NoError(t, repo.SaveSession(recent))

	deleted, err := repo.DeleteSessionsBefore(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	remaining, total, err := repo.GetSessions(10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "recent-session", remaining[0].SessionID)
}

func TestStatistics(t *testing.T) {
	repo := testRepository(t)
	alice := testProfile(t, repo, "alice")
	testProfile(t, repo, "bob")

	now := time.Now()
	passed := &models.VerificationSession{
		SessionID: "passed",
		ProfileID: alice.ID,
		State:     "completed",
		AllPassed: true,
		StartedAt: now.Add(-time.Minute),
		EndedAt:   now,
	}
	aborted := &models.VerificationSession{
		SessionID: "aborted",
		ProfileID: alice.ID,
		State:     "aborted",
		Reason:    "timeout",
		StartedAt: now.Add(-2 * time.Minute),
		EndedAt:   now.Add(-time.Minute),
	}
	require.NoError(t, repo.SaveSession(passed))
	require.NoError(t, repo.SaveSession(aborted))

	stats, err := repo.GetStatistics()
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalProfiles)
	require.Equal(t, int64(2), stats.TotalSessions)
	require.Equal(t, int64(1), stats.CompletedSessions)
	require.Equal(t, int64(1), stats.PassedSessions)
	require.Equal(t, int64(1), stats.AbortedSessions)
	require.WithinDuration(t, passed.StartedAt, stats.LatestSession, time.Second)
	require.Len(t, stats.RecentSessions, 2)
}
