package processing

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/liveness"
	"liveness-gate-go/internal/core/vision"
	"liveness-gate-go/internal/db"
	"liveness-gate-go/internal/db/repository"
	"liveness-gate-go/internal/server/sse"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func coordEye(originX, width, height float64) []vision.Point {
	halfH := height / 2
	return []vision.Point{
		{X: originX, Y: 0},
		{X: originX + width/3, Y: halfH},
		{X: originX + 2*width/3, Y: halfH},
		{X: originX + width, Y: 0},
		{X: originX + 2*width/3, Y: -halfH},
		{X: originX + width/3, Y: -halfH},
	}
}

func coordFace(leftEAR, rightEAR, happy float64, descriptor []float32) vision.Face {
	landmarks := make(vision.Landmarks, vision.LandmarkCount)
	const eyeWidth = 10.0
	copy(landmarks[36:42], coordEye(0, eyeWidth, leftEAR*eyeWidth))
	copy(landmarks[42:48], coordEye(20, eyeWidth, rightEAR*eyeWidth))
	return vision.Face{
		Box:         vision.BoundingBox{Width: 100, Height: 100},
		Confidence:  0.98,
		Landmarks:   landmarks,
		Expressions: vision.ExpressionSet{vision.ExpressionHappy: happy},
		Descriptor:  descriptor,
	}
}

func refDescriptor() []float32 {
	d := make([]float32, vision.DescriptorLength)
	d[0] = 1
	return d
}

func enrollFace() vision.Face {
	return coordFace(0.4, 0.4, 0.05, refDescriptor())
}

func blinkFrame() vision.Face {
	return coordFace(0.1, 0.1, 0.05, refDescriptor())
}

func smileFrame() vision.Face {
	return coordFace(0.4, 0.4, 0.9, refDescriptor())
}

type providerResponse struct {
	faces []vision.Face
	err   error
}

// scriptedProvider returns one scripted response per call, then empty frames.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []providerResponse
	calls     int
}

func (p *scriptedProvider) GetProviderName() vision.ProviderType {
	return vision.ProviderFaceAPI
}

func (p *scriptedProvider) IsAvailable(_ context.Context) bool {
	return true
}

func (p *scriptedProvider) DetectFaces(_ context.Context, _ image.Image) ([]vision.Face, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.responses) {
		return nil, nil
	}
	return p.responses[idx].faces, p.responses[idx].err
}

type fakePublisher struct {
	mu       sync.Mutex
	profiles []string
	outcomes []liveness.Outcome
}

func (f *fakePublisher) PublishOutcome(profile string, outcome liveness.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, profile)
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakePublisher) published() []liveness.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	outs := make([]liveness.Outcome, len(f.outcomes))
	copy(outs, f.outcomes)
	return outs
}

func coordConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{SnapshotDir: t.TempDir()},
		Liveness: config.LivenessConfig{
			BlinkThreshold: 0.3,
			SmileThreshold: 0.5,
			MatchThreshold: 80,
			Challenges:     []string{"blink", "smile"},
			MaxAttempts:    3,
		},
	}
}

func newTestCoordinator(t *testing.T, provider vision.Provider) (*Coordinator, repository.Repository, *fakePublisher) {
	t.Helper()

	dbFile := filepath.Join(t.TempDir(), "test.db")
	gormDB, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	repo := repository.NewSQLiteRepository(gormDB)

	pool := NewWorkerPool(provider)
	t.Cleanup(pool.Shutdown)

	hub := sse.NewHub()
	go hub.Run()

	coordinator := NewCoordinator(coordConfig(t), repo, pool, hub)
	publisher := &fakePublisher{}
	coordinator.AddOutcomePublisher(publisher)

	return coordinator, repo, publisher
}

func frameImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 1, 1))
}

func TestEnrollCreatesProfile(t *testing.T) {
	provider := &scriptedProvider{responses: []providerResponse{
		{faces: []vision.Face{enrollFace()}},
	}}
	coordinator, repo, _ := newTestCoordinator(t, provider)

	result, err := coordinator.Enroll(context.Background(), "Alice", frameImage())
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, 0.98, result.Confidence)
	require.Equal(t, 0, result.Superseded)

	profile, err := repo.GetProfileByName("Alice")
	require.NoError(t, err)
	require.NotNil(t, profile)

	descriptor, err := profile.GetDescriptor()
	require.NoError(t, err)
	require.Equal(t, refDescriptor(), descriptor)
	require.False(t, profile.EnrolledAt.IsZero())

	// the enrollment snapshot lands on disk under a sanitized name
	require.NotEmpty(t, profile.SnapshotPath)
	require.True(t, strings.HasPrefix(profile.SnapshotPath, "alice_"))
}

func TestEnrollRejectsBadImages(t *testing.T) {
	provider := &scriptedProvider{responses: []providerResponse{
		{faces: nil},
		{faces: []vision.Face{enrollFace(), enrollFace()}},
	}}
	coordinator, repo, _ := newTestCoordinator(t, provider)

	_, err := coordinator.Enroll(context.Background(), "alice", frameImage())
	require.ErrorIs(t, err, ErrEnrollmentFaceMissing)

	_, err = coordinator.Enroll(context.Background(), "alice", frameImage())
	require.ErrorIs(t, err, ErrEnrollmentMultipleFaces)

	// a rejected enrollment writes no profile data
	profile, err := repo.GetProfileByName("alice")
	require.NoError(t, err)
	require.Nil(t, profile)
}

func TestFullVerificationFlow(t *testing.T) {
	provider := &scriptedProvider{responses: []providerResponse{
		{faces: []vision.Face{enrollFace()}},
		{faces: []vision.Face{blinkFrame()}},
		{faces: []vision.Face{smileFrame()}},
	}}
	coordinator, repo, publisher := newTestCoordinator(t, provider)
	ctx := context.Background()

	_, err := coordinator.Enroll(ctx, "alice", frameImage())
	require.NoError(t, err)

	info, err := coordinator.StartSession("alice", "http", liveness.Messages{})
	require.NoError(t, err)
	require.Equal(t, "running", info.State)
	require.Equal(t, "blink", info.Challenge)
	require.Equal(t, 1, coordinator.ActiveSessionCount())

	tick, err := coordinator.SubmitFrame(ctx, info.ID, frameImage())
	require.NoError(t, err)
	require.Equal(t, liveness.StateRunning, tick.State)
	require.Equal(t, 100.0, tick.MatchRate)

	tick, err = coordinator.SubmitFrame(ctx, info.ID, frameImage())
	require.NoError(t, err)
	require.Equal(t, liveness.StateCompleted, tick.State)

	// the finished session leaves the registry
	require.Equal(t, 0, coordinator.ActiveSessionCount())
	_, err = coordinator.GetSession(info.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// outcome reaches the external publisher exactly once
	outs := publisher.published()
	require.Len(t, outs, 1)
	require.True(t, outs[0].AllPassed)
	require.Equal(t, 100.0, outs[0].OverallMatchRate)

	// and is persisted with its challenge results
	record, err := repo.GetSessionBySessionID(info.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "completed", record.State)
	require.True(t, record.AllPassed)
	require.Equal(t, "http", record.Source)
	require.Equal(t, 2, record.FrameCount)
	require.Len(t, record.Results, 2)
	require.Equal(t, "blink", record.Results[0].Type)
	require.True(t, record.Results[1].Passed)
}

func TestCancelSessionPersistsCancelled(t *testing.T) {
	provider := &scriptedProvider{responses: []providerResponse{
		{faces: []vision.Face{enrollFace()}},
	}}
	coordinator, repo, publisher := newTestCoordinator(t, provider)
	ctx := context.Background()

	_, err := coordinator.Enroll(ctx, "alice", frameImage())
	require.NoError(t, err)

	info, err := coordinator.StartSession("alice", "http", liveness.Messages{})
	require.NoError(t, err)

	require.NoError(t, coordinator.CancelSession(info.ID))
	require.ErrorIs(t, coordinator.CancelSession(info.ID), ErrSessionNotFound)

	// cancellation bypasses the outcome publishers
	require.Empty(t, publisher.published())

	record, err := repo.GetSessionBySessionID(info.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "aborted", record.State)
	require.Equal(t, "cancelled", record.Reason)
}

func TestReenrollmentSupersedesRunningSessions(t *testing.T) {
	provider := &scriptedProvider{responses: []providerResponse{
		{faces: []vision.Face{enrollFace()}},
		{faces: []vision.Face{enrollFace()}},
	}}
	coordinator, repo, publisher := newTestCoordinator(t, provider)
	ctx := context.Background()

	_, err := coordinator.Enroll(ctx, "alice", frameImage())
	require.NoError(t, err)

	info, err := coordinator.StartSession("alice", "http", liveness.Messages{})
	require.NoError(t, err)

	result, err := coordinator.Enroll(ctx, "alice", frameImage())
	require.NoError(t, err)
	require.False(t, result.Created)
	require.Equal(t, 1, result.Superseded)

	// the abandoned session is gone and its callback never fired
	_, err = coordinator.SubmitFrame(ctx, info.ID, frameImage())
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Empty(t, publisher.published())

	record, err := repo.GetSessionBySessionID(info.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "superseded", record.Reason)
}

func TestStartSessionUnknownProfile(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, &scriptedProvider{})

	_, err := coordinator.StartSession("nobody", "http", liveness.Messages{})
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSubmitFrameUnknownSession(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, &scriptedProvider{})

	_, err := coordinator.SubmitFrame(context.Background(), "missing", frameImage())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestShutdownCancelsSessions(t *testing.T) {
	provider := &scriptedProvider{responses: []providerResponse{
		{faces: []vision.Face{enrollFace()}},
	}}
	coordinator, repo, _ := newTestCoordinator(t, provider)
	ctx := context.Background()

	_, err := coordinator.Enroll(ctx, "alice", frameImage())
	require.NoError(t, err)

	info, err := coordinator.StartSession("alice", "camera", liveness.Messages{})
	require.NoError(t, err)

	coordinator.Shutdown()
	require.Equal(t, 0, coordinator.ActiveSessionCount())

	record, err := repo.GetSessionBySessionID(info.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "cancelled", record.Reason)
}

func TestEnrollSnapshotOnDisk(t *testing.T) {
	provider := &scriptedProvider{responses: []providerResponse{
		{faces: []vision.Face{enrollFace()}},
	}}

	cfg := coordConfig(t)
	dbFile := filepath.Join(t.TempDir(), "test.db")
	gormDB, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	pool := NewWorkerPool(provider)
	t.Cleanup(pool.Shutdown)
	hub := sse.NewHub()
	go hub.Run()

	coordinator := NewCoordinator(cfg, repository.NewSQLiteRepository(gormDB), pool, hub)

	_, err = coordinator.Enroll(context.Background(), "Bob Example", frameImage())
	require.NoError(t, err)

	files, err := os.ReadDir(cfg.Server.SnapshotDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.True(t, strings.HasPrefix(files[0].Name(), "bob_example_"))
	require.True(t, strings.HasSuffix(files[0].Name(), "_enroll.jpg"))
}
