package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for frame payloads
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/liveness"
	"liveness-gate-go/internal/core/models"
	"liveness-gate-go/internal/db/repository"
	"liveness-gate-go/internal/server/sse"
	"liveness-gate-go/internal/util/timezone"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrProfileNotFound indicates that no reference profile exists for the requested name.
	ErrProfileNotFound = errors.New("reference profile not found")

	// ErrSessionNotFound indicates that no active session exists for the requested ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEnrollmentFaceMissing indicates that the enrollment image contained no face.
	ErrEnrollmentFaceMissing = errors.New("enrollment image contains no face")

	// ErrEnrollmentMultipleFaces indicates that the enrollment image contained more than one face.
	ErrEnrollmentMultipleFaces = errors.New("enrollment image contains more than one face")
)

// OutcomePublisher forwards finished session outcomes to external systems
// such as MQTT or Home Assistant. Implementations must not block for long;
// they are called on the goroutine that processed the final frame.
type OutcomePublisher interface {
	PublishOutcome(profileName string, outcome liveness.Outcome)
}

// FrameObserver inspects processed frames, for example to produce
// annotated debug images. Observers run on their own goroutine and never
// influence the session result.
type FrameObserver interface {
	ObserveFrame(sessionID string, img image.Image, tick liveness.TickResult)
}

type sessionMeta struct {
	id          string
	profileID   uint
	profileName string
	source      string
	createdAt   time.Time
}

type activeSession struct {
	meta         sessionMeta
	orchestrator *liveness.Orchestrator
}

// SessionInfo is the external view of an active session.
type SessionInfo struct {
	ID        string                   `json:"id"`
	Profile   string                   `json:"profile"`
	Source    string                   `json:"source"`
	State     string                   `json:"state"`
	Challenge string                   `json:"current_challenge,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	Progress  []liveness.ProgressEntry `json:"progress,omitempty"`
}

// EnrollmentResult describes a successful enrollment.
type EnrollmentResult struct {
	Profile    *models.ReferenceProfile `json:"profile"`
	Created    bool                     `json:"created"`
	Confidence float64                  `json:"confidence"`
	Superseded int                      `json:"superseded_sessions"`
}

// Coordinator owns the set of active liveness sessions. It enrolls
// reference profiles, creates orchestrators, routes frames to them and
// fans finished outcomes out to the database, the SSE hub and any
// registered external publishers.
type Coordinator struct {
	cfg  *config.Config
	repo repository.Repository
	pool *WorkerPool
	hub  *sse.Hub

	mu         sync.RWMutex
	sessions   map[string]*activeSession
	publishers []OutcomePublisher
	observers  []FrameObserver
}

// NewCoordinator creates a new session coordinator.
func NewCoordinator(cfg *config.Config, repo repository.Repository, pool *WorkerPool, hub *sse.Hub) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		repo:     repo,
		pool:     pool,
		hub:      hub,
		sessions: make(map[string]*activeSession),
	}
}

// AddOutcomePublisher registers an external publisher for session outcomes.
func (c *Coordinator) AddOutcomePublisher(p OutcomePublisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishers = append(c.publishers, p)
}

// AddFrameObserver registers an observer for processed frames.
func (c *Coordinator) AddFrameObserver(o FrameObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Enroll registers a reference profile from a single enrollment image.
// The image must contain exactly one face; otherwise the enrollment is
// rejected and no profile data is written. Re-enrolling an existing name
// replaces the stored descriptor and supersedes all running sessions of
// that profile before the new descriptor becomes visible.
func (c *Coordinator) Enroll(ctx context.Context, name string, img image.Image) (*EnrollmentResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("profile name must not be empty")
	}

	faces, err := c.pool.DetectFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrEnrollmentFaceMissing
	}
	if len(faces) > 1 {
		return nil, ErrEnrollmentMultipleFaces
	}

	face := faces[0]
	if len(face.Descriptor) == 0 {
		return nil, fmt.Errorf("enrollment face has no descriptor")
	}

	existing, err := c.repo.GetProfileByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up profile: %w", err)
	}

	profile := existing
	created := existing == nil
	superseded := 0
	if created {
		profile = &models.ReferenceProfile{Name: name}
	} else {
		// running sessions must never deliver an outcome for a profile
		// that has been re-enrolled underneath them
		superseded = c.InvalidateForProfile(existing.ID)
	}

	if err := profile.SetDescriptor(face.Descriptor); err != nil {
		return nil, err
	}
	profile.EnrolledAt = timezone.Now()

	if snapshot := c.saveEnrollmentSnapshot(name, img); snapshot != "" {
		profile.SnapshotPath = snapshot
	}

	if err := c.repo.SaveProfile(profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	log.WithFields(log.Fields{
		"profile":    name,
		"created":    created,
		"confidence": face.Confidence,
		"superseded": superseded,
	}).Info("Reference profile enrolled")

	return &EnrollmentResult{
		Profile:    profile,
		Created:    created,
		Confidence: face.Confidence,
		Superseded: superseded,
	}, nil
}

// saveEnrollmentSnapshot stores the enrollment image on disk, best effort.
// Returns the stored file name, or an empty string when saving failed.
func (c *Coordinator) saveEnrollmentSnapshot(name string, img image.Image) string {
	if c.cfg.Server.SnapshotDir == "" {
		return ""
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, nil); err != nil {
		log.Warnf("Failed to encode enrollment snapshot for '%s': %v", name, err)
		return ""
	}

	filename := fmt.Sprintf("%s_%d_enroll.jpg", sanitizeName(name), timezone.Now().UnixNano())
	path := filepath.Join(c.cfg.Server.SnapshotDir, filename)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		log.Warnf("Failed to write enrollment snapshot %s: %v", path, err)
		return ""
	}

	return filename
}

// StartSession creates and starts a liveness session for a profile.
// The messages catalog controls the language of the progress log; a zero
// value falls back to the English defaults.
func (c *Coordinator) StartSession(profileName, source string, msgs liveness.Messages) (*SessionInfo, error) {
	return c.StartSessionWithOverrides(profileName, source, msgs, nil)
}

// SessionOverrides narrows a single session's challenge parameters.
// Zero fields keep the configured defaults.
type SessionOverrides struct {
	Challenges              []string `json:"challenges"`
	MaxAttempts             int      `json:"max_attempts"`
	ChallengeTimeoutSeconds int      `json:"challenge_timeout_seconds"`
}

// StartSessionWithOverrides creates a session whose challenge sequence and
// budgets differ from the configured defaults.
func (c *Coordinator) StartSessionWithOverrides(profileName, source string, msgs liveness.Messages, ov *SessionOverrides) (*SessionInfo, error) {
	profile, err := c.repo.GetProfileByName(profileName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up profile: %w", err)
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}

	descriptor, err := profile.GetDescriptor()
	if err != nil {
		return nil, fmt.Errorf("stored descriptor is unreadable: %w", err)
	}

	livenessCfg := c.cfg.Liveness
	if ov != nil {
		if len(ov.Challenges) > 0 {
			livenessCfg.Challenges = ov.Challenges
		}
		if ov.MaxAttempts > 0 {
			livenessCfg.MaxAttempts = ov.MaxAttempts
		}
		if ov.ChallengeTimeoutSeconds > 0 {
			livenessCfg.ChallengeTimeoutSeconds = ov.ChallengeTimeoutSeconds
		}
	}

	opts, err := liveness.OptionsFromConfig(livenessCfg)
	if err != nil {
		return nil, err
	}

	if msgs.Started == "" {
		msgs = liveness.DefaultMessages()
	}

	meta := sessionMeta{
		id:          uuid.NewString(),
		profileID:   profile.ID,
		profileName: profile.Name,
		source:      source,
		createdAt:   timezone.Now(),
	}

	onProgress := func(e liveness.ProgressEntry) {
		c.hub.BroadcastProgress(meta.id, meta.profileName, e)
	}
	onOutcome := func(out liveness.Outcome) {
		c.handleOutcome(meta, out)
	}

	orch, err := liveness.NewOrchestrator(meta.id, opts, c.pool, descriptor, msgs, onProgress, onOutcome)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[meta.id] = &activeSession{meta: meta, orchestrator: orch}
	c.mu.Unlock()

	if err := orch.Start(); err != nil {
		c.mu.Lock()
		delete(c.sessions, meta.id)
		c.mu.Unlock()
		return nil, err
	}

	log.WithFields(log.Fields{
		"session_id": meta.id,
		"profile":    meta.profileName,
		"source":     source,
	}).Info("Verification session created")

	return c.sessionInfo(&activeSession{meta: meta, orchestrator: orch}, false), nil
}

// SubmitFrame routes a frame to the session's orchestrator.
func (c *Coordinator) SubmitFrame(ctx context.Context, sessionID string, img image.Image) (liveness.TickResult, error) {
	c.mu.RLock()
	sess, ok := c.sessions[sessionID]
	observers := c.observers
	c.mu.RUnlock()
	if !ok {
		return liveness.TickResult{}, ErrSessionNotFound
	}

	tick, err := sess.orchestrator.ProcessFrame(ctx, img)
	for _, obs := range observers {
		go obs.ObserveFrame(sessionID, img, tick)
	}
	return tick, err
}

// HandleFrame decodes an encoded frame received over MQTT and routes it to
// its session. Undecodable frames and frames for unknown or finished
// sessions are dropped; a dropped frame is never an error for the sender.
func (c *Coordinator) HandleFrame(sessionID string, payload []byte) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		log.Warnf("Dropping undecodable frame for session %s: %v", sessionID, err)
		return
	}

	tick, err := c.SubmitFrame(context.Background(), sessionID, img)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		log.Debugf("Dropping frame for unknown session %s", sessionID)
	case errors.Is(err, liveness.ErrSessionNotRunning):
		log.Debugf("Dropping frame for finished session %s", sessionID)
	case err != nil:
		// the orchestrator has already recorded the abort
		log.Debugf("Frame processing for session %s ended with: %v", sessionID, err)
	case tick.Skipped:
		log.Debugf("Frame for session %s skipped, tick in flight", sessionID)
	}
}

// CancelSession stops a session without delivering an outcome callback.
// The aborted session is still recorded in the database.
func (c *Coordinator) CancelSession(sessionID string) error {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.orchestrator.Stop()

	snapshot := sess.orchestrator.Snapshot()
	if snapshot.Reason == liveness.AbortCancelled {
		c.persistOutcome(sess.meta, snapshot)
	}

	return nil
}

// InvalidateForProfile supersedes all running sessions of a profile and
// returns how many sessions were affected. Used on re-enrollment and on
// profile deletion.
func (c *Coordinator) InvalidateForProfile(profileID uint) int {
	c.mu.Lock()
	var affected []*activeSession
	for id, sess := range c.sessions {
		if sess.meta.profileID == profileID {
			affected = append(affected, sess)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, sess := range affected {
		sess.orchestrator.Supersede()
		snapshot := sess.orchestrator.Snapshot()
		if snapshot.Reason == liveness.AbortSuperseded {
			c.persistOutcome(sess.meta, snapshot)
		}
	}

	if len(affected) > 0 {
		log.WithFields(log.Fields{
			"profile_id": profileID,
			"sessions":   len(affected),
		}).Info("Superseded running sessions after profile change")
	}

	return len(affected)
}

// GetSession returns the current state of an active session.
func (c *Coordinator) GetSession(sessionID string) (*SessionInfo, error) {
	c.mu.RLock()
	sess, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c.sessionInfo(sess, true), nil
}

// ActiveSessions lists all currently active sessions, oldest first.
func (c *Coordinator) ActiveSessions() []SessionInfo {
	c.mu.RLock()
	sessions := make([]*activeSession, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].meta.createdAt.Before(sessions[j].meta.createdAt)
	})

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, *c.sessionInfo(sess, false))
	}
	return infos
}

// ActiveSessionCount returns the number of active sessions.
func (c *Coordinator) ActiveSessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Shutdown cancels all active sessions, recording them as cancelled.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	sessions := make([]*activeSession, 0, len(c.sessions))
	for id, sess := range c.sessions {
		sessions = append(sessions, sess)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, sess := range sessions {
		sess.orchestrator.Stop()
		snapshot := sess.orchestrator.Snapshot()
		if snapshot.Reason == liveness.AbortCancelled {
			c.persistOutcome(sess.meta, snapshot)
		}
	}

	if len(sessions) > 0 {
		log.Infof("Cancelled %d active sessions during shutdown", len(sessions))
	}
}

func (c *Coordinator) sessionInfo(sess *activeSession, withProgress bool) *SessionInfo {
	info := &SessionInfo{
		ID:        sess.meta.id,
		Profile:   sess.meta.profileName,
		Source:    sess.meta.source,
		State:     string(sess.orchestrator.State()),
		CreatedAt: sess.meta.createdAt,
	}
	if challenge, _, ok := sess.orchestrator.CurrentChallenge(); ok {
		info.Challenge = string(challenge)
	}
	if withProgress {
		info.Progress = sess.orchestrator.Progress()
	}
	return info
}

// handleOutcome runs on the goroutine that processed the final frame.
func (c *Coordinator) handleOutcome(meta sessionMeta, out liveness.Outcome) {
	c.mu.Lock()
	delete(c.sessions, meta.id)
	publishers := make([]OutcomePublisher, len(c.publishers))
	copy(publishers, c.publishers)
	c.mu.Unlock()

	c.persistOutcome(meta, out)
	c.hub.BroadcastOutcome(meta.profileName, out)

	for _, pub := range publishers {
		pub.PublishOutcome(meta.profileName, out)
	}

	log.WithFields(log.Fields{
		"session_id": meta.id,
		"profile":    meta.profileName,
		"completed":  out.Completed,
		"all_passed": out.AllPassed,
		"reason":     out.Reason,
	}).Info("Session outcome delivered")
}

// persistOutcome writes the finished session to the database. Persistence
// failures are logged but do not affect the in-memory outcome delivery.
func (c *Coordinator) persistOutcome(meta sessionMeta, out liveness.Outcome) {
	record := &models.VerificationSession{
		SessionID:        out.SessionID,
		ProfileID:        meta.profileID,
		State:            stateString(out),
		AllPassed:        out.AllPassed,
		OverallMatchRate: out.OverallMatchRate,
		Reason:           string(out.Reason),
		Source:           meta.source,
		StartedAt:        out.StartedAt,
		EndedAt:          out.EndedAt,
		FrameCount:       out.FrameCount,
	}

	for _, r := range out.Results {
		record.Results = append(record.Results, models.ChallengeResult{
			Type:      string(r.Type),
			Position:  r.Position,
			Passed:    r.Passed,
			MatchRate: r.MatchRate,
			Attempts:  r.Attempts,
		})
	}

	if err := c.repo.SaveSession(record); err != nil {
		log.Errorf("Failed to persist session %s: %v", out.SessionID, err)
	}
}

func stateString(out liveness.Outcome) string {
	if out.Completed {
		return string(liveness.StateCompleted)
	}
	return string(liveness.StateAborted)
}

// sanitizeName normalizes a profile name for use in file names.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, name)
}
