package liveness

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/gesture"
	"liveness-gate-go/internal/core/match"
	"liveness-gate-go/internal/core/vision"
	"liveness-gate-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// Analyzer liefert Gesichter für einen Frame. Eine leere Liste bedeutet
// "kein Gesicht" und ist kein Fehler; ein zurückgegebener Fehler gilt als
// Backend-Ausfall und führt zum Abbruch der Session.
type Analyzer interface {
	DetectFaces(ctx context.Context, img image.Image) ([]vision.Face, error)
}

// SessionState beschreibt den Zustand einer Liveness-Session
type SessionState string

const (
	// StateIdle: angelegt, aber noch nicht gestartet
	StateIdle SessionState = "idle"

	// StateRunning: die Challenge-Sequenz läuft
	StateRunning SessionState = "running"

	// StateCompleted: alle Slots sind bewertet, die Sequenz ist durchlaufen
	StateCompleted SessionState = "completed"

	// StateAborted: die Session wurde vor dem Ende beendet
	StateAborted SessionState = "aborted"
)

// Options bündelt Schwellwerte und Budgets einer Session
type Options struct {
	// BlinkThreshold ist der EAR-Schwellwert für ein Blinzeln
	BlinkThreshold float64

	// SmileThreshold ist der Mindestwert für die Happy-Wahrscheinlichkeit
	SmileThreshold float64

	// SmileAllowSurprised lässt auch "surprised" als Lächeln gelten
	SmileAllowSurprised bool

	// MatchThreshold ist die Mindest-Matchrate in Prozent
	MatchThreshold float64

	// Sequence ist die geordnete Challenge-Abfolge
	Sequence []ChallengeType

	// MaxAttempts ist das Versuchsbudget pro Challenge
	MaxAttempts int

	// ChallengeTimeout ist das Zeitbudget pro Challenge, 0 deaktiviert es
	ChallengeTimeout time.Duration
}

// OptionsFromConfig baut Options aus der Liveness-Konfiguration
func OptionsFromConfig(cfg config.LivenessConfig) (Options, error) {
	sequence := make([]ChallengeType, 0, len(cfg.Challenges))
	for _, raw := range cfg.Challenges {
		t, err := ParseChallengeType(raw)
		if err != nil {
			return Options{}, fmt.Errorf("invalid challenge sequence: %w", err)
		}
		sequence = append(sequence, t)
	}
	if len(sequence) == 0 {
		return Options{}, ErrNoChallenges
	}

	return Options{
		BlinkThreshold:      cfg.BlinkThreshold,
		SmileThreshold:      cfg.SmileThreshold,
		SmileAllowSurprised: cfg.SmileAllowSurprised,
		MatchThreshold:      cfg.MatchThreshold,
		Sequence:            sequence,
		MaxAttempts:         cfg.MaxAttempts,
		ChallengeTimeout:    time.Duration(cfg.ChallengeTimeoutSeconds) * time.Second,
	}, nil
}

// ProgressEntry ist ein Eintrag im Fortschrittsprotokoll einer Session.
// Das Protokoll ist append-only, Seq steigt streng monoton.
type ProgressEntry struct {
	Seq       int           `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message"`
	Challenge ChallengeType `json:"challenge,omitempty"`
	State     SessionState  `json:"state"`
}

// Outcome ist das Endergebnis einer Session. Es wird genau einmal über den
// Outcome-Callback geliefert: bei Completed sowie bei den Abbrüchen
// backend_error und timeout. Für cancelled und superseded feuert der
// Callback nie.
type Outcome struct {
	SessionID        string      `json:"session_id"`
	Completed        bool        `json:"completed"`
	AllPassed        bool        `json:"all_passed"`
	OverallMatchRate float64     `json:"overall_match_rate"`
	Results          []Result    `json:"results"`
	Reason           AbortReason `json:"reason,omitempty"`
	FrameCount       int         `json:"frame_count"`
	StartedAt        time.Time   `json:"started_at"`
	EndedAt          time.Time   `json:"ended_at"`
}

// TickResult beschreibt, was ein einzelner Verarbeitungstick getan hat
type TickResult struct {
	// Skipped: der Frame wurde verworfen (Tick-Guard oder Session beendet)
	Skipped bool `json:"skipped"`

	// FaceFound: im Frame wurde ein Gesicht gefunden
	FaceFound bool `json:"face_found"`

	// GestureDetected: die geforderte Geste wurde erkannt
	GestureDetected bool `json:"gesture_detected"`

	// Scored: es gab einen Abgleich gegen das Referenzprofil
	Scored bool `json:"scored"`

	// MatchRate ist die Rate dieses Abgleichs in Prozent
	MatchRate float64 `json:"match_rate,omitempty"`

	// Challenge ist die zum Tick-Zeitpunkt aktive Challenge
	Challenge ChallengeType `json:"challenge,omitempty"`

	// State ist der Session-Zustand nach dem Tick
	State SessionState `json:"state"`

	// Face ist das ausgewertete Gesicht, für Debug-Zwecke
	Face *vision.Face `json:"-"`
}

// Orchestrator führt die Challenge-Sequenz einer einzelnen Session aus.
// Ticks sind kooperativ: ProcessFrame verarbeitet genau einen Frame und
// kehrt zurück, ein Guard verwirft Frames, solange ein Tick läuft. Alle
// Zustandsübergänge passieren unter dem Session-Lock.
type Orchestrator struct {
	id        string
	opts      Options
	analyzer  Analyzer
	reference []float32
	msgs      Messages

	// onProgress wird unter dem Session-Lock aufgerufen und darf nicht
	// blockieren; onOutcome wird außerhalb des Locks aufgerufen
	onProgress func(ProgressEntry)
	onOutcome  func(Outcome)

	mu          sync.Mutex
	state       SessionState
	reason      AbortReason
	challenges  []*Challenge
	index       int
	progress    []ProgressEntry
	seq         int
	ticking     bool
	frames      int
	startedAt   time.Time
	endedAt     time.Time
	outcomeSent bool
}

// NewOrchestrator legt eine Session im Zustand Idle an
func NewOrchestrator(id string, opts Options, analyzer Analyzer, reference []float32, msgs Messages,
	onProgress func(ProgressEntry), onOutcome func(Outcome)) (*Orchestrator, error) {

	if analyzer == nil {
		return nil, fmt.Errorf("no face analyzer configured")
	}
	if len(opts.Sequence) == 0 {
		return nil, ErrNoChallenges
	}
	if len(reference) == 0 {
		return nil, ErrMissingReference
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	challenges := make([]*Challenge, len(opts.Sequence))
	for i, t := range opts.Sequence {
		challenges[i] = &Challenge{Type: t, State: ChallengePending}
	}

	return &Orchestrator{
		id:         id,
		opts:       opts,
		analyzer:   analyzer,
		reference:  reference,
		msgs:       msgs,
		onProgress: onProgress,
		onOutcome:  onOutcome,
		state:      StateIdle,
		challenges: challenges,
	}, nil
}

// ID gibt die Session-ID zurück
func (o *Orchestrator) ID() string {
	return o.id
}

// State gibt den aktuellen Session-Zustand zurück
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reason gibt den Abbruchgrund zurück, leer solange nicht abgebrochen
func (o *Orchestrator) Reason() AbortReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

// CurrentChallenge liefert Typ und Position der aktiven Challenge.
// ok ist false, wenn die Session nicht läuft.
func (o *Orchestrator) CurrentChallenge() (t ChallengeType, position int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning || o.index >= len(o.challenges) {
		return "", 0, false
	}
	return o.challenges[o.index].Type, o.index, true
}

// Progress liefert eine Kopie des Fortschrittsprotokolls
func (o *Orchestrator) Progress() []ProgressEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := make([]ProgressEntry, len(o.progress))
	copy(entries, o.progress)
	return entries
}

// Results liefert einen Schnappschuss aller Challenge-Slots
func (o *Orchestrator) Results() []Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resultsLocked()
}

// FrameCount gibt die Anzahl der verarbeiteten Frames zurück
func (o *Orchestrator) FrameCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames
}

// Snapshot baut den aktuellen Stand als Outcome zusammen, unabhängig davon,
// ob der Outcome-Callback gefeuert hat. Für die Persistierung stornierter
// Sessions gedacht.
func (o *Orchestrator) Snapshot() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomeLocked()
}

// Start wechselt von Idle nach Running und aktiviert den ersten Slot
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return ErrAlreadyStarted
	}

	o.state = StateRunning
	o.startedAt = timezone.Now()
	o.challenges[0].StartedAt = o.startedAt
	o.appendLocked(o.msgs.Started, "")

	log.WithFields(log.Fields{
		"session_id": o.id,
		"challenges": len(o.challenges),
	}).Info("Liveness session started")

	return nil
}

// Stop beendet die Session ohne Outcome-Callback. Mehrfacher Aufruf ist
// unschädlich, eine bereits abgeschlossene Session bleibt unverändert.
func (o *Orchestrator) Stop() {
	o.cancel(AbortCancelled, o.msgs.Cancelled)
}

// Supersede bricht die Session ab, weil ihr Referenzprofil neu erfasst
// wurde. Wie Stop feuert Supersede keinen Outcome-Callback.
func (o *Orchestrator) Supersede() {
	o.cancel(AbortSuperseded, o.msgs.ProfileReenrolled)
}

func (o *Orchestrator) cancel(reason AbortReason, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateCompleted || o.state == StateAborted {
		return
	}

	o.state = StateAborted
	o.reason = reason
	o.endedAt = timezone.Now()
	// Der Outcome-Callback feuert für stornierte Sessions nie
	o.outcomeSent = true
	o.appendLocked(msg, "")

	log.WithFields(log.Fields{
		"session_id": o.id,
		"reason":     reason,
	}).Info("Liveness session cancelled")
}

// ProcessFrame führt einen Tick aus: Gesichter erkennen, die aktive Challenge
// auswerten, bei erkannter Geste gegen das Referenzprofil abgleichen. Läuft
// bereits ein Tick, wird der Frame mit Skipped=true verworfen. Die Erkennung
// selbst läuft ohne Lock; wird die Session währenddessen beendet, wird das
// Ergebnis verworfen.
func (o *Orchestrator) ProcessFrame(ctx context.Context, img image.Image) (TickResult, error) {
	o.mu.Lock()

	if o.state != StateRunning {
		st := o.state
		o.mu.Unlock()
		return TickResult{State: st}, ErrSessionNotRunning
	}
	if o.ticking {
		o.mu.Unlock()
		return TickResult{Skipped: true, State: StateRunning}, nil
	}

	o.ticking = true
	o.frames++
	current := o.challenges[o.index]

	// Zeitbudget prüfen, bevor teuer erkannt wird
	if o.opts.ChallengeTimeout > 0 && timezone.Now().Sub(current.StartedAt) > o.opts.ChallengeTimeout {
		o.ticking = false
		out := o.abortLocked(AbortTimeout, o.msgs.ChallengeTimedOut, current.Type)
		o.mu.Unlock()
		o.deliverOutcome(out)
		return TickResult{Challenge: current.Type, State: StateAborted}, nil
	}

	o.mu.Unlock()

	faces, err := o.analyzer.DetectFaces(ctx, img)

	o.mu.Lock()
	o.ticking = false

	if o.state != StateRunning {
		// Session wurde während der Erkennung beendet
		st := o.state
		o.mu.Unlock()
		return TickResult{Skipped: true, State: st}, nil
	}

	if err != nil {
		log.WithFields(log.Fields{
			"session_id": o.id,
			"challenge":  current.Type,
		}).Errorf("Face detection failed: %v", err)
		out := o.abortLocked(AbortBackendError, o.msgs.BackendError, current.Type)
		o.mu.Unlock()
		o.deliverOutcome(out)
		return TickResult{Challenge: current.Type, State: StateAborted}, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		// Kein Gesicht kostet weder Versuch noch Fortschritt
		o.appendLocked(o.msgs.NoFace, current.Type)
		o.mu.Unlock()
		return TickResult{Challenge: current.Type, State: StateRunning}, nil
	}

	face := bestFace(faces)

	var detected bool
	switch current.Type {
	case ChallengeBlink:
		detected = gesture.BlinkDetected(face, o.opts.BlinkThreshold)
	case ChallengeSmile:
		detected = gesture.SmileDetected(face, o.opts.SmileThreshold, o.opts.SmileAllowSurprised)
	}

	if !detected {
		o.appendLocked(o.msgs.Prompt(current.Type), current.Type)
		o.mu.Unlock()
		return TickResult{FaceFound: true, Challenge: current.Type, State: StateRunning, Face: &face}, nil
	}

	// Geste erkannt, der Slot wird bewertet
	current.State = ChallengeDetected
	o.appendLocked(o.msgs.Detected(current.Type), current.Type)

	res, err := match.Score(face.Descriptor, o.reference, o.opts.MatchThreshold)
	if err != nil {
		// Unbrauchbarer Deskriptor wird wie ein Backend-Fehler behandelt
		log.WithFields(log.Fields{
			"session_id": o.id,
			"challenge":  current.Type,
		}).Errorf("Match scoring failed: %v", err)
		out := o.abortLocked(AbortBackendError, o.msgs.BackendError, current.Type)
		o.mu.Unlock()
		o.deliverOutcome(out)
		return TickResult{FaceFound: true, GestureDetected: true, Challenge: current.Type, State: StateAborted, Face: &face},
			fmt.Errorf("match scoring failed: %w", err)
	}

	current.Attempts++
	current.MatchRate = res.RatePercent
	o.appendLocked(fmt.Sprintf(o.msgs.MatchRateFmt, res.RatePercent), current.Type)

	tick := TickResult{
		FaceFound:       true,
		GestureDetected: true,
		Scored:          true,
		MatchRate:       res.RatePercent,
		Challenge:       current.Type,
		Face:            &face,
	}

	if res.IsMatch {
		current.State = ChallengeScored
		current.Passed = true
		o.appendLocked(o.msgs.ChallengePassed, current.Type)

		log.WithFields(log.Fields{
			"session_id": o.id,
			"challenge":  current.Type,
			"match_rate": res.RatePercent,
			"attempts":   current.Attempts,
		}).Info("Challenge passed")

		o.index++
		if o.index >= len(o.challenges) {
			out := o.completeLocked()
			o.mu.Unlock()
			o.deliverOutcome(out)
			tick.State = StateCompleted
			return tick, nil
		}

		// Nächsten Slot aktivieren, das Zeitbudget beginnt jetzt
		o.challenges[o.index].StartedAt = timezone.Now()
		o.mu.Unlock()
		tick.State = StateRunning
		return tick, nil
	}

	// Abgleich unter der Schwelle: der Versuch ist verbraucht
	o.appendLocked(fmt.Sprintf(o.msgs.BelowThresholdFmt, res.RatePercent), current.Type)

	if current.Attempts >= o.opts.MaxAttempts {
		current.State = ChallengeScored
		current.Passed = false
		out := o.abortLocked(AbortTimeout, o.msgs.ChallengeTimedOut, current.Type)
		o.mu.Unlock()
		o.deliverOutcome(out)
		tick.State = StateAborted
		return tick, nil
	}

	// Budget ist noch übrig, der Slot wartet wieder auf die Geste
	current.State = ChallengePending
	o.mu.Unlock()
	tick.State = StateRunning
	return tick, nil
}

// appendLocked hängt einen Protokolleintrag an und ruft den
// Progress-Callback auf. Muss unter o.mu laufen.
func (o *Orchestrator) appendLocked(msg string, challenge ChallengeType) {
	o.seq++
	entry := ProgressEntry{
		Seq:       o.seq,
		Timestamp: timezone.Now(),
		Message:   msg,
		Challenge: challenge,
		State:     o.state,
	}
	o.progress = append(o.progress, entry)
	if o.onProgress != nil {
		o.onProgress(entry)
	}
}

// completeLocked schließt die Session ab. Muss unter o.mu laufen.
func (o *Orchestrator) completeLocked() Outcome {
	o.state = StateCompleted
	o.endedAt = timezone.Now()

	allPassed := true
	for _, c := range o.challenges {
		if !c.Passed {
			allPassed = false
		}
	}
	if allPassed {
		o.appendLocked(o.msgs.AllPassed, "")
	}

	log.WithFields(log.Fields{
		"session_id": o.id,
		"all_passed": allPassed,
		"frames":     o.frames,
		"duration":   o.endedAt.Sub(o.startedAt),
	}).Info("Liveness session completed")

	return o.outcomeLocked()
}

// abortLocked bricht die Session ab. Muss unter o.mu laufen.
func (o *Orchestrator) abortLocked(reason AbortReason, msg string, challenge ChallengeType) Outcome {
	o.state = StateAborted
	o.reason = reason
	o.endedAt = timezone.Now()
	o.appendLocked(msg, challenge)

	log.WithFields(log.Fields{
		"session_id": o.id,
		"reason":     reason,
		"frames":     o.frames,
	}).Warn("Liveness session aborted")

	return o.outcomeLocked()
}

// outcomeLocked baut den Outcome-Schnappschuss. Muss unter o.mu laufen.
func (o *Orchestrator) outcomeLocked() Outcome {
	results := o.resultsLocked()

	allPassed := len(results) > 0
	sum := 0.0
	passed := 0
	for _, r := range results {
		if r.Passed {
			sum += r.MatchRate
			passed++
		} else {
			allPassed = false
		}
	}
	overall := 0.0
	if passed > 0 {
		overall = roundRate(sum / float64(passed))
	}

	return Outcome{
		SessionID:        o.id,
		Completed:        o.state == StateCompleted,
		AllPassed:        o.state == StateCompleted && allPassed,
		OverallMatchRate: overall,
		Results:          results,
		Reason:           o.reason,
		FrameCount:       o.frames,
		StartedAt:        o.startedAt,
		EndedAt:          o.endedAt,
	}
}

func (o *Orchestrator) resultsLocked() []Result {
	results := make([]Result, len(o.challenges))
	for i, c := range o.challenges {
		results[i] = Result{
			Type:      c.Type,
			Position:  i,
			Passed:    c.Passed,
			MatchRate: c.MatchRate,
			Attempts:  c.Attempts,
		}
	}
	return results
}

// deliverOutcome ruft den Outcome-Callback genau einmal auf
func (o *Orchestrator) deliverOutcome(out Outcome) {
	o.mu.Lock()
	if o.outcomeSent {
		o.mu.Unlock()
		return
	}
	o.outcomeSent = true
	o.mu.Unlock()

	if o.onOutcome != nil {
		o.onOutcome(out)
	}
}

// bestFace wählt bei mehreren Gesichtern das mit der höchsten Konfidenz
func bestFace(faces []vision.Face) vision.Face {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best
}

func roundRate(rate float64) float64 {
	return math.Round(rate*100) / 100
}
