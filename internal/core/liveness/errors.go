package liveness

import "errors"

var (
	// ErrSessionNotRunning: der Tick wurde außerhalb des Running-Zustands aufgerufen
	ErrSessionNotRunning = errors.New("liveness session is not running")

	// ErrAlreadyStarted: Start wurde auf einer bereits gestarteten Session aufgerufen
	ErrAlreadyStarted = errors.New("liveness session already started")

	// ErrNoChallenges: die konfigurierte Challenge-Sequenz ist leer
	ErrNoChallenges = errors.New("challenge sequence is empty")

	// ErrMissingReference: kein Referenz-Deskriptor für den Abgleich vorhanden
	ErrMissingReference = errors.New("reference descriptor is empty")
)

// AbortReason begründet den Abbruch einer Session
type AbortReason string

const (
	// AbortBackendError: die Gesichtserkennung hat einen Fehler gemeldet
	AbortBackendError AbortReason = "backend_error"

	// AbortTimeout: das Versuchs- oder Zeitbudget der aktiven Challenge ist erschöpft
	AbortTimeout AbortReason = "timeout"

	// AbortCancelled: die Session wurde vom Aufrufer beendet
	AbortCancelled AbortReason = "cancelled"

	// AbortSuperseded: das Referenzprofil wurde während der Session neu erfasst
	AbortSuperseded AbortReason = "superseded"
)
