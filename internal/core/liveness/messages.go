package liveness

// Messages enthält die Texte, die der Orchestrator in das Fortschrittsprotokoll
// schreibt. Die Felder mit Fmt-Suffix sind fmt-Formatstrings. Die i18n-Schicht
// baut pro Sprache eine Instanz aus den Locale-Katalogen, DefaultMessages
// liefert die englischen Texte als Fallback.
type Messages struct {
	Started           string
	NoFace            string
	PromptBlink       string
	PromptSmile       string
	BlinkDetected     string
	SmileDetected     string
	MatchRateFmt      string
	ChallengePassed   string
	BelowThresholdFmt string
	AllPassed         string
	ChallengeTimedOut string
	BackendError      string
	Cancelled         string
	ProfileReenrolled string
}

// DefaultMessages liefert den englischen Standardkatalog
func DefaultMessages() Messages {
	return Messages{
		Started:           "liveness check started",
		NoFace:            "no face detected",
		PromptBlink:       "please blink",
		PromptSmile:       "please smile",
		BlinkDetected:     "blink detected",
		SmileDetected:     "smile detected",
		MatchRateFmt:      "match rate: %.2f%%",
		ChallengePassed:   "challenge passed",
		BelowThresholdFmt: "match rate %.2f%% below threshold, try again",
		AllPassed:         "all challenges passed",
		ChallengeTimedOut: "challenge timed out",
		BackendError:      "face detection backend error",
		Cancelled:         "liveness check cancelled",
		ProfileReenrolled: "reference profile was re-enrolled",
	}
}

// Prompt liefert die Aufforderung für eine Challenge
func (m Messages) Prompt(t ChallengeType) string {
	switch t {
	case ChallengeBlink:
		return m.PromptBlink
	case ChallengeSmile:
		return m.PromptSmile
	default:
		return ""
	}
}

// Detected liefert die Bestätigung für eine erkannte Geste
func (m Messages) Detected(t ChallengeType) string {
	switch t {
	case ChallengeBlink:
		return m.BlinkDetected
	case ChallengeSmile:
		return m.SmileDetected
	default:
		return ""
	}
}
