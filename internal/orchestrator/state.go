package orchestrator

import (
	"fmt"
	"time"

	"github.com/chytonpide/chipi/internal/tone"
)

// State is a phase of the turn loop.
type State int

const (
	// Idle is between turns.
	Idle State = iota
	// Listening waits for the user to speak.
	Listening
	// Routing decides between ending the conversation and answering.
	Routing
	// Farewell is entered when the user said an exit keyword.
	Farewell
	// Inferring waits for the reasoning backend.
	Inferring
	// FallbackSpeaking speaks the fallback line after an empty reply.
	FallbackSpeaking
	// Speaking plays a reply.
	Speaking
	// Terminated is final.
	Terminated
)

var stateNames = [...]string{
	Idle:             "idle",
	Listening:        "listening",
	Routing:          "routing",
	Farewell:         "farewell",
	Inferring:        "inferring",
	FallbackSpeaking: "fallback_speaking",
	Speaking:         "speaking",
	Terminated:       "terminated",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome classifies how a turn ended.
type Outcome string

// Turn outcomes.
const (
	OutcomeAbsent          Outcome = "absent"
	OutcomeCanceled        Outcome = "recognition_canceled"
	OutcomeFarewell        Outcome = "farewell"
	OutcomeSpoken          Outcome = "spoken"
	OutcomeFallback        Outcome = "fallback"
	OutcomeSynthesisFailed Outcome = "synthesis_failed"
	OutcomePlaybackFailed  Outcome = "playback_failed"
)

// Turn is one listen→infer→speak cycle. A new Turn is created for every
// iteration and handed to the turn observer when it ends.
type Turn struct {
	// Index counts turns from 1.
	Index int

	// Transcript is the recognized text; empty when nothing was heard.
	Transcript string

	// Tone is the decision derived from Transcript.
	Tone tone.Decision

	// Reply is the backend's answer; empty when the fallback was used.
	Reply string

	// Outcome says how the turn ended.
	Outcome Outcome

	// Err is the reported failure, if any: a recognition, inference or
	// synthesis error. It never stops the loop on its own.
	Err error

	// Duration is the wall time of the turn.
	Duration time.Duration
}
