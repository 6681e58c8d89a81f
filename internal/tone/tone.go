// Package tone maps text to an affect classification and the prosody offsets
// used to voice a reply.
//
// Classification is a raw substring test against a fixed keyword list. There
// is no tokenisation, case folding or punctuation stripping. In a
// safety-relevant context this favours false positives: "죽고" also matches
// "죽고싶지 않아", and a keyword split by a stray space is missed. Callers that
// need higher precision should add a second stage rather than loosen this one.
package tone

import "strings"

// Category is the coarse affect class of a piece of text.
type Category int

const (
	// Neutral is the default category when no keyword matches.
	Neutral Category = iota

	// Distressed means the text contains at least one crisis keyword.
	Distressed
)

// String returns the lower-case name of the category.
func (c Category) String() string {
	switch c {
	case Neutral:
		return "neutral"
	case Distressed:
		return "distressed"
	default:
		return "unknown"
	}
}

// Decision is the tone chosen for a reply.
type Decision struct {
	// Category is the affect class that produced this decision.
	Category Category

	// PitchOffset is a signed percentage added to the voice's base pitch.
	// Negative for Distressed, zero for Neutral.
	PitchOffset int

	// Style is the provider style tag, e.g. "sad".
	Style string
}

// IsNeutral reports whether d carries no affect adjustment.
func (d Decision) IsNeutral() bool { return d.Category == Neutral }

// Default style tags and offsets.
const (
	NeutralStyle      = "neutral"
	DistressedStyle   = "sad"
	DistressedPitch   = -10
	neutralPitchShift = 0
)

// UserCrisisKeywords flags a user's utterance as distressed.
var UserCrisisKeywords = []string{"죽고", "자살", "끝내고", "절망", "극도로 힘들", "살기싫", "뛰어내리"}

// ReplySadKeywords flags a candidate reply as needing a sad delivery. Used
// for offline file generation, where the text being voiced is the reply
// itself rather than the user's utterance.
var ReplySadKeywords = []string{"힘들", "슬프", "아픔", "우울", "죽고", "절망"}

// Policy classifies text against a fixed keyword set. The zero value never
// matches and always returns the neutral decision.
type Policy struct {
	keywords   []string
	neutral    Decision
	distressed Decision
}

// Option is a functional option for Policy.
type Option func(*Policy)

// WithNeutralStyle overrides the style tag used for Neutral decisions.
func WithNeutralStyle(style string) Option {
	return func(p *Policy) {
		p.neutral.Style = style
	}
}

// WithDistressed overrides the style and pitch offset of Distressed
// decisions. A non-negative offset is replaced with DistressedPitch so that a
// distressed decision always lowers pitch.
func WithDistressed(style string, pitchOffset int) Option {
	return func(p *Policy) {
		if style != "" {
			p.distressed.Style = style
		}
		if pitchOffset < 0 {
			p.distressed.PitchOffset = pitchOffset
		}
	}
}

// NewPolicy returns a Policy matching the given keywords. Empty keywords are
// dropped because every string contains the empty string.
func NewPolicy(keywords []string, opts ...Option) *Policy {
	p := &Policy{
		neutral:    Decision{Category: Neutral, PitchOffset: neutralPitchShift, Style: NeutralStyle},
		distressed: Decision{Category: Distressed, PitchOffset: DistressedPitch, Style: DistressedStyle},
	}
	for _, kw := range keywords {
		if kw != "" {
			p.keywords = append(p.keywords, kw)
		}
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ForUser returns the policy applied to user transcripts.
func ForUser(opts ...Option) *Policy { return NewPolicy(UserCrisisKeywords, opts...) }

// ForReply returns the policy applied to candidate reply text.
func ForReply(opts ...Option) *Policy { return NewPolicy(ReplySadKeywords, opts...) }

// Classify returns the Distressed decision when text contains any keyword,
// and the Neutral decision otherwise. It performs no I/O.
func (p *Policy) Classify(text string) Decision {
	if p == nil {
		return Decision{Category: Neutral, Style: NeutralStyle}
	}
	if _, ok := p.Match(text); ok {
		return p.distressed
	}
	return p.neutral
}

// Match returns the first keyword contained in text.
func (p *Policy) Match(text string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, kw := range p.keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// Neutral returns the decision used when nothing matches.
func (p *Policy) Neutral() Decision {
	if p == nil {
		return Decision{Category: Neutral, Style: NeutralStyle}
	}
	return p.neutral
}

// ContainsAny reports whether text contains any of keywords as a raw
// substring. Shared by the exit-keyword check in the turn loop.
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
