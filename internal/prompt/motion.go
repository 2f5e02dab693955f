package prompt

import (
	"strings"
	"unicode/utf8"
)

// MotionDirective is one of the fixed, pre-validated motion templates. It is
// never produced by free-form inference.
type MotionDirective string

const (
	MotionHeadTurn    MotionDirective = "A"
	MotionForwardLean MotionDirective = "B"
	MotionHandRaise   MotionDirective = "C"
	MotionMicroNod    MotionDirective = "D"
)

// MotionHoldSuffix is appended to every motion template.
const MotionHoldSuffix = ", then hold still, subtle breathing"

// LongDialogueRunes is the length at which dialogue maps to a forward lean.
const LongDialogueRunes = 20

var motionTemplates = map[MotionDirective]string{
	MotionHeadTurn:    "quick head turn toward the listener",
	MotionForwardLean: "slight forward lean",
	MotionHandRaise:   "raise one hand slightly below the chin (hand stays away from face)",
	MotionMicroNod:    "micro nod once",
}

// SelectMotion maps dialogue to a directive. Order matters: '!' wins over
// '?', which wins over length.
func SelectMotion(dialogue string) MotionDirective {
	switch {
	case strings.Contains(dialogue, "!"):
		return MotionHeadTurn
	case strings.Contains(dialogue, "?"):
		return MotionMicroNod
	case utf8.RuneCountInString(strings.TrimSpace(dialogue)) >= LongDialogueRunes:
		return MotionForwardLean
	default:
		return MotionHandRaise
	}
}

// Template returns the bare motion description.
func (m MotionDirective) Template() string {
	if t, ok := motionTemplates[m]; ok {
		return t
	}
	return motionTemplates[MotionHandRaise]
}

// Clause returns the description with the hold suffix.
func (m MotionDirective) Clause() string {
	return m.Template() + MotionHoldSuffix
}

// Name is a short label used in logs and reports.
func (m MotionDirective) Name() string {
	switch m {
	case MotionHeadTurn:
		return "head_turn"
	case MotionForwardLean:
		return "forward_lean"
	case MotionMicroNod:
		return "micro_nod"
	default:
		return "hand_raise"
	}
}
