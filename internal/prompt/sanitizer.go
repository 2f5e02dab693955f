package prompt

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Category groups banned terms. Categories are processed in the order of
// Categories.
type Category string

const (
	CategorySocial      Category = "social"
	CategoryCamera      Category = "camera"
	CategorySpeech      Category = "speech"
	CategoryBody        Category = "body"
	CategoryIntensifier Category = "intensifier"
	CategoryText        Category = "text"
)

var Categories = []Category{
	CategorySocial,
	CategoryCamera,
	CategorySpeech,
	CategoryBody,
	CategoryIntensifier,
	CategoryText,
}

// Phrases come before their single-word prefixes so the longer match is
// recorded.
var bannedTerms = map[Category][]string{
	CategorySocial: {
		"group of people", "multiple people", "another person", "second person", "two people",
		"shaking hands", "crowd", "couple", "friends", "audience", "hugging", "hug", "kissing",
		"kiss", "handshake", "interacting", "interaction",
	},
	CategoryCamera: {
		"camera movement", "camera motion", "camera shake", "camera pan", "tracking shot",
		"crane shot", "dutch angle", "zoom in", "zoom out", "push in", "pull out", "handheld",
		"panning", "pan", "zooming", "zoom", "tilting", "tilt", "dolly", "orbit",
	},
	CategorySpeech: {
		"lip sync", "open mouth", "mouth moving", "angry face", "expressive face", "lipsync",
		"speaking", "speaks", "speak", "talking", "talks", "talk", "saying", "says", "singing",
		"sings", "sing", "whispering", "shouting", "yelling", "chatting", "conversation",
		"dialogue", "laughing", "crying",
	},
	CategoryBody: {
		"shaking head", "turning around", "dancing", "dance", "jumping", "jump", "running", "run",
		"walking", "walk", "spinning", "spin", "waving", "wave", "clapping", "gesturing", "gestures",
	},
	CategoryIntensifier: {
		"fast motion", "rapid movement", "fast", "rapid", "rapidly", "quickly", "vigorous",
		"vigorously", "intense", "intensely", "dramatic", "dramatically", "wildly", "energetic",
		"frantic", "violent", "violently", "sudden", "suddenly", "exaggerated",
	},
	CategoryText: {
		"speech bubble", "text", "texts", "caption", "captions", "subtitle", "subtitles", "logo",
		"logos", "watermark", "signage", "sign", "signs", "letters", "lettering", "typography",
		"writing", "words", "title", "banner", "label",
	},
}

// triggerTerms force the fallback prompt when found in the raw scene or the
// assembled prompt. Plurals are matched too.
var triggerTerms = []string{
	"text", "caption", "subtitle", "logo", "watermark", "sign", "signage", "letter", "lettering",
	"typography", "korean", "japanese", "chinese", "english", "hangul", "kanji", "hiragana",
	"katakana", "language",
}

// Directives are prepended to every assembled prompt.
var Directives = []string{
	"clean frame with no written characters anywhere",
	"static locked-off shot with fixed framing",
	"preserve the original colors and identity of the reference image",
	"frozen pose with minimal natural motion",
}

const (
	// DefaultScene replaces an empty scene description.
	DefaultScene = "anime character in a clean 2D scene"
	// MaxSceneRunes caps the cleaned scene description.
	MaxSceneRunes = 200

	// FallbackPrompt is substituted verbatim whenever the hard gate trips.
	FallbackPrompt = "anime character in a clean 2D scene, static locked-off shot with fixed framing, " +
		"calm neutral expression, subtle breathing"

	// BaseNegativePrompt is the fixed exclusion list.
	BaseNegativePrompt = "text, watermark, subtitle, caption, logo, camera movement, pan, zoom, tilt, dolly, " +
		"blurry, deformed, distorted, melting, morphing, closed eyes, eyes shut, face morphing, " +
		"deformed face, jitter, flicker"
)

type termPattern struct {
	term string
	re   *regexp.Regexp
}

var (
	categoryPatterns = compileCategories()
	bannedGate       = compileAlternation(allBannedTerms(), false)
	triggerGate      = compileAlternation(triggerTerms, true)

	spaceRun      = regexp.MustCompile(`\s+`)
	spaceBeforeP  = regexp.MustCompile(`\s+([,.;:!?])`)
	punctRun      = regexp.MustCompile(`([,.;:!?])(?:\s*[,.;:!?])+`)
	emptyBrackets = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
)

// SanitizedPrompt is the write-once result of Sanitize.
type SanitizedPrompt struct {
	Positive string
	Negative string
	Removed  map[Category][]string
	Motion   MotionDirective
	Fallback bool
}

// RemovedTerms flattens Removed in category order.
func (p SanitizedPrompt) RemovedTerms() []string {
	var out []string
	for _, c := range Categories {
		out = append(out, p.Removed[c]...)
	}
	return out
}

// Sanitize cleans the caller's scene description, picks the motion clause
// from the dialogue and assembles positive and negative prompts. It never
// fails.
func Sanitize(scene, dialogue string) SanitizedPrompt {
	motion := SelectMotion(dialogue)
	normalized := norm.NFKC.String(scene)
	cleaned, removed := stripBanned(normalized)
	cleaned = capRunes(cleaned, MaxSceneRunes)
	if cleaned == "" {
		cleaned = DefaultScene
	}

	parts := make([]string, 0, len(Directives)+2)
	parts = append(parts, Directives...)
	parts = append(parts, cleaned, motion.Clause())
	positive := strings.Join(parts, ", ")

	out := SanitizedPrompt{
		Positive: positive,
		Negative: buildNegative(removed),
		Removed:  removed,
		Motion:   motion,
	}
	if tripsGate(normalized) || tripsGate(positive) || bannedGate.MatchString(positive) {
		out.Positive = FallbackPrompt
		out.Fallback = true
	}
	return out
}

// stripBanned removes banned terms category by category. The pass repeats
// until stable since a removal can join two fragments into a banned phrase.
func stripBanned(s string) (string, map[Category][]string) {
	removed := make(map[Category][]string)
	seen := make(map[string]struct{})
	for pass := 0; pass < 4; pass++ {
		changed := false
		for _, c := range Categories {
			for _, p := range categoryPatterns[c] {
				if !p.re.MatchString(s) {
					continue
				}
				s = p.re.ReplaceAllString(s, " ")
				changed = true
				if _, ok := seen[p.term]; !ok {
					seen[p.term] = struct{}{}
					removed[c] = append(removed[c], p.term)
				}
			}
		}
		s = collapse(s)
		if !changed {
			break
		}
	}
	return s, removed
}

func collapse(s string) string {
	s = emptyBrackets.ReplaceAllString(s, " ")
	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceBeforeP.ReplaceAllString(s, "$1")
	s = punctRun.ReplaceAllString(s, "$1")
	return strings.Trim(s, " ,.;:!?-")
}

func buildNegative(removed map[Category][]string) string {
	folder := cases.Fold()
	terms := strings.Split(BaseNegativePrompt, ", ")
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		seen[folder.String(t)] = struct{}{}
	}
	for _, c := range Categories {
		for _, t := range removed[c] {
			key := folder.String(t)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			terms = append(terms, t)
		}
	}
	return strings.Join(terms, ", ")
}

// tripsGate is applied to the raw scene and to the assembled prompt. Banned
// terms are only checked on the assembled prompt since the raw scene is
// expected to contain them.
func tripsGate(s string) bool {
	return ContainsCJK(s) || triggerGate.MatchString(s)
}

// ContainsCJK reports whether s has any Han, Hiragana, Katakana or Hangul
// codepoint (Hangul covers both syllables and jamo).
func ContainsCJK(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			return true
		}
	}
	return false
}

func capRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	cut := string(r[:max])
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return collapse(cut)
}

func termExpr(term string) string {
	words := strings.Fields(term)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `[\s\-]+`)
}

func compileCategories() map[Category][]termPattern {
	out := make(map[Category][]termPattern, len(bannedTerms))
	for c, terms := range bannedTerms {
		for _, t := range terms {
			out[c] = append(out[c], termPattern{
				term: t,
				re:   regexp.MustCompile(`(?i)\b` + termExpr(t) + `\b`),
			})
		}
	}
	return out
}

func compileAlternation(terms []string, plural bool) *regexp.Regexp {
	exprs := make([]string, 0, len(terms))
	for _, t := range terms {
		e := termExpr(t)
		if plural {
			e += `s?`
		}
		exprs = append(exprs, e)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(exprs, "|") + `)\b`)
}

func allBannedTerms() []string {
	var all []string
	for _, c := range Categories {
		all = append(all, bannedTerms[c]...)
	}
	return all
}
