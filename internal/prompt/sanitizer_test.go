package prompt

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestSanitizeKoreanSceneFallsBack(t *testing.T) {
	got := Sanitize("a person speaking with camera zoom and Korean text 안녕", "hello")

	if !containsTerm(got.Removed[CategorySpeech], "speaking") {
		t.Fatalf("speech removals = %v, want speaking", got.Removed[CategorySpeech])
	}
	if !containsTerm(got.Removed[CategoryCamera], "zoom") {
		t.Fatalf("camera removals = %v, want zoom", got.Removed[CategoryCamera])
	}
	if !got.Fallback {
		t.Fatalf("Fallback = false, want true")
	}
	if got.Positive != FallbackPrompt {
		t.Fatalf("Positive = %q, want fallback prompt", got.Positive)
	}
	negative := splitNegative(got.Negative)
	for _, term := range got.RemovedTerms() {
		if _, ok := negative[term]; !ok {
			t.Fatalf("negative prompt missing removed term %q", term)
		}
	}
}

func TestSanitizeStripsAndAssembles(t *testing.T) {
	got := Sanitize("a girl waving in a park, camera pan", "Okay.")

	if got.Fallback {
		t.Fatalf("Fallback = true, want false (positive %q)", got.Positive)
	}
	if !strings.Contains(got.Positive, "a girl in a park") {
		t.Fatalf("Positive = %q, want cleaned scene", got.Positive)
	}
	for _, d := range Directives {
		if !strings.HasPrefix(got.Positive, Directives[0]) || !strings.Contains(got.Positive, d) {
			t.Fatalf("Positive = %q, missing directive %q", got.Positive, d)
		}
	}
	if !strings.HasSuffix(got.Positive, MotionHandRaise.Clause()) {
		t.Fatalf("Positive = %q, want hand raise clause at the end", got.Positive)
	}
	if !containsTerm(got.Removed[CategoryBody], "waving") {
		t.Fatalf("body removals = %v, want waving", got.Removed[CategoryBody])
	}
	if !containsTerm(got.Removed[CategoryCamera], "camera pan") {
		t.Fatalf("camera removals = %v, want camera pan", got.Removed[CategoryCamera])
	}
	if !strings.Contains(got.Negative, "waving") {
		t.Fatalf("Negative = %q, want waving appended", got.Negative)
	}
}

func TestSanitizeEmptySceneUsesDefault(t *testing.T) {
	got := Sanitize("   ", "")
	if !strings.Contains(got.Positive, DefaultScene) {
		t.Fatalf("Positive = %q, want default scene", got.Positive)
	}
	if got.Negative != BaseNegativePrompt {
		t.Fatalf("Negative = %q, want base list", got.Negative)
	}
}

func TestSanitizeOnlyBannedTermsUsesDefault(t *testing.T) {
	got := Sanitize("dancing, running!!", "")
	if got.Fallback {
		t.Fatalf("Fallback = true, want false")
	}
	if !strings.Contains(got.Positive, DefaultScene) {
		t.Fatalf("Positive = %q, want default scene", got.Positive)
	}
}

func TestSanitizeFullWidthTriggerFallsBack(t *testing.T) {
	got := Sanitize("girl holding a ｓｉｇｎ", "")
	if got.Positive != FallbackPrompt {
		t.Fatalf("Positive = %q, want fallback", got.Positive)
	}
}

func TestSanitizeCapsScene(t *testing.T) {
	scene := strings.Repeat("quiet garden ", 40)
	got := Sanitize(scene, "")
	if got.Fallback {
		t.Fatalf("Fallback = true, want false")
	}
	cleaned := strings.TrimPrefix(got.Positive, strings.Join(Directives, ", ")+", ")
	cleaned = strings.TrimSuffix(cleaned, ", "+MotionHandRaise.Clause())
	if n := len([]rune(cleaned)); n > MaxSceneRunes {
		t.Fatalf("scene length = %d, want <= %d", n, MaxSceneRunes)
	}
}

func TestFixedClausesAreClean(t *testing.T) {
	fixed := append([]string{FallbackPrompt, DefaultScene}, Directives...)
	for _, m := range []MotionDirective{MotionHeadTurn, MotionForwardLean, MotionHandRaise, MotionMicroNod} {
		fixed = append(fixed, m.Clause())
	}
	for _, s := range fixed {
		if bannedGate.MatchString(s) {
			t.Fatalf("%q contains a banned term", s)
		}
		if tripsGate(s) {
			t.Fatalf("%q trips the hard gate", s)
		}
	}
}

var sceneVocabulary = []string{
	"girl", "boy", "standing", "garden", "soft", "light", "smiling", "cafe", "window", "rain",
	"talking", "zoom", "camera pan", "waving", "fast", "crowd", "logo", "dancing", "lip-sync",
	"dramatic", "friends", "tilt", "sunset", "bench", "quiet", "Running", "SPEAKING", ",", ".", "!",
}

func sceneGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		words := rapid.SliceOfN(rapid.SampledFrom(sceneVocabulary), 0, 25).Draw(t, "words")
		return strings.Join(words, " ")
	})
}

func TestSanitizeNegativeCoversRemoved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scene := sceneGen().Draw(t, "scene")
		got := Sanitize(scene, rapid.String().Draw(t, "dialogue"))
		negative := splitNegative(got.Negative)
		for _, term := range got.RemovedTerms() {
			if _, ok := negative[term]; !ok {
				t.Fatalf("negative %q missing removed term %q", got.Negative, term)
			}
		}
	})
}

func TestSanitizePositiveNeverCarriesBannedOrCJK(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scene := rapid.OneOf(sceneGen(), rapid.String()).Draw(t, "scene")
		got := Sanitize(scene, "")
		if bannedGate.MatchString(got.Positive) {
			t.Fatalf("positive %q contains a banned term", got.Positive)
		}
		if ContainsCJK(got.Positive) {
			t.Fatalf("positive %q contains CJK", got.Positive)
		}
	})
}

func TestSanitizeCJKAlwaysFallsBack(t *testing.T) {
	cjk := rapid.SampledFrom([]string{"안녕", "こんにちは", "カタカナ", "漢字", "ㄱ", "ᄀ"})
	rapid.Check(t, func(t *rapid.T) {
		scene := sceneGen().Draw(t, "scene") + " " + cjk.Draw(t, "cjk") + " " + sceneGen().Draw(t, "tail")
		got := Sanitize(scene, "")
		if got.Positive != FallbackPrompt {
			t.Fatalf("Sanitize(%q).Positive = %q, want fallback", scene, got.Positive)
		}
	})
}

func TestSanitizeTriggerWordAlwaysFallsBack(t *testing.T) {
	trigger := rapid.SampledFrom(triggerTerms)
	rapid.Check(t, func(t *rapid.T) {
		scene := sceneGen().Draw(t, "scene") + " " + trigger.Draw(t, "trigger") + " " + sceneGen().Draw(t, "tail")
		got := Sanitize(scene, "")
		if got.Positive != FallbackPrompt {
			t.Fatalf("Sanitize(%q).Positive = %q, want fallback", scene, got.Positive)
		}
	})
}

func containsTerm(terms []string, want string) bool {
	for _, t := range terms {
		if t == want {
			return true
		}
	}
	return false
}

func splitNegative(negative string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Split(negative, ", ") {
		out[t] = struct{}{}
	}
	return out
}
