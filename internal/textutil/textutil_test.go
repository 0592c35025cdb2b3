package textutil

import (
	"math"
	"testing"
)

func TestCanonicalCollapsesWhitespaceAndComposes(t *testing.T) {
	decomposed := "Café  opens\n\tat  noon "
	if got := Canonical(decomposed); got != "Café opens at noon" {
		t.Fatalf("Canonical() = %q", got)
	}
	if !EqualText("Hook: stop scrolling!", "  Hook:   stop\nscrolling! ") {
		t.Fatal("expected whitespace-only differences to compare equal")
	}
	if EqualText("stop scrolling", "Stop scrolling") {
		t.Fatal("expected case differences to be significant")
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("  three  little\nwords "); got != 3 {
		t.Fatalf("WordCount() = %d, want 3", got)
	}
	if got := WordCount(""); got != 0 {
		t.Fatalf("WordCount(empty) = %d, want 0", got)
	}
}

func TestTitle(t *testing.T) {
	if got := Title("call_to_action"); got != "Call To Action" {
		t.Fatalf("Title() = %q", got)
	}
}

func TestWordsFoldsCaseAndDropsPunctuation(t *testing.T) {
	words := Words("Über die BRÜCKE, don't stop! 2024")
	want := []string{"über", "die", "brücke", "don't", "stop", "2024"}
	if len(words) != len(want) {
		t.Fatalf("Words() = %v, want %v", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Fatalf("Words()[%d] = %q, want %q", i, words[i], want[i])
		}
	}
}

func TestSimilarityPenalizesReordering(t *testing.T) {
	same := Similarity("stop scrolling right now", "stop scrolling right now!")
	reordered := Similarity("stop scrolling right now", "now right scrolling stop")
	if same != 1 {
		t.Fatalf("punctuation-only change should score 1, got %v", same)
	}
	if reordered >= same || reordered <= 0 {
		t.Fatalf("reordered text should score between 0 and 1, got %v", reordered)
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("The quick brown fox", "the  quick brown fox"); math.Abs(got-1) > 1e-9 {
		t.Fatalf("Similarity(case/space variant) = %v, want 1", got)
	}
	if got := Similarity("apple banana cherry", "dog elephant frog"); got != 0 {
		t.Fatalf("Similarity(disjoint) = %v, want 0", got)
	}
	if got := Similarity("", ""); got != 1 {
		t.Fatalf("Similarity(empty, empty) = %v, want 1", got)
	}
	partial := Similarity("save this recipe for later", "save this video for later")
	if partial <= 0 || partial >= 1 {
		t.Fatalf("expected partial similarity, got %v", partial)
	}
}
