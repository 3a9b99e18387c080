package similarity

import (
	"reflect"
	"strings"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"héllo", "hello", 1},
	}
	for _, tc := range cases {
		if got := Levenshtein(tc.a, tc.b); got != tc.want {
			t.Fatalf("Levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestRatioBounds(t *testing.T) {
	if got := Ratio("", ""); got != 1 {
		t.Fatalf("expected 1 for empty strings, got %f", got)
	}
	if got := Ratio("same text", "same text"); got != 1 {
		t.Fatalf("expected 1 for identical strings, got %f", got)
	}
	if got := Ratio("abc", "xyz"); got != 0 {
		t.Fatalf("expected 0 for disjoint strings, got %f", got)
	}
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	items := []string{
		"likes hiking on weekends",
		"likes hiking on weekend",
		"works from home most days",
	}
	got := Dedupe(items, 0.85)
	want := []string{"likes hiking on weekends", "works from home most days"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected dedupe result: %#v", got)
	}
}

func TestDedupeIsIdempotent(t *testing.T) {
	items := []string{
		"moved to a new city last month",
		"moved to a new city last months",
		"has a dog named Pepper",
		"has a dog named Peppers",
		"prefers evening chats",
		"prefers evening chat",
	}
	for _, threshold := range []float64{0.6, 0.8, 0.85, 0.95} {
		once := Dedupe(items, threshold)
		twice := Dedupe(once, threshold)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("threshold %.2f: dedupe not idempotent: %#v vs %#v", threshold, once, twice)
		}
	}
}

func TestMergeKeepsHigherScore(t *testing.T) {
	type scored struct {
		text  string
		score float64
	}
	items := []scored{
		{"enjoys late night conversations", 0.2},
		{"enjoys late-night conversations", 0.9},
		{"asked about pricing", 0.5},
	}
	merged := Merge(items, func(s scored) string { return s.text }, func(s scored) float64 { return s.score }, 0.8)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged items, got %d", len(merged))
	}
	if merged[0].score != 0.9 {
		t.Fatalf("expected higher scored variant to win, got %#v", merged[0])
	}
	if merged[1].text != "asked about pricing" {
		t.Fatalf("expected order to follow first appearance, got %#v", merged[1])
	}
}

func TestCompressGroupsAndTruncates(t *testing.T) {
	items := []string{
		"talks a lot about stress at work",
		"talks a lot about stress at work, overtime",
		"talks a lot about stress at work",
		"has two cats",
	}
	got := Compress(items, 1000)
	if len(got) != 2 {
		t.Fatalf("expected grouped output of 2 items, got %#v", got)
	}
	if !strings.HasPrefix(got[0], "talks a lot about stress at work (also: ") {
		t.Fatalf("expected shortest representative with also suffix, got %q", got[0])
	}
	if !strings.Contains(got[0], "overtime") {
		t.Fatalf("expected unique words in suffix, got %q", got[0])
	}

	tight := Compress(items, len(got[0])+1)
	if len(tight) != 1 {
		t.Fatalf("expected truncation to first item, got %#v", tight)
	}
	if total := len(strings.Join(tight, " ")); total > len(got[0])+1 {
		t.Fatalf("budget exceeded: %d", total)
	}
}

func TestCompressEmpty(t *testing.T) {
	if got := Compress(nil, 100); got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
}
