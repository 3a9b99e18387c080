package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEstimate(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Fatalf("expected 0 for empty text, got %d", got)
	}
	if got := Estimate("abcd"); got != 1 {
		t.Fatalf("expected 1 token, got %d", got)
	}
	if got := Estimate("abcde"); got != 2 {
		t.Fatalf("expected ceil rounding to 2, got %d", got)
	}
}

func TestEstimateMessagesAddsOverhead(t *testing.T) {
	got := EstimateMessages([]string{"abcd", "abcdefgh"})
	if got != 1+2+2*MessageOverhead {
		t.Fatalf("unexpected message estimate: %d", got)
	}
}

func TestTruncateRespectsBudget(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 400)
	for _, limit := range []int{1, 2, 5, 17, 100, 999} {
		clipped := Truncate(text, limit)
		if Estimate(clipped) > limit {
			t.Fatalf("limit %d: estimate %d exceeds budget", limit, Estimate(clipped))
		}
		if clipped != "" && !strings.HasSuffix(clipped, "...") {
			t.Fatalf("limit %d: expected ellipsis, got %q", limit, clipped)
		}
	}
}

func TestTruncateKeepsShortText(t *testing.T) {
	if got := Truncate("short text", 50); got != "short text" {
		t.Fatalf("expected untouched text, got %q", got)
	}
}

func TestTruncateBreaksOnWordBoundary(t *testing.T) {
	clipped := Truncate("alpha beta gamma delta epsilon zeta eta theta", 5)
	if !strings.HasSuffix(clipped, "...") {
		t.Fatalf("expected ellipsis, got %q", clipped)
	}
	body := strings.TrimSuffix(clipped, "...")
	for _, word := range strings.Fields(body) {
		if !strings.Contains("alpha beta gamma delta epsilon zeta eta theta", word+" ") {
			t.Fatalf("expected whole words only, got %q", clipped)
		}
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	text := strings.Repeat("ééééé ", 200)
	clipped := Truncate(text, 10)
	if !utf8.ValidString(clipped) {
		t.Fatalf("expected valid utf8, got %q", clipped)
	}
}

func TestAllocateReservesBuffer(t *testing.T) {
	alloc := Allocate(1000, DefaultSplit)
	if alloc.System != 50 || alloc.Recent != 200 || alloc.Memory != 350 || alloc.Summaries != 300 {
		t.Fatalf("unexpected allocation: %+v", alloc)
	}
	if alloc.Buffer != 100 {
		t.Fatalf("expected 100 buffer tokens, got %d", alloc.Buffer)
	}
	if sum := alloc.System + alloc.Recent + alloc.Memory + alloc.Summaries + alloc.Buffer; sum != 1000 {
		t.Fatalf("allocation does not sum to total: %d", sum)
	}
}
