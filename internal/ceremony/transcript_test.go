package ceremony

import (
	"testing"

	"github.com/gao-dev/gaodev/internal/model"
)

func TestParseTranscriptActionItemsAndLearnings(t *testing.T) {
	p := ParseTranscript(goodTranscript)
	if p.Summary != "Shipped the checkout flow." {
		t.Errorf("summary = %q", p.Summary)
	}
	if len(p.ActionItems) != 1 {
		t.Fatalf("action items = %+v, want 1", p.ActionItems)
	}
	ai := p.ActionItems[0]
	if ai.Priority != model.PriorityHigh {
		t.Errorf("priority = %v, want high (P1)", ai.Priority)
	}
	if ai.Description != "Tighten the retry budget" {
		t.Errorf("description = %q", ai.Description)
	}
	if !ai.AutoPromoteToStory {
		t.Error("a high-priority action item must be flagged for promotion")
	}

	if len(p.Learnings) != 1 {
		t.Fatalf("learnings = %+v, want 1", p.Learnings)
	}
	l := p.Learnings[0]
	if l.Category != model.CategoryQuality {
		t.Errorf("category = %v, want quality", l.Category)
	}
	if l.BaseRelevance != 0.8 {
		t.Errorf("base relevance = %v, want 0.8", l.BaseRelevance)
	}
	if len(l.Tags) != 2 || l.Tags[0] != "checkout" || l.Tags[1] != "retry" {
		t.Errorf("tags = %v, want [checkout retry]", l.Tags)
	}
	if l.Text != "Retries without jitter amplify load spikes." {
		t.Errorf("text = %q", l.Text)
	}
}

func TestParseTranscriptIgnoresUnstructuredNotes(t *testing.T) {
	p := ParseTranscript(emptyTranscript)
	if p.Summary != "" || len(p.ActionItems) != 0 || len(p.Learnings) != 0 {
		t.Fatalf("expected nothing extracted from unstructured notes, got %+v", p)
	}
}

func TestParseActionItemBodyRequiresPriority(t *testing.T) {
	if _, ok := parseActionItemBody("just a note with no priority tag"); ok {
		t.Error("a bullet without a [Pn] priority token must not parse as an action item")
	}
}

func TestParseLearningBodyRequiresTagsAndText(t *testing.T) {
	if _, ok := parseLearningBody("[quality] tags:  | relevance: 0.5 — "); ok {
		t.Error("a learning with empty tags and empty text must be rejected")
	}
}

func TestParseTranscriptCountsMalformedBullets(t *testing.T) {
	transcript := `# Summary

Useful session overall.

# Action Items

- [P1] Fix the flaky gate | why: intermittent
- item with no priority token

# Learnings

- [quality] tags: ci — Pin the runner image.
- [process] lesson with no tags separator
`
	p := ParseTranscript(transcript)
	if len(p.ActionItems) != 1 || len(p.Learnings) != 1 {
		t.Fatalf("expected the well-formed bullets kept, got %d items / %d learnings", len(p.ActionItems), len(p.Learnings))
	}
	if p.Malformed != 2 {
		t.Fatalf("Malformed = %d, want 2 (one bad action item, one bad learning)", p.Malformed)
	}
	if p.Summary == "" {
		t.Fatal("summary should still parse alongside malformed bullets")
	}
}

func TestPriorityFromTokenCriticalAndLow(t *testing.T) {
	if priorityFromToken("P0") != model.PriorityCritical {
		t.Error("P0 must map to critical")
	}
	if priorityFromToken("P4") != model.PriorityLow {
		t.Error("P4 must map to low")
	}
}
