package ceremony

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gao-dev/gaodev/internal/model"
)

// ParsedCeremony is the structured result of parsing an AgentRunner
// ceremony transcript: a short summary plus the action items and
// learnings to persist. Parsing never fails the whole ceremony, but
// Malformed counts the section bullets that failed a minimum-quality
// check (an action item without a priority, a learning without text,
// category, or tags); any nonzero count downgrades the ceremony's
// outcome to partial even when other bullets parsed cleanly.
type ParsedCeremony struct {
	Summary     string
	ActionItems []model.ActionItem
	Learnings   []model.Learning
	Malformed   int
}

var bulletRE = regexp.MustCompile(`^\s*[-*]\s*(?:\[[ xX]\]\s*)?(.*)$`)
var actionPriorityRE = regexp.MustCompile(`^\[(P[0-4])\]\s*(.*)$`)
var learningCategoryRE = regexp.MustCompile(`^\[(quality|process|architectural|operational)\]\s*(.*)$`)

// ParseTranscript scans a ceremony transcript for "Action Items" and
// "Learnings" markdown sections and extracts their structured content by
// plain section-scanning and bullet-parsing; anything outside a
// recognized section is ignored.
func ParseTranscript(transcript string) ParsedCeremony {
	lines := strings.Split(transcript, "\n")

	var summary strings.Builder
	var actionItems []model.ActionItem
	var learnings []model.Learning
	malformed := 0

	section := ""
	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(trimmed, "#") && strings.Contains(lower, "action item"):
			section = "actions"
			continue
		case strings.HasPrefix(trimmed, "#") && strings.Contains(lower, "learning"):
			section = "learnings"
			continue
		case strings.HasPrefix(trimmed, "#") && strings.Contains(lower, "summary"):
			section = "summary"
			continue
		case strings.HasPrefix(trimmed, "#"):
			section = ""
			continue
		}

		switch section {
		case "actions":
			if body, ok := bulletBody(trimmed); ok {
				if item, ok := parseActionItemBody(body); ok {
					actionItems = append(actionItems, item)
				} else {
					malformed++
				}
			}
		case "learnings":
			if body, ok := bulletBody(trimmed); ok {
				if l, ok := parseLearningBody(body); ok {
					learnings = append(learnings, l)
				} else {
					malformed++
				}
			}
		case "summary":
			summary.WriteString(trimmed)
			summary.WriteString(" ")
		}
	}

	return ParsedCeremony{
		Summary:     strings.TrimSpace(summary.String()),
		ActionItems: actionItems,
		Learnings:   learnings,
		Malformed:   malformed,
	}
}

// bulletBody extracts the content of a markdown bullet line; non-bullet
// lines (prose, continuations) are not items and never count as
// malformed.
func bulletBody(line string) (string, bool) {
	m := bulletRE.FindStringSubmatch(line)
	if len(m) != 2 {
		return "", false
	}
	body := strings.TrimSpace(m[1])
	return body, body != ""
}

func parseActionItemBody(raw string) (model.ActionItem, bool) {
	item := model.ActionItem{Status: model.ActionItemOpen}
	if pm := actionPriorityRE.FindStringSubmatch(raw); len(pm) == 3 {
		item.Priority = priorityFromToken(pm[1])
		raw = pm[2]
	} else {
		// Minimum-quality check: no priority token means this isn't a
		// usable action item.
		return model.ActionItem{}, false
	}

	parts := strings.Split(raw, "|")
	item.Description = strings.TrimSpace(parts[0])
	if item.Description == "" {
		return model.ActionItem{}, false
	}

	item.AutoPromoteToStory = item.Priority.PromotionCandidate()
	return item, true
}

func priorityFromToken(token string) model.ActionItemPriority {
	switch strings.ToUpper(token) {
	case "P0":
		return model.PriorityCritical
	case "P1":
		return model.PriorityHigh
	case "P2":
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func parseLearningBody(raw string) (model.Learning, bool) {
	cm := learningCategoryRE.FindStringSubmatch(raw)
	if len(cm) != 3 {
		// Minimum-quality check: a learning without a recognized category
		// cannot be scored later, so it is not recorded.
		return model.Learning{}, false
	}
	l := model.Learning{Category: model.LearningCategory(cm[1]), BaseRelevance: 0.5}
	rest := cm[2]

	// Split "tags: a,b | relevance: 0.9 — lesson text" on the em dash that
	// separates the metadata fields from the free-text lesson.
	text := rest
	if idx := strings.Index(rest, "—"); idx >= 0 {
		meta := rest[:idx]
		text = strings.TrimSpace(rest[idx+len("—"):])
		for _, field := range strings.Split(meta, "|") {
			key, value, ok := splitKeyValue(field)
			if !ok {
				continue
			}
			switch strings.ToLower(key) {
			case "tags":
				l.Tags = splitTags(value)
			case "relevance":
				if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
					l.BaseRelevance = f
				}
			}
		}
	}

	l.Text = strings.TrimSpace(text)
	if l.Text == "" || len(l.Tags) == 0 {
		// Minimum-quality check: every learning needs non-empty text and
		// tags.
		return model.Learning{}, false
	}
	return l, true
}

func splitKeyValue(field string) (key, value string, ok bool) {
	field = strings.TrimSpace(field)
	idx := strings.Index(field, ":")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(field[:idx]), strings.TrimSpace(field[idx+1:]), true
}

func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
