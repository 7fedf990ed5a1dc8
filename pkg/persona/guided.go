package persona

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/session"
)

var (
	fieldSelection = regexp.MustCompile(`^([\d,，、\s]+)\s*(.*)$`)
	digitRun       = regexp.MustCompile(`\d+`)
)

// GuidedReply is a parsed answer to the missing-fields prompt.
type GuidedReply struct {
	Skip       bool
	Selected   []session.FieldSpec
	Auto       []session.FieldSpec
	Supplement string
}

func isSkip(reply string) bool {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "skip", "s", "跳过":
		return true
	}
	return false
}

// ParseGuidedReply splits a reply like "2,3 loves cats" into the 1-based
// fields the user chose to describe and the free text describing them.
// "skip" (or "s", "跳过") leaves every field to the model; a reply that does
// not start with field numbers is taken whole as the supplement.
func ParseGuidedReply(reply string, missing []session.FieldSpec) GuidedReply {
	reply = strings.TrimSpace(reply)
	if isSkip(reply) {
		return GuidedReply{Skip: true, Auto: append([]session.FieldSpec(nil), missing...)}
	}

	m := fieldSelection.FindStringSubmatch(reply)
	if m == nil {
		return GuidedReply{Auto: append([]session.FieldSpec(nil), missing...), Supplement: reply}
	}

	chosen := make(map[int]bool)
	for _, num := range digitRun.FindAllString(m[1], -1) {
		if n, err := strconv.Atoi(num); err == nil {
			chosen[n] = true
		}
	}
	out := GuidedReply{Supplement: strings.TrimSpace(m[2])}
	for i, f := range missing {
		if chosen[i+1] {
			out.Selected = append(out.Selected, f)
		} else {
			out.Auto = append(out.Auto, f)
		}
	}
	return out
}

// SupplementText is the supplement as handed to the generation prompt.
func (r GuidedReply) SupplementText() string {
	if len(r.Selected) == 0 {
		return r.Supplement
	}
	return fmt.Sprintf("The user provided details for: %s\nDetails: %s", strings.Join(labels(r.Selected), ", "), r.Supplement)
}

func labels(fields []session.FieldSpec) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, fieldLabel(f))
	}
	return out
}

func fieldLabel(f session.FieldSpec) string {
	if f.Label != "" {
		return f.Label
	}
	if f.Field != "" {
		return f.Field
	}
	return "unknown"
}

func missingFieldsPrompt(missing []session.FieldSpec, timeoutSecs int) string {
	var sb strings.Builder
	sb.WriteString("📋 These details are missing from the description. Pick the ones you want to fill in:\n\n")
	for i, f := range missing {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, fieldLabel(f)))
		if f.Hint != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", f.Hint))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n💡 Reply with the numbers and your details, e.g. \"2,3 calls the user master\"")
	sb.WriteString("\n💡 Reply \"skip\" to let the model invent everything")
	sb.WriteString(fmt.Sprintf("\n⏰ Waiting %d seconds for your reply", timeoutSecs))
	return sb.String()
}
