package persona

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Intensity is how aggressively a shrink pass compresses.
type Intensity string

const (
	IntensityLight   Intensity = "light"
	IntensityMedium  Intensity = "medium"
	IntensityExtreme Intensity = "extreme"
)

const (
	minShrinkChars        = 50
	compressFloorFraction = 0.3
)

// ParseIntensity accepts English and Chinese names and falls back to light.
func ParseIntensity(s string) Intensity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "medium", "中度":
		return IntensityMedium
	case "extreme", "max", "极限":
		return IntensityExtreme
	default:
		return IntensityLight
	}
}

// charLen counts characters, not bytes, so limits behave the same for CJK text.
func charLen(s string) int {
	return utf8.RuneCountInString(s)
}

// CheckAutoCompress decides whether an automatic compression result may
// replace the original. It must be non-empty, strictly shorter, and at
// least 30% of maxLength.
func CheckAutoCompress(original, compressed string, maxLength int) error {
	if strings.TrimSpace(compressed) == "" {
		return fmt.Errorf("%w: empty result", ErrCompressionRejected)
	}
	n := charLen(compressed)
	if n >= charLen(original) {
		return fmt.Errorf("%w: not shorter (%d characters)", ErrCompressionRejected, n)
	}
	if float64(n) < float64(maxLength)*compressFloorFraction {
		return fmt.Errorf("%w: too short (%d characters)", ErrCompressionRejected, n)
	}
	return nil
}

// CheckShrink validates an explicit shrink result.
func CheckShrink(original, shrunk string) error {
	if strings.TrimSpace(shrunk) == "" {
		return fmt.Errorf("%w: empty result", ErrCompressionRejected)
	}
	n := charLen(shrunk)
	if n >= charLen(original) {
		return fmt.Errorf("%w: not shorter (%d characters)", ErrCompressionRejected, n)
	}
	if n < minShrinkChars {
		return fmt.Errorf("%w: too short (%d characters), key traits may be lost", ErrCompressionRejected, n)
	}
	return nil
}

var idHintStrip = regexp.MustCompile(`[^a-zA-Z0-9\p{Han}]`)

// GenerateID builds "<prefix><hint>_<6 hex>" from up to ten letters, digits
// or Han characters of hint, or "<prefix><10 hex>" when none remain.
func GenerateID(prefix, hint string) string {
	clean := idHintStrip.ReplaceAllString(hint, "")
	if runes := []rune(clean); len(runes) > 10 {
		clean = string(runes[:10])
	}
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if clean != "" {
		return prefix + clean + "_" + hex[:6]
	}
	return prefix + hex[:10]
}

var charNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*[-*#]*\s*(?:name|名字|姓名)\s*[:：]\s*\**([^\n*,，。.(（]{1,24})`),
	regexp.MustCompile(`\b[Yy]ou are\s+(\p{Lu}[\w'-]{0,23})`),
	regexp.MustCompile(`你是([\p{Han}A-Za-z0-9]{1,12}?)[，,。.！!\s]`),
}

// ExtractCharName finds the character's name in a persona prompt.
func ExtractCharName(prompt string) string {
	for _, re := range charNamePatterns {
		if m := re.FindStringSubmatch(prompt); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				return name
			}
		}
	}
	return ""
}

// ReplacePlaceholders substitutes {{char}} and {{user}}. {{char}} is left
// alone when no name can be found.
func ReplacePlaceholders(prompt, userName string) string {
	if userName == "" {
		userName = "user"
	}
	out := strings.ReplaceAll(prompt, "{{user}}", userName)
	if name := ExtractCharName(out); name != "" && !strings.Contains(name, "{{") {
		out = strings.ReplaceAll(out, "{{char}}", name)
	}
	return out
}

// shorten trims s to max characters for previews.
func shorten(s string, max int) string {
	s = strings.TrimSpace(s)
	if charLen(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
