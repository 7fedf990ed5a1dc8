package channels

import "strings"

const (
	fence = "```"
	// Room kept at the end of a piece for "\n```".
	fenceCloseLen = 4
	// A break is looked for only this close to the end of a piece.
	breakWindow = 200
	minChunk    = 32
)

// chunkMessage splits content into pieces of at most limit runes. Breaks
// prefer a newline, then a space. A piece that ends inside a ``` block is
// closed, and the next piece reopens the block with the same info string.
func chunkMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if limit < minChunk {
		limit = minChunk
	}

	var out []string
	reopen := ""
	for content != "" {
		piece := []rune(reopen + content)
		if len(piece) <= limit {
			out = append(out, string(piece))
			break
		}

		prefix := len([]rune(reopen))
		cut := breakPoint(piece[:limit-fenceCloseLen], prefix)
		head := strings.TrimRight(string(piece[:cut]), " \t\n")
		rest := string(piece[cut:])

		if info, open := openFence(head); open {
			head += "\n" + fence
			reopen = fence + info + "\n"
			if len([]rune(reopen)) > limit/2 {
				reopen = fence + "\n"
			}
			content = strings.TrimLeft(rest, "\n")
		} else {
			reopen = ""
			content = strings.TrimLeft(rest, " \t\n")
		}
		out = append(out, head)
	}
	return out
}

// breakPoint returns the end of the next piece within runes. The result is
// always greater than min so every piece makes progress.
func breakPoint(runes []rune, min int) int {
	lo := len(runes) - breakWindow
	if lo <= min {
		lo = min + 1
	}
	for _, sep := range []rune{'\n', ' '} {
		for i := len(runes) - 1; i >= lo; i-- {
			if runes[i] == sep {
				return i
			}
		}
	}
	return len(runes)
}

// openFence reports whether text ends inside a ``` block, and the info
// string ("json", "yaml") the block was opened with.
func openFence(text string) (string, bool) {
	info, open := "", false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, fence) {
			continue
		}
		if open {
			info, open = "", false
			continue
		}
		info, open = strings.TrimSpace(strings.TrimPrefix(trimmed, fence)), true
	}
	return info, open
}
