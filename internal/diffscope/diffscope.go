// Package diffscope maps a unified diff for one file to the destination line
// numbers it touches, so analysis can be limited to changed code.
package diffscope

import (
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Hunk is a parsed hunk header.
type Hunk struct {
	OldStart, OldLen int
	NewStart, NewLen int
}

// ParseHunkHeader parses a line of the form "@@ -a[,b] +c[,d] @@ ...".
// Omitted lengths default to 1.
func ParseHunkHeader(line string) (Hunk, bool) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, false
	}
	h := Hunk{OldLen: 1, NewLen: 1}
	h.OldStart, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		h.OldLen, _ = strconv.Atoi(m[2])
	}
	h.NewStart, _ = strconv.Atoi(m[3])
	if m[4] != "" {
		h.NewLen, _ = strconv.Atoi(m[4])
	}
	return h, true
}

// ExtractChangedLines returns the destination line numbers added by patch, in
// the order they appear, without duplicates. Context lines advance the line
// counter but are not recorded; removed lines do neither. An empty patch yields
// an empty slice.
func ExtractChangedLines(patch string) []int {
	out := []int{}
	if patch == "" {
		return out
	}

	seen := make(map[int]bool)
	current := 0
	// Remaining old/new lines in the current hunk. Both zero means we are
	// between hunks, where file headers live.
	oldLeft, newLeft := 0, 0

	for _, line := range strings.Split(patch, "\n") {
		if h, ok := ParseHunkHeader(line); ok {
			current = h.NewStart - 1
			oldLeft, newLeft = h.OldLen, h.NewLen
			continue
		}
		if oldLeft <= 0 && newLeft <= 0 {
			continue
		}

		switch {
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		case strings.HasPrefix(line, "+"):
			current++
			newLeft--
			if !seen[current] {
				seen[current] = true
				out = append(out, current)
			}
		case strings.HasPrefix(line, "-"):
			oldLeft--
		default:
			// Context line. Some tools strip the leading space of blank
			// context lines, so an empty line counts as context too.
			current++
			oldLeft--
			newLeft--
		}
	}
	return out
}
