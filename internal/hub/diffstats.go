package hub

import "strings"

// DiffStats counts added and removed content lines in a unified diff.
// Header lines (+++, ---, @@, diff, index) are not content.
func DiffStats(diff string) (added, removed int) {
	if strings.TrimSpace(diff) == "" {
		return 0, 0
	}

	normalized := strings.ReplaceAll(diff, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	for _, line := range strings.Split(normalized, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "+++ ") ||
			strings.HasPrefix(line, "--- ") ||
			strings.HasPrefix(line, "@@ ") ||
			strings.HasPrefix(line, "diff ") ||
			strings.HasPrefix(line, "index ") {
			continue
		}
		switch line[0] {
		case '+':
			added++
		case '-':
			removed++
		}
	}
	return added, removed
}
