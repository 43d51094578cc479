package lifecycle

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// turnPrefix matches the start of a chat turn such as "user:" or "Assistant:".
var turnPrefix = regexp.MustCompile(`^(?i)(user|assistant|system|tool|human|ai)\s*:`)

// Window returns the trailing part of a conversation that fits in maxChars
// bytes. It keeps whole turns and paragraphs where it can, then whole lines,
// and only cuts inside a line when a single line is longer than the budget.
// maxChars <= 0 returns the trimmed conversation unchanged.
func Window(conversation string, maxChars int) string {
	text := strings.TrimSpace(conversation)
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}

	blocks := splitBlocks(text)
	var kept []string
	size := 0
	for i := len(blocks) - 1; i >= 0; i-- {
		add := len(blocks[i])
		if len(kept) > 0 {
			add += 2
		}
		if size+add > maxChars {
			if len(kept) == 0 {
				return tailLines(blocks[i], maxChars)
			}
			break
		}
		kept = append(kept, blocks[i])
		size += add
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n\n")
}

// splitBlocks splits text on turn starts and blank lines.
func splitBlocks(text string) []string {
	var blocks []string
	var current []string

	flush := func() {
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			blocks = append(blocks, t)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if turnPrefix.MatchString(trimmed) && len(current) > 0 {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// tailLines keeps the last lines of block that fit in maxChars.
func tailLines(block string, maxChars int) string {
	lines := strings.Split(block, "\n")
	var kept []string
	size := 0
	for i := len(lines) - 1; i >= 0; i-- {
		add := len(lines[i])
		if len(kept) > 0 {
			add++
		}
		if size+add > maxChars {
			if len(kept) == 0 {
				return tailBytes(lines[i], maxChars)
			}
			break
		}
		kept = append([]string{lines[i]}, kept...)
		size += add
	}
	return strings.Join(kept, "\n")
}

// tailBytes returns at most n trailing bytes of s without splitting a rune.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// truncate returns at most n leading bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
