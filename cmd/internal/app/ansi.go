package app

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40
	maxLogWidth     = 400
	ellipsis        = "…"
)

var ansiSeq = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiSeq.ReplaceAllString(s, "") }

// visualLen is the printed width of s in runes, ignoring color codes.
func visualLen(s string) int { return utf8.RuneCountInString(stripANSI(s)) }

func paint(s, code string, color bool) string {
	if !color || s == "" || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiGreen, color)
	case "POST":
		return paint(m, ansiBlue, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	case "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	return paint(strconv.Itoa(code), classColor(statusClass(code)), color)
}

func colorizeStatusClass(class string, color bool) string {
	return paint(class, classColor(class), color)
}

func classColor(class string) string {
	switch class {
	case "2xx":
		return ansiGreen
	case "3xx":
		return ansiCyan
	case "4xx":
		return ansiYellow
	case "5xx":
		return ansiRed
	default:
		return ""
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success":
		return paint(result, ansiGreen, color)
	case "redirect":
		return paint(result, ansiCyan, color)
	case "client_error":
		return paint(result, ansiYellow, color)
	case "server_error":
		return paint(result, ansiRed, color)
	default:
		return result
	}
}

// wrapSegments packs segments into lines no wider than width.
// Continuation lines start with indent. A segment that cannot fit on a line
// of its own is cut and marked with an ellipsis.
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	if width <= 0 {
		return []string{strings.Join(segs, sep)}
	}

	var (
		lines []string
		cur   strings.Builder
		curW  int
	)
	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curW = 0
		}
	}

	for _, seg := range segs {
		prefix := ""
		if len(lines) > 0 && cur.Len() == 0 {
			prefix = indent
		}
		segW := visualLen(seg)

		if cur.Len() > 0 {
			if curW+visualLen(sep)+segW <= width {
				cur.WriteString(sep)
				cur.WriteString(seg)
				curW += visualLen(sep) + segW
				continue
			}
			flush()
			prefix = indent
		}

		room := width - visualLen(prefix)
		if segW > room {
			seg = truncateVisual(seg, room)
			segW = visualLen(seg)
		}
		cur.WriteString(prefix)
		cur.WriteString(seg)
		curW = visualLen(prefix) + segW
	}
	flush()
	return lines
}

// truncateVisual cuts s to at most width printed runes, including the ellipsis.
// Color codes are dropped from a truncated segment.
func truncateVisual(s string, width int) string {
	plain := []rune(stripANSI(s))
	if len(plain) <= width {
		return s
	}
	if width <= 1 {
		return ellipsis
	}
	return string(plain[:width-1]) + ellipsis
}

// terminalWidth prefers VOIR_LOG_WIDTH, then COLUMNS. Values outside the
// sane range fall back to the default.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"VOIR_LOG_WIDTH", "COLUMNS"} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < minLogWidth || n > maxLogWidth {
			return defaultLogWidth
		}
		return n
	}
	return defaultLogWidth
}
