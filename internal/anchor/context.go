package anchor

import "strings"

// Window extracts the context fingerprint for a selection: up to radius
// characters on each side of the selection's first occurrence in content,
// clipped to content bounds. If the selection cannot be located, the selected
// text itself is returned unpadded (should not happen for a live selection,
// but must not fail).
func Window(content, selected string, radius int) string {
	if radius <= 0 {
		radius = DefaultRadius
	}
	idx := strings.Index(content, selected)
	if idx < 0 {
		return selected
	}
	return WindowAt(content, idx, idx+len(selected), radius)
}

// WindowAt extracts the context window around a known [start, end) range.
// Offsets outside content bounds fall back to the clipped range itself.
func WindowAt(content string, start, end, radius int) string {
	if radius <= 0 {
		radius = DefaultRadius
	}
	if start < 0 || end > len(content) || start >= end {
		return ""
	}
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(content) {
		hi = len(content)
	}
	return content[lo:hi]
}

// core recovers the originally selected substring from a stored context
// window. The left padding at creation time was min(radius, startOffset), so
// the selection begins that far into the window; both bounds are clamped so a
// fallback context (selection only, no padding) degrades to the whole string.
func core(context string, start, end, radius int) string {
	selLen := end - start
	if selLen <= 0 || context == "" {
		return ""
	}
	if selLen >= len(context) {
		return context
	}
	pad := radius
	if start < pad {
		pad = start
	}
	if pad > len(context)-selLen {
		pad = len(context) - selLen
	}
	return context[pad : pad+selLen]
}
