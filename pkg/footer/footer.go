/*
Package footer implements the synced-note footer convention: a small,
parseable trailer appended to every note the engine pushes, so that
whichever peer receives it back can recognise it as already-synced
instead of creating a duplicate, and so a human reading the note knows
where it came from and that hand-editing the trailer itself is unsafe.
*/
package footer

import "strings"

const (
	prefix        = "[troparcel:"
	suffix        = " — safe to delete, do not edit]"
	liveConnector = " from "
	retractedConn = " retracted by "
)

// Render produces the HTML footer paragraph appended to a pushed note's
// body, identifying it by uuid and the author who created it.
func Render(uuid, author string) string {
	return "<p><sub>" + prefix + uuid + liveConnector + author + suffix + "</sub></p>"
}

// RenderRetracted produces the footer for a tombstoned note: same
// envelope, but it reads "retracted by" instead of "from" so a human
// can tell a deletion from a creation at a glance.
func RenderRetracted(uuid, author string) string {
	return "<p><sub>" + prefix + uuid + retractedConn + author + suffix + "</sub></p>"
}

// Parse extracts the uuid and author from a note body that ends with a
// Render- or RenderRetracted-produced footer. ok is false if no
// recognisable footer is present. Use ParseRetraction to learn which
// variant was found.
func Parse(html string) (uuid, author string, ok bool) {
	u, a, _, ok := ParseRetraction(html)
	return u, a, ok
}

// ParseRetraction is Parse plus the retracted flag, for callers that
// need to tell a live footer from a retracted one.
func ParseRetraction(html string) (uuid, author string, retracted bool, ok bool) {
	start := strings.Index(html, prefix)
	if start < 0 {
		return "", "", false, false
	}
	body := html[start+len(prefix):]
	end := strings.Index(body, suffix)
	if end < 0 {
		return "", "", false, false
	}
	inner := body[:end]
	if sep := strings.Index(inner, retractedConn); sep >= 0 {
		return inner[:sep], inner[sep+len(retractedConn):], true, true
	}
	if sep := strings.Index(inner, liveConnector); sep >= 0 {
		return inner[:sep], inner[sep+len(liveConnector):], false, true
	}
	return "", "", false, false
}

// Strip removes a Render-produced footer paragraph from html, if
// present, returning the body without it.
func Strip(html string) string {
	start := strings.Index(html, "<p><sub>"+prefix)
	if start < 0 {
		return html
	}
	end := strings.Index(html[start:], "</sub></p>")
	if end < 0 {
		return html
	}
	return html[:start] + html[start+end+len("</sub></p>"):]
}
