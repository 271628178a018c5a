/*
Package sanitize implements Troparcel's HTML allow-list cleaner.

Every note and selection-note body that crosses the CRDT boundary — in
either direction — passes through Sanitize before it is written to the
host store or pushed to the replicated document. Transcription text and
data are not passed through Sanitize. The
cleaner is a hand-written character-by-character tokenizer, not a
regular expression: regex-based HTML filters have a well-documented
history of ReDoS and allow-list-bypass bugs, and the upstream project
this plugin is modelled on was rewritten away from one for exactly that
reason.

The filter is an allow-list on every axis — tags, attributes, CSS
properties, URL schemes — so that an attacker cannot win by discovering
one more dangerous construct we forgot to blacklist; anything not
explicitly recognised is simply dropped.
*/
package sanitize

import (
	"strconv"
	"strings"
)

// allowedTags may appear in sanitized output. Everything else is either
// stripped (unknown tags: drop the tag, keep the text) or removed along
// with its entire subtree (dangerousTags).
var allowedTags = map[string]bool{
	"p": true, "br": true, "em": true, "strong": true, "u": true, "s": true,
	"a": true, "ul": true, "ol": true, "li": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"code": true, "pre": true, "sup": true, "sub": true, "span": true,
	"div": true, "hr": true,
}

// dangerousTags are removed together with everything they contain.
var dangerousTags = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true,
	"embed": true, "form": true, "input": true, "button": true,
	"link": true, "meta": true, "base": true, "applet": true,
	"math": true, "svg": true, "template": true, "noscript": true,
	"xmp": true, "listing": true, "plaintext": true, "noembed": true,
	"noframes": true,
}

// voidTags never have a matching end tag; when one of these is also in
// dangerousTags there is no subtree to skip, only the tag itself to drop.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

const maxTagNameLen = 32

var styleAllow = map[string]map[string]bool{
	"text-decoration": {"underline": true, "overline": true, "line-through": true, "none": true},
	"text-align":      {"left": true, "right": true, "center": true, "justify": true, "end": true, "start": true},
}

// Sanitize cleans an HTML fragment per the allow-lists documented on this
// package, returning HTML safe to store and render.
func Sanitize(html string) string {
	toks := tokenize(html)

	var out strings.Builder
	skipTag := ""
	skipDepth := 0

	for _, tok := range toks {
		if skipDepth > 0 {
			if tok.kind == tokenStart && tok.name == skipTag && !tok.selfClosing {
				skipDepth++
			} else if tok.kind == tokenEnd && tok.name == skipTag {
				skipDepth--
				if skipDepth == 0 {
					skipTag = ""
				}
			}
			continue
		}

		switch tok.kind {
		case tokenText:
			out.WriteString(tok.text)
		case tokenComment, tokenDoctype:
			// always dropped
		case tokenStart:
			if len(tok.name) > maxTagNameLen {
				continue // malformed: drop tag, any text around it already separate tokens
			}
			if dangerousTags[tok.name] {
				if voidTags[tok.name] || tok.selfClosing {
					continue
				}
				skipTag = tok.name
				skipDepth = 1
				continue
			}
			if !allowedTags[tok.name] {
				continue // unknown tag: strip tag, keep subsequent text tokens
			}
			out.WriteString(renderStartTag(tok))
		case tokenEnd:
			if len(tok.name) > maxTagNameLen || !allowedTags[tok.name] {
				continue
			}
			out.WriteString("</" + tok.name + ">")
		}
	}

	return out.String()
}

func renderStartTag(tok token) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tok.name)

	for _, a := range tok.attrs {
		name := strings.ToLower(a.name)
		if strings.HasPrefix(name, "on") || strings.HasPrefix(name, "data-") {
			continue
		}
		decoded := decodeEntities(a.value)

		switch name {
		case "class":
			b.WriteString(` class="` + escapeAttr(decoded) + `"`)
		case "style":
			if cleaned := filterStyle(decoded); cleaned != "" {
				b.WriteString(` style="` + escapeAttr(cleaned) + `"`)
			}
		case "href":
			if tok.name != "a" {
				continue
			}
			if url, ok := validateURL(decoded); ok {
				b.WriteString(` href="` + escapeAttr(url) + `"`)
			}
		case "title":
			if tok.name != "a" {
				continue
			}
			b.WriteString(` title="` + escapeAttr(decoded) + `"`)
		}
	}

	if tok.selfClosing || voidTags[tok.name] {
		b.WriteString(" />")
	} else {
		b.WriteByte('>')
	}
	return b.String()
}

// validateURL decides whether a (already entity-decoded) URL is safe to
// keep: absolute http/https/mailto, or relative starting with /, # or ?.
// Control characters and internal whitespace are stripped first so that
// an obfuscated scheme like "java\nscript:" cannot slip past the
// allow-list by breaking up the scheme name — and so that the same
// check also normalises a scheme spelled out via decoded entities, e.g.
// "&#x6A;avascript:".
func validateURL(decoded string) (string, bool) {
	stripped := stripControlAndWhitespace(decoded)
	lower := strings.ToLower(stripped)

	if strings.HasPrefix(lower, "//") {
		return "", false
	}
	if strings.HasPrefix(lower, "/") || strings.HasPrefix(lower, "#") || strings.HasPrefix(lower, "?") {
		return stripped, true
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
		return stripped, true
	}
	return "", false
}

func stripControlAndWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r <= 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func filterStyle(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		parts := strings.SplitN(decl, ":", 2)
		if len(parts) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.ToLower(strings.TrimSpace(parts[1]))
		allowedVals, ok := styleAllow[prop]
		if !ok || !allowedVals[val] {
			continue
		}
		kept = append(kept, prop+": "+val)
	}
	return strings.Join(kept, "; ")
}

// Escape renders plain text as HTML-safe text, for contexts (synced-note
// footers, error messages embedded in markup) where untrusted text must
// be shown without ever being interpreted as markup.
func Escape(text string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
	return r.Replace(text)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer(`"`, "&quot;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

var namedEntities = map[string]string{
	"amp": "&", "lt": "<", "gt": ">", "quot": `"`, "apos": "'",
	"nbsp": " ", "#39": "'",
}

// decodeEntities resolves HTML character references (&amp;, &#65;,
// &#x41;) in an attribute value. Decoding happens before any allow-list
// check so that an attacker cannot hide a disallowed scheme or tag
// behind an entity encoding.
func decodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '&' {
			b.WriteByte(s[i])
			continue
		}
		end := strings.IndexByte(s[i:], ';')
		if end < 0 || end > 12 {
			b.WriteByte(s[i])
			continue
		}
		ref := s[i+1 : i+end]
		if decoded, ok := decodeOneEntity(ref); ok {
			b.WriteString(decoded)
			i += end
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func decodeOneEntity(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if ref[0] == '#' {
		body := ref[1:]
		base := 10
		if len(body) > 1 && (body[0] == 'x' || body[0] == 'X') {
			base = 16
			body = body[1:]
		}
		n, err := strconv.ParseInt(body, base, 32)
		if err != nil || n < 0 || n > 0x10FFFF {
			return "", false
		}
		return string(rune(n)), true
	}
	if v, ok := namedEntities[strings.ToLower(ref)]; ok {
		return v, true
	}
	return "", false
}
