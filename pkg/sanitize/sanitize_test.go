package sanitize

import (
	"strings"
	"testing"
)

func TestSanitizeAllowsBasicMarkup(t *testing.T) {
	in := `<p>hello <strong>world</strong></p>`
	if got := Sanitize(in); got != in {
		t.Errorf("Sanitize(%q) = %q, want unchanged", in, got)
	}
}

func TestSanitizeDropsDangerousTagAndContent(t *testing.T) {
	in := `<p>before</p><script>alert(1)</script><p>after</p>`
	got := Sanitize(in)
	if containsAny(got, "<script", "alert(1)") {
		t.Errorf("Sanitize(%q) = %q, still contains script content", in, got)
	}
	if got != "<p>before</p><p>after</p>" {
		t.Errorf("Sanitize(%q) = %q, want surrounding paragraphs preserved", in, got)
	}
}

func TestSanitizeStripsUnknownTagKeepsText(t *testing.T) {
	in := `<weird>text survives</weird>`
	got := Sanitize(in)
	if containsAny(got, "<weird", "</weird") {
		t.Errorf("Sanitize(%q) = %q, unknown tag not stripped", in, got)
	}
	if got != "text survives" {
		t.Errorf("Sanitize(%q) = %q, want text survives", in, got)
	}
}

func TestSanitizeRemovesComments(t *testing.T) {
	in := `<p>a</p><!-- secret --><p>b</p>`
	got := Sanitize(in)
	if containsAny(got, "secret", "<!--") {
		t.Errorf("Sanitize(%q) = %q, comment not removed", in, got)
	}
}

func TestSanitizeDropsEventHandlerAttrs(t *testing.T) {
	in := `<p onclick="evil()">x</p>`
	got := Sanitize(in)
	if containsAny(got, "onclick", "evil") {
		t.Errorf("Sanitize(%q) = %q, onclick not stripped", in, got)
	}
}

func TestSanitizeDropsDataAttrs(t *testing.T) {
	in := `<span data-secret="1">x</span>`
	got := Sanitize(in)
	if containsAny(got, "data-secret") {
		t.Errorf("Sanitize(%q) = %q, data-* not stripped", in, got)
	}
}

func TestSanitizeAllowsSafeLink(t *testing.T) {
	in := `<a href="https://example.com" title="t">link</a>`
	got := Sanitize(in)
	if !containsAny(got, `href="https://example.com"`) {
		t.Errorf("Sanitize(%q) = %q, valid https href dropped", in, got)
	}
}

func TestSanitizeRejectsJavascriptScheme(t *testing.T) {
	in := `<a href="javascript:alert(1)">x</a>`
	got := Sanitize(in)
	if containsAny(got, "javascript:") {
		t.Errorf("Sanitize(%q) = %q, javascript: scheme not rejected", in, got)
	}
}

func TestSanitizeRejectsObfuscatedEntityScheme(t *testing.T) {
	in := `<a href="&#x6A;avascript:alert(1)">x</a>`
	got := Sanitize(in)
	if containsAny(got, "javascript:", "avascript") {
		t.Errorf("Sanitize(%q) = %q, entity-obfuscated scheme not rejected", in, got)
	}
}

func TestSanitizeRejectsNewlineSplitScheme(t *testing.T) {
	in := "<a href=\"java\nscript:alert(1)\">x</a>"
	got := Sanitize(in)
	if containsAny(got, "javascript:", "script:alert") {
		t.Errorf("Sanitize(%q) = %q, whitespace-split scheme not rejected", in, got)
	}
}

func TestSanitizeRejectsProtocolRelativeURL(t *testing.T) {
	in := `<a href="//evil.example.com/x">x</a>`
	got := Sanitize(in)
	if containsAny(got, "href=") {
		t.Errorf("Sanitize(%q) = %q, protocol-relative URL not rejected", in, got)
	}
}

func TestSanitizeAllowsRelativeURLs(t *testing.T) {
	for _, href := range []string{"/path", "#anchor", "?q=1"} {
		in := `<a href="` + href + `">x</a>`
		got := Sanitize(in)
		if !containsAny(got, `href="`+href+`"`) {
			t.Errorf("Sanitize(%q) = %q, relative href %q should be kept", in, got, href)
		}
	}
}

func TestSanitizeFiltersStyleAllowList(t *testing.T) {
	in := `<span style="text-decoration: underline; color: red; position: fixed">x</span>`
	got := Sanitize(in)
	if containsAny(got, "color", "position") {
		t.Errorf("Sanitize(%q) = %q, disallowed CSS property kept", in, got)
	}
	if !containsAny(got, "text-decoration: underline") {
		t.Errorf("Sanitize(%q) = %q, allowed CSS property dropped", in, got)
	}
}

func TestSanitizeDropsOversizedTagName(t *testing.T) {
	longName := "a123456789012345678901234567890123"
	in := "<" + longName + ">text</" + longName + ">"
	got := Sanitize(in)
	if containsAny(got, longName) {
		t.Errorf("Sanitize(%q) = %q, overlong tag name not dropped", in, got)
	}
	if got != "text" {
		t.Errorf("Sanitize(%q) = %q, want bare text", in, got)
	}
}

func TestSanitizeHandlesNestedDangerousTags(t *testing.T) {
	in := `<p>a</p><style><style>body{}</style></style><p>b</p>`
	got := Sanitize(in)
	if containsAny(got, "style", "body{}") {
		t.Errorf("Sanitize(%q) = %q, nested dangerous tag content leaked", in, got)
	}
	if got != "<p>a</p><p>b</p>" {
		t.Errorf("Sanitize(%q) = %q, want only the safe paragraphs", in, got)
	}
}

func TestSanitizeDropsVoidDangerousTag(t *testing.T) {
	in := `<p>a</p><input type="text"><p>b</p>`
	got := Sanitize(in)
	if containsAny(got, "<input") {
		t.Errorf("Sanitize(%q) = %q, void dangerous tag not dropped", in, got)
	}
}

func TestEscape(t *testing.T) {
	got := Escape(`<b>"quoted" & 'single'</b>`)
	if containsAny(got, "<b>", `"quoted"`) {
		t.Errorf("Escape() = %q, still contains raw markup", got)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
