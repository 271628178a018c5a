package footer

import "testing"

func TestRenderParseRoundTrip(t *testing.T) {
	f := Render("uuid-1", "alice")
	uuid, author, ok := Parse(f)
	if !ok || uuid != "uuid-1" || author != "alice" {
		t.Fatalf("Parse(%q) = %q, %q, %v, want uuid-1, alice, true", f, uuid, author, ok)
	}
}

func TestParseNoFooter(t *testing.T) {
	if _, _, ok := Parse("<p>plain note</p>"); ok {
		t.Fatal("Parse should fail on a note without a footer")
	}
}

func TestStripRemovesFooterOnly(t *testing.T) {
	body := "<p>hello</p>" + Render("uuid-1", "alice")
	stripped := Strip(body)
	if stripped != "<p>hello</p>" {
		t.Fatalf("Strip(%q) = %q, want body without footer", body, stripped)
	}
}

func TestParseRetractionDistinguishesLiveFromRetracted(t *testing.T) {
	live := Render("uuid-1", "alice")
	uuid, author, retracted, ok := ParseRetraction(live)
	if !ok || retracted || uuid != "uuid-1" || author != "alice" {
		t.Fatalf("ParseRetraction(live) = %q, %q, %v, %v, want uuid-1, alice, false, true", uuid, author, retracted, ok)
	}

	gone := RenderRetracted("uuid-1", "alice")
	uuid, author, retracted, ok = ParseRetraction(gone)
	if !ok || !retracted || uuid != "uuid-1" || author != "alice" {
		t.Fatalf("ParseRetraction(retracted) = %q, %q, %v, %v, want uuid-1, alice, true, true", uuid, author, retracted, ok)
	}
}
