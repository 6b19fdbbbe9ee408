package extracthtml

import (
	"bytes"
	"strings"
	"testing"
)

const debugPage = `<table><tr><td>Hostname</td><td>  dns.google  </td></tr></table>`

var hostnameLocator = Locator{Group: GroupOwner, Field: "HOSTNAME", Rule: RuleLabelSibling, Label: "Hostname"}

// TestDebugPrintLocator_TextOnly verifies text mode prints the normalised
// value followed by a blank line.
func TestDebugPrintLocator_TextOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := DebugPrintLocator(&buf, debugPage, hostnameLocator, true); err != nil {
		t.Fatalf("DebugPrintLocator: %v", err)
	}
	if want := "dns.google\n\n"; buf.String() != want {
		t.Fatalf("unexpected output:\nwant=%q\ngot=%q", want, buf.String())
	}
}

// TestDebugPrintLocator_OuterHTML verifies the non-text mode prints outer HTML.
func TestDebugPrintLocator_OuterHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := DebugPrintLocator(&buf, debugPage, hostnameLocator, false); err != nil {
		t.Fatalf("DebugPrintLocator: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<td>  dns.google  </td>") {
		t.Fatalf("unexpected outer html output: %q", out)
	}
	if out[len(out)-2:] != "\n\n" {
		t.Fatalf("expected trailing blank line, got %q", out)
	}
}

func TestDebugPrintLocator_NoMatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	loc := hostnameLocator
	loc.Label = "Domain"
	if err := DebugPrintLocator(&buf, debugPage, loc, true); err != nil {
		t.Fatalf("DebugPrintLocator: %v", err)
	}
	if !strings.Contains(buf.String(), "no match") || !strings.Contains(buf.String(), "//td[text()='Domain']") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
