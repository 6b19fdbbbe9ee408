package extracthtml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoadLocatorFile_HappyPath verifies JSON5 locator files (comments,
// unquoted keys, trailing commas) load and validate.
func TestLoadLocatorFile_HappyPath(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	p := filepath.Join(tmp, "locators.json5")

	src := `{
		// owner block
		locators: [
			{group: "OWNER DETAILS", field: "HOSTNAME", rule: "label_sibling", label: "Hostname"},
			{group: "LOCATION DATA", field: "Location", rule: "flag_cell", container: "location-data-wrapper"},
		],
	}`
	if err := os.WriteFile(p, []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	lf, err := LoadLocatorFile(p)
	if err != nil {
		t.Fatalf("LoadLocatorFile: %v", err)
	}
	if len(lf.Locators) != 2 {
		t.Fatalf("expected 2 locators, got %d", len(lf.Locators))
	}
	if lf.Locators[1].Rule != RuleFlagCell || lf.Locators[1].Container != "location-data-wrapper" {
		t.Fatalf("unexpected second locator: %+v", lf.Locators[1])
	}
}

// TestLoadLocatorFile_Rejects verifies empty and invalid tables are refused
// so a lookup never silently runs with nothing to extract.
func TestLoadLocatorFile_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "empty", src: `{locators: []}`, want: "no locators"},
		{name: "bad_json", src: `{locators: [`, want: "parse locators file"},
		{name: "unknown_rule", src: `{locators: [{group: "G", field: "F", rule: "css"}]}`, want: "unknown rule"},
		{name: "missing_label", src: `{locators: [{group: "G", field: "F", rule: "label_sibling"}]}`, want: "needs label"},
		{name: "bad_regex", src: `{locators: [{group: "G", field: "F", rule: "label_sibling", label: "x", match: "("}]}`, want: "invalid regex"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "l.json5")
			if err := os.WriteFile(p, []byte(tc.src), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadLocatorFile(p)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadLocatorFile_Missing(t *testing.T) {
	t.Parallel()

	if _, err := LoadLocatorFile(filepath.Join(t.TempDir(), "nope.json5")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
