package extracthtml

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// LoadLocatorFile loads and validates a locators file.
//
// The file is JSON5, so comments and trailing commas are allowed:
//
//	{
//	  locators: [
//	    // owner block
//	    {group: "OWNER DETAILS", field: "HOSTNAME", rule: "label_sibling", label: "Hostname"},
//	  ],
//	}
func LoadLocatorFile(path string) (*LocatorFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locators file: %w", err)
	}

	var lf LocatorFile
	if err := json5.Unmarshal(b, &lf); err != nil {
		return nil, fmt.Errorf("parse locators file: %w", err)
	}

	if len(lf.Locators) == 0 {
		return nil, fmt.Errorf("locators file has no locators")
	}
	for i, l := range lf.Locators {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("locators[%d]: %w", i, err)
		}
	}
	return &lf, nil
}
