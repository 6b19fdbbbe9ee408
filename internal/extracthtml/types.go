package extracthtml

import (
	"fmt"
	"strings"
	"unicode"
)

// Rule selects how a Locator is resolved against a page.
type Rule string

const (
	// RuleLabelSibling finds the td whose text is exactly Label and reads the
	// next sibling td.
	RuleLabelSibling Rule = "label_sibling"

	// RuleHrefSibling finds a chart label cell holding a link whose href
	// contains HrefContains and reads the next sibling td.
	RuleHrefSibling Rule = "href_sibling"

	// RuleFlagCell finds the flag icon inside Container and reads the td that
	// holds it. Only the location datum uses this shape.
	RuleFlagCell Rule = "flag_cell"
)

// DefaultFlagIcon is the icon class matched by RuleFlagCell when Icon is empty.
const DefaultFlagIcon = "flag-icon"

// Locator represents one extractable datum: where it lives on the page and
// the group/field labels it is reported under.
type Locator struct {
	Group string `json:"group"`
	Field string `json:"field"`
	Rule  Rule   `json:"rule"`

	Label        string `json:"label,omitempty"`         // RuleLabelSibling
	HrefContains string `json:"href_contains,omitempty"` // RuleHrefSibling
	Container    string `json:"container,omitempty"`     // RuleFlagCell: id of the wrapping element
	Icon         string `json:"icon,omitempty"`          // RuleFlagCell: icon class, defaults to DefaultFlagIcon

	Match string `json:"match,omitempty"` // optional regex filter (applies to extracted value)
}

// LocatorFile describes a locators file.
type LocatorFile struct {
	Locators []Locator `json:"locators"`
}

// Validate checks that l carries the fields its rule needs.
func (l Locator) Validate() error {
	if strings.TrimSpace(l.Group) == "" {
		return fmt.Errorf("locator %q: missing group", l.Field)
	}
	if strings.TrimSpace(l.Field) == "" {
		return fmt.Errorf("locator in group %q: missing field", l.Group)
	}

	switch l.Rule {
	case RuleLabelSibling:
		if l.Label == "" {
			return fmt.Errorf("locator %s/%s: rule %s needs label", l.Group, l.Field, l.Rule)
		}
	case RuleHrefSibling:
		if l.HrefContains == "" {
			return fmt.Errorf("locator %s/%s: rule %s needs href_contains", l.Group, l.Field, l.Rule)
		}
	case RuleFlagCell:
		if l.Container == "" {
			return fmt.Errorf("locator %s/%s: rule %s needs container", l.Group, l.Field, l.Rule)
		}
		if strings.ContainsFunc(l.Container, unicode.IsSpace) {
			return fmt.Errorf("locator %s/%s: container %q is not a single element id", l.Group, l.Field, l.Container)
		}
		if strings.ContainsFunc(l.Icon, unicode.IsSpace) {
			return fmt.Errorf("locator %s/%s: icon %q is not a single class name", l.Group, l.Field, l.Icon)
		}
	default:
		return fmt.Errorf("locator %s/%s: unknown rule %q", l.Group, l.Field, l.Rule)
	}

	if _, err := compileOptionalRegex(l.Match, l.Group+"/"+l.Field); err != nil {
		return err
	}
	return nil
}

func (l Locator) icon() string {
	if l.Icon == "" {
		return DefaultFlagIcon
	}
	return l.Icon
}

// String identifies the locator in logs and errors.
func (l Locator) String() string {
	return l.Group + "/" + l.Field
}
