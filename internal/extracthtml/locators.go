package extracthtml

import (
	"fmt"
	"strings"
)

// Group labels of the reputation lookup page.
const (
	GroupLocation    = "LOCATION DATA"
	GroupOwner       = "OWNER DETAILS"
	GroupReputation  = "REPUTATION DETAILS"
	GroupEmailVolume = "EMAIL VOLUME DATA"
	GroupBlockLists  = "BLOCK LISTS"
)

// LocationContainer is the id of the element wrapping the location flag.
const LocationContainer = "location-data-wrapper"

// DefaultLocators returns the locator table for the reputation lookup page,
// in display order.
//
// PBL.SPAMHAUS.ORG and SBL.SPAMHAUS.ORG share one href pattern, so both read
// the first spamhaus row on the page. The page links both lists to the same
// host and exposes nothing else to tell them apart; the duplication is kept
// as observed rather than guessed at.
func DefaultLocators() []Locator {
	label := func(group, field, text string) Locator {
		return Locator{Group: group, Field: field, Rule: RuleLabelSibling, Label: text}
	}
	href := func(field, host string) Locator {
		return Locator{Group: GroupBlockLists, Field: field, Rule: RuleHrefSibling, HrefContains: host}
	}

	return []Locator{
		{Group: GroupLocation, Field: "Location", Rule: RuleFlagCell, Container: LocationContainer},

		label(GroupOwner, "IP ADDRESS", "IP Address"),
		label(GroupOwner, "FWD/REV DNS MATCH", "FWD/REV DNS MATCH"),
		label(GroupOwner, "HOSTNAME", "Hostname"),
		label(GroupOwner, "DOMAIN", "Domain"),
		label(GroupOwner, "NETWORK OWNER", "Network Owner"),

		label(GroupReputation, "SENDER IP REPUTATION", "Sender IP Reputation"),
		label(GroupReputation, "WEB REPUTATION", "Web Reputation"),

		label(GroupEmailVolume, "EMAIL VOLUME LAST DAY", "Email Volume Last Day"),
		label(GroupEmailVolume, "EMAIL VOLUME LAST MONTH", "Email Volume Last Month"),
		label(GroupEmailVolume, "VOLUME CHANGE", "Volume Change"),
		label(GroupEmailVolume, "SPAM LEVEL", "Spam Level"),

		href("BL.SPAMCOP.NET", "spamcop.net"),
		href("CBL.ABUSEAT.ORG", "abuseat.org"),
		href("PBL.SPAMHAUS.ORG", "spamhaus.org"),
		href("SBL.SPAMHAUS.ORG", "spamhaus.org"),
		label(GroupBlockLists, "ADDED TO THE BLOCK LIST", "Added to the Block List"),
	}
}

// XPath renders l as an XPath expression for drivers that resolve elements
// themselves (e.g. a WebDriver session).
func (l Locator) XPath() string {
	switch l.Rule {
	case RuleLabelSibling:
		return fmt.Sprintf("//td[text()=%s]/following-sibling::td", xpathLiteral(l.Label))
	case RuleHrefSibling:
		return fmt.Sprintf(
			"//td[@class='chart-data-label col_left']/a[contains(@href, %s)]/../following-sibling::td",
			xpathLiteral(l.HrefContains),
		)
	case RuleFlagCell:
		return fmt.Sprintf(
			"//div[@id=%s]//span[contains(concat(' ', normalize-space(@class), ' '), %s)]/parent::td",
			xpathLiteral(l.Container),
			xpathLiteral(" "+l.icon()+" "),
		)
	default:
		return ""
	}
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + p + "'")
	}
	b.WriteString(")")
	return b.String()
}
