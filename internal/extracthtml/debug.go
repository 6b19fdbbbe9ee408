package extracthtml

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DebugPrintLocator prints either outer HTML or text of the element loc
// resolves to in html. This is used by the "locators --debug-html" mode when
// authoring locator files.
func DebugPrintLocator(w io.Writer, html string, loc Locator, textOnly bool) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	sel, err := resolve(doc.Selection, loc)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		fmt.Fprintf(w, "%s: no match (xpath %s)\n", loc, loc.XPath())
		return nil
	}

	if textOnly {
		fmt.Fprintln(w, NormalizeText(sel.Text()))
		fmt.Fprintln(w)
		return nil
	}
	out, err := goquery.OuterHtml(sel)
	if err != nil {
		in, _ := sel.Html()
		fmt.Fprintln(w, in)
		fmt.Fprintln(w)
		return nil
	}
	fmt.Fprintln(w, out)
	fmt.Fprintln(w)
	return nil
}
