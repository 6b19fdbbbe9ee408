package extracthtml

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrNoSuchElement is returned by Session.FindElement when a locator does not
// resolve. It is an expected outcome: pages omit fields they have no data for.
var ErrNoSuchElement = errors.New("no such element")

var (
	errNoDocument    = errors.New("session has no page loaded")
	errSessionClosed = errors.New("session closed")
)

// Session is a rendered page the extractor can query.
//
// One Navigate per lookup, then any number of FindElement calls, then Close.
type Session interface {
	Navigate(ctx context.Context, url string) error

	// FindElement resolves loc against the current page. A locator that does
	// not resolve yields ErrNoSuchElement; any other error means the session
	// itself is unusable.
	FindElement(ctx context.Context, loc Locator) (Element, error)

	Close() error
}

// Element is one resolved page element.
type Element interface {
	Text(ctx context.Context) (string, error)
}

// DocumentSession is a Session over static HTML parsed with goquery.
//
// It does not execute scripts; content the target renders client-side is
// only visible through a browser-backed Session.
type DocumentSession struct {
	loader *Loader
	doc    *goquery.Document
	closed bool
}

// NewDocumentSession returns a session that loads pages with loader.
func NewDocumentSession(loader *Loader) *DocumentSession {
	return &DocumentSession{loader: loader}
}

// NewStaticSession returns a session already positioned on page. Navigate
// on a static session is a no-op.
func NewStaticSession(page string) (*DocumentSession, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &DocumentSession{doc: doc}, nil
}

// Navigate fetches url and makes it the current page.
func (s *DocumentSession) Navigate(ctx context.Context, url string) error {
	if s.closed {
		return errSessionClosed
	}
	if s.loader == nil {
		if s.doc == nil {
			return errNoDocument
		}
		return nil
	}

	page, err := s.loader.Load(ctx, Input{URL: url})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	s.doc = doc
	return nil
}

// FindElement resolves loc against the current page.
func (s *DocumentSession) FindElement(ctx context.Context, loc Locator) (Element, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if s.doc == nil {
		return nil, errNoDocument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sel, err := resolve(s.doc.Selection, loc)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, ErrNoSuchElement
	}
	return selectionElement{sel: sel}, nil
}

// Close releases the page. Further calls fail.
func (s *DocumentSession) Close() error {
	s.closed = true
	s.doc = nil
	return nil
}

type selectionElement struct {
	sel *goquery.Selection
}

func (e selectionElement) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.sel.Text(), nil
}

// resolve applies the rule of loc relative to root and returns at most one
// matched node: the first in document order, as WebDriver does for the
// XPath rendering of the same locator.
func resolve(root *goquery.Selection, loc Locator) (*goquery.Selection, error) {
	switch loc.Rule {
	case RuleLabelSibling:
		cells := root.Find("td").FilterFunction(func(_ int, td *goquery.Selection) bool {
			return ownTextEquals(td, loc.Label)
		})
		return firstMatch(cells, func(td *goquery.Selection) *goquery.Selection {
			return td.NextAllFiltered("td")
		}), nil

	case RuleHrefSibling:
		links := root.Find("td.chart-data-label.col_left > a").FilterFunction(func(_ int, a *goquery.Selection) bool {
			return strings.Contains(a.AttrOr("href", ""), loc.HrefContains)
		})
		return firstMatch(links, func(a *goquery.Selection) *goquery.Selection {
			return a.Parent().NextAllFiltered("td")
		}), nil

	case RuleFlagCell:
		// Attribute and class values are compared directly, so locator file
		// values never have to be escaped into a CSS selector.
		icon := loc.icon()
		spans := root.Find("div").FilterFunction(func(_ int, div *goquery.Selection) bool {
			return div.AttrOr("id", "") == loc.Container
		}).Find("span").FilterFunction(func(_ int, span *goquery.Selection) bool {
			return span.HasClass(icon)
		})
		return firstMatch(spans, func(span *goquery.Selection) *goquery.Selection {
			return span.Parent().Filter("td")
		}), nil

	default:
		return nil, fmt.Errorf("locator %s: unknown rule %q", loc, loc.Rule)
	}
}

// firstMatch walks candidates in document order and returns the first node
// step yields. A candidate without a target falls through to the next one.
func firstMatch(candidates *goquery.Selection, step func(*goquery.Selection) *goquery.Selection) *goquery.Selection {
	for i := range candidates.Nodes {
		if found := step(candidates.Eq(i)).First(); found.Length() > 0 {
			return found
		}
	}
	return candidates.Slice(0, 0)
}

// ownTextEquals reports whether any direct text node of sel equals want once
// surrounding whitespace is trimmed. Text inside child elements is ignored.
func ownTextEquals(sel *goquery.Selection, want string) bool {
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode && strings.TrimSpace(c.Data) == want {
				return true
			}
		}
	}
	return false
}
