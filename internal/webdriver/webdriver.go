// Package webdriver drives a browser through the W3C WebDriver protocol
// (chromedriver in practice) and exposes it as an extracthtml.Session, so
// pages that render client-side can be scraped with the same locators.
package webdriver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"repscan/internal/extracthtml"
	"repscan/internal/telemetry"
)

// DefaultURL is where chromedriver listens unless told otherwise.
const DefaultURL = "http://localhost:9515"

// elementKey is the W3C web element identifier key.
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

// Options configures a new browser session.
type Options struct {
	// URL of the WebDriver endpoint. Defaults to DefaultURL.
	URL string

	// ProfilePath is passed as --user-data-dir so a pre-seeded browser
	// profile (cookies, consent banners) is reused.
	ProfilePath string

	Headless bool

	// Args are appended to the default browser arguments.
	Args []string

	// Timeout bounds each protocol request. Zero means no client timeout.
	Timeout time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Error is a protocol-level error returned by the WebDriver endpoint.
type Error struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("webdriver: http status %d", e.Status)
	}
	return fmt.Sprintf("webdriver: %s: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Value Error `json:"value"`
}

// Session is one live browser session.
type Session struct {
	http *resty.Client
	id   string
}

var _ extracthtml.Session = (*Session)(nil)

// New starts a browser session.
func New(ctx context.Context, opts Options) (*Session, error) {
	base := opts.URL
	if base == "" {
		base = DefaultURL
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(base)
	client.SetHeader("Content-Type", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	telemetry.InstrumentResty(client, "repscan/webdriver")

	var created struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	s := &Session{http: client}
	if err := s.do(ctx, http.MethodPost, "/session", capabilities(opts), &created); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created.Value.SessionID == "" {
		return nil, errors.New("create session: empty session id")
	}
	s.id = created.Value.SessionID
	return s, nil
}

func capabilities(opts Options) map[string]any {
	args := []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--homepage=about:blank",
	}
	if opts.ProfilePath != "" {
		args = append(args, "--user-data-dir="+opts.ProfilePath)
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, opts.Args...)

	return map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName":        "chrome",
				"goog:chromeOptions": map[string]any{"args": args},
			},
		},
	}
}

// ID returns the remote session id.
func (s *Session) ID() string { return s.id }

// Navigate loads url in the browser and waits for the page load to finish.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.id == "" {
		return errClosed
	}
	return s.do(ctx, http.MethodPost, s.path("/url"), map[string]string{"url": url}, nil)
}

// FindElement resolves loc by its XPath rendering.
func (s *Session) FindElement(ctx context.Context, loc extracthtml.Locator) (extracthtml.Element, error) {
	if s.id == "" {
		return nil, errClosed
	}
	xpath := loc.XPath()
	if xpath == "" {
		return nil, fmt.Errorf("locator %s: unknown rule %q", loc, loc.Rule)
	}

	var found struct {
		Value map[string]string `json:"value"`
	}
	err := s.do(ctx, http.MethodPost, s.path("/element"), map[string]string{
		"using": "xpath",
		"value": xpath,
	}, &found)
	var werr *Error
	if errors.As(err, &werr) && werr.Code == "no such element" {
		return nil, extracthtml.ErrNoSuchElement
	}
	if err != nil {
		return nil, err
	}

	id := found.Value[elementKey]
	if id == "" {
		return nil, errors.New("webdriver: element reference missing from response")
	}
	return element{s: s, id: id}, nil
}

// Close ends the browser session. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.id == "" {
		return nil
	}
	path := s.path("")
	s.id = ""
	return s.do(context.Background(), http.MethodDelete, path, nil, nil)
}

var errClosed = errors.New("webdriver: session closed")

func (s *Session) path(suffix string) string {
	return "/session/" + s.id + suffix
}

func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	req := s.http.R().
		SetContext(ctx).
		SetError(&errorEnvelope{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("webdriver %s %s: %w", method, path, err)
	}
	if res.IsError() {
		werr := &Error{Status: res.StatusCode()}
		if env, ok := res.Error().(*errorEnvelope); ok && env != nil {
			werr.Code = env.Value.Code
			werr.Message = env.Value.Message
		}
		return werr
	}
	return nil
}

type element struct {
	s  *Session
	id string
}

func (e element) Text(ctx context.Context) (string, error) {
	if e.s.id == "" {
		return "", errClosed
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := e.s.do(ctx, http.MethodGet, e.s.path("/element/"+e.id+"/text"), nil, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}
