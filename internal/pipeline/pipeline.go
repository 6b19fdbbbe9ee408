// Package pipeline runs one reputation lookup end to end: sanitize the
// identifier, scrape the lookup page through a browser session, enrich it
// from the geolocation API and aggregate both into one record.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"repscan/internal/enrich"
	"repscan/internal/extracthtml"
	"repscan/internal/metrics"
	"repscan/internal/record"
	"repscan/internal/sanitize"
	"repscan/internal/webdriver"
)

var tracer = otel.Tracer("repscan/pipeline")

const (
	DefaultTargetBaseURL = "https://talosintelligence.com/reputation_center/lookup"
	DefaultSettleDelay   = 5 * time.Second
	DefaultQueryTimeout  = 60 * time.Second
)

// Config carries everything the pipeline used to hardcode. The browser and
// API fields configure the collaborators New builds when none are injected.
type Config struct {
	// ProfilePath is the browser profile directory of the default WebDriver
	// session.
	ProfilePath string

	// WebDriverURL is the endpoint of the default WebDriver session.
	// Empty means webdriver.DefaultURL.
	WebDriverURL string

	Headless bool

	// TargetBaseURL is the lookup page; the identifier is added as the
	// "search" query parameter.
	TargetBaseURL string

	// APIBaseURL is the geolocation endpoint of the default enricher.
	// Empty means enrich.DefaultBaseURL.
	APIBaseURL string

	// APIToken is sent by the default enricher when set.
	APIToken string

	// RequestTimeout bounds each request of the default collaborators.
	// Zero means no per-request bound beyond QueryTimeout.
	RequestTimeout time.Duration

	// SettleDelay is waited after navigation so client-side content can
	// finish rendering. Zero disables the wait.
	SettleDelay time.Duration

	// QueryTimeout bounds one whole lookup. Zero means DefaultQueryTimeout;
	// negative disables the bound.
	QueryTimeout time.Duration
}

// TargetURL returns the lookup page URL for id.
func (c Config) TargetURL(id sanitize.Identifier) (string, error) {
	base := c.TargetBaseURL
	if base == "" {
		base = DefaultTargetBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("target base url: %w", err)
	}
	q := u.Query()
	q.Set("search", id.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SessionFactory opens a fresh page session for one lookup.
type SessionFactory func(ctx context.Context) (extracthtml.Session, error)

// Enricher supplies the geolocation group. *enrich.Client implements it.
type Enricher interface {
	Enrich(ctx context.Context, id sanitize.Identifier) (record.FieldMap, error)
}

// SessionError reports that the page session could not be opened, navigated
// or read. It is fatal for the lookup it belongs to.
type SessionError struct {
	Identifier string
	Step       string
	Err        error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("lookup %s: %s: %v", e.Identifier, e.Step, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Result is one finished lookup.
type Result struct {
	// RunID groups results of one invocation; set by RunBatch or the caller.
	RunID string

	Identifier sanitize.Identifier
	Record     record.Record

	// EnrichmentErr is set when the geolocation group could not be added.
	// Record is still valid.
	EnrichmentErr error

	StartedAt time.Time
	Duration  time.Duration
}

// Pipeline runs lookups sequentially. It holds no per-lookup state, but the
// session factory and enricher it wraps may not be safe for concurrent use.
type Pipeline struct {
	cfg      Config
	sessions SessionFactory
	enricher Enricher
	locators []extracthtml.Locator
	logger   *slog.Logger

	httpClient *http.Client
	noEnrich   bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLocators replaces the default locator table.
func WithLocators(locs []extracthtml.Locator) Option {
	return func(p *Pipeline) { p.locators = locs }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithHTTPClient sets the transport of the default collaborators.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.httpClient = c }
}

// WithoutEnrichment keeps records to the scraped groups. No default
// enricher is built.
func WithoutEnrichment() Option {
	return func(p *Pipeline) { p.noEnrich = true }
}

// New returns a Pipeline. A nil sessions uses a WebDriver session per lookup
// built from cfg; a nil enricher uses the geolocation client built from cfg
// unless WithoutEnrichment is given.
func New(cfg Config, sessions SessionFactory, enricher Enricher, opts ...Option) (*Pipeline, error) {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if _, err := cfg.TargetURL(sanitize.MustSanitize("example.com")); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		sessions: sessions,
		enricher: enricher,
		locators: extracthtml.DefaultLocators(),
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(p)
	}
	if p.sessions == nil {
		p.sessions = webDriverSessions(cfg, p.httpClient)
	}
	if p.enricher == nil && !p.noEnrich {
		p.enricher = enrich.New(enrich.Options{
			BaseURL:    cfg.APIBaseURL,
			Token:      cfg.APIToken,
			Timeout:    cfg.RequestTimeout,
			HTTPClient: p.httpClient,
		})
	}
	if p.noEnrich {
		p.enricher = nil
	}
	for _, l := range p.locators {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func webDriverSessions(cfg Config, hc *http.Client) SessionFactory {
	opts := webdriver.Options{
		URL:         cfg.WebDriverURL,
		ProfilePath: cfg.ProfilePath,
		Headless:    cfg.Headless,
		Timeout:     cfg.RequestTimeout,
		HTTPClient:  hc,
	}
	return func(ctx context.Context) (extracthtml.Session, error) {
		s, err := webdriver.New(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup runs the whole pipeline for raw.
//
// Errors:
//   - sanitize.ErrInvalidIdentifier: raw was rejected; no session was opened
//     and the API was not called.
//   - *SessionError: the scrape failed; no record is returned.
//
// Enrichment failures are not errors: they are reported in
// Result.EnrichmentErr and the record carries the scraped groups only.
func (p *Pipeline) Lookup(ctx context.Context, raw string) (Result, error) {
	id, err := sanitize.Sanitize(raw)
	if err != nil {
		metrics.RecordLookup("invalid")
		return Result{}, err
	}

	if p.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.QueryTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "Lookup", trace.WithAttributes(
		attribute.String("identifier", id.String()),
		attribute.String("identifier.kind", id.Kind().String()),
	))
	defer span.End()

	res := Result{Identifier: id, StartedAt: p.now()}
	log := p.logger.With("identifier", id.String())

	scraped, err := p.scrape(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordLookup("failed")
		return res, err
	}

	var enrichment record.FieldMap
	if p.enricher != nil {
		err := p.step(ctx, "enrich", func(ctx context.Context) error {
			var err error
			enrichment, err = p.enricher.Enrich(ctx, id)
			return err
		})
		if err != nil {
			res.EnrichmentErr = err
			log.WarnContext(ctx, "enrichment failed, continuing without it", "err", err)
		}
	}

	res.Record = record.Aggregate(scraped, enrichment)
	res.Record.Each(func(group string, fields record.FieldMap) {
		metrics.RecordFields(group, fields.Len())
	})
	res.Duration = p.now().Sub(res.StartedAt)

	span.SetAttributes(attribute.Int("record.groups", res.Record.Len()))
	metrics.RecordLookup("ok")
	log.DebugContext(ctx, "lookup finished", "groups", res.Record.Len(), "duration", res.Duration)
	return res, nil
}

// scrape opens a session, renders the lookup page and extracts the locator
// table. The session is always closed before returning.
func (p *Pipeline) scrape(ctx context.Context, id sanitize.Identifier) (record.Record, error) {
	fail := func(step string, err error) error {
		return &SessionError{Identifier: id.String(), Step: step, Err: err}
	}

	target, err := p.cfg.TargetURL(id)
	if err != nil {
		return record.Record{}, fail("target", err)
	}

	var sess extracthtml.Session
	if err := p.step(ctx, "open", func(ctx context.Context) error {
		var err error
		sess, err = p.sessions(ctx)
		return err
	}); err != nil {
		return record.Record{}, fail("open", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.logger.WarnContext(ctx, "failed to close session", "identifier", id.String(), "err", cerr)
		}
	}()

	if err := p.step(ctx, "navigate", func(ctx context.Context) error {
		return sess.Navigate(ctx, target)
	}); err != nil {
		return record.Record{}, fail("navigate", err)
	}

	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return record.Record{}, fail("settle", err)
	}

	var rec record.Record
	if err := p.step(ctx, "extract", func(ctx context.Context) error {
		var err error
		rec, err = extracthtml.Extract(ctx, sess, p.locators)
		return err
	}); err != nil {
		return record.Record{}, fail("extract", err)
	}
	return rec, nil
}

// step runs fn inside a span and records its outcome.
func (p *Pipeline) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	start := p.now()
	err := fn(ctx)
	metrics.RecordStep(name, err, p.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
