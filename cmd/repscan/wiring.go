package main

import (
	"context"
	"fmt"

	"repscan/internal/extracthtml"
	"repscan/internal/metrics"
	"repscan/internal/metrics/datadog"
	"repscan/internal/metrics/prompush"
	"repscan/internal/pipeline"
	"repscan/internal/storage"
)

// locators returns the configured locator table, or nil for the default one.
func (a *app) locators() ([]extracthtml.Locator, error) {
	if a.cfg.LocatorsFile == "" {
		return nil, nil
	}
	lf, err := extracthtml.LoadLocatorFile(a.cfg.LocatorsFile)
	if err != nil {
		return nil, usagef("load locators: %v", err)
	}
	return lf.Locators, nil
}

// sessionFactory returns nil for the webdriver kind, so the pipeline builds
// its WebDriver sessions from the config it is given.
func (a *app) sessionFactory() pipeline.SessionFactory {
	if a.cfg.Session.Kind == "webdriver" {
		return nil
	}
	loader := extracthtml.NewLoader(a.deps.HTTPClient, a.cfg.Session.Timeout)
	return func(context.Context) (extracthtml.Session, error) {
		return extracthtml.NewDocumentSession(loader), nil
	}
}

func (a *app) newPipeline() (*pipeline.Pipeline, error) {
	locs, err := a.locators()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithHTTPClient(a.deps.HTTPClient),
	}
	if locs != nil {
		opts = append(opts, pipeline.WithLocators(locs))
	}

	sc := a.cfg.Session
	return pipeline.New(pipeline.Config{
		ProfilePath:    a.cfg.ProfilePath,
		WebDriverURL:   sc.WebDriverURL,
		Headless:       sc.Headless,
		TargetBaseURL:  a.cfg.TargetBaseURL,
		APIBaseURL:     a.cfg.APIBaseURL,
		APIToken:       a.cfg.APIToken,
		RequestTimeout: sc.Timeout,
		SettleDelay:    a.cfg.SettleDelay,
		QueryTimeout:   a.cfg.QueryTimeout,
	}, a.sessionFactory(), nil, opts...)
}

// openStorage returns nil when persistence is disabled.
func (a *app) openStorage(ctx context.Context) (storage.Repository, error) {
	switch a.cfg.Storage.Kind {
	case "", "none":
		return nil, nil
	}
	repo, err := storage.Open(ctx, storage.Config{Kind: a.cfg.Storage.Kind, DSN: a.cfg.Storage.DSN})
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	a.logger.DebugContext(ctx, "storage ready", "kind", a.cfg.Storage.Kind)
	return repo, nil
}

// startMetrics installs the configured metrics backend. The returned stop
// func flushes and uninstalls it.
func (a *app) startMetrics(ctx context.Context) (stop func(), err error) {
	mc := a.cfg.Metrics
	tags := append(append([]string(nil), mc.Tags...), datadog.ParseTagsCSV(a.metricsTags)...)

	switch mc.Backend {
	case "datadog":
		// Datadog backend:
		//   - buffers metrics and submits periodically (flush_every)
		//   - submits one final time at shutdown (Close())
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    mc.Job,
			Tags:       tags,
			FlushEvery: mc.FlushEvery,
		})
		if err != nil {
			return nil, fmt.Errorf("metrics: init datadog backend: %w", err)
		}
		metrics.SetBackend(b)
		a.logger.InfoContext(ctx, "metrics enabled", "backend", mc.Backend, "job", mc.Job)
		return func() {
			if err := b.Close(); err != nil {
				a.logger.Warn("metrics: final datadog flush failed", "err", err)
			}
			metrics.SetBackend(nil)
		}, nil

	case "pushgateway":
		b, err := prompush.NewBackend(mc.Job, mc.PushgatewayURL)
		if err != nil {
			return nil, fmt.Errorf("metrics: init prom push backend: %w", err)
		}
		metrics.SetBackend(b)
		a.logger.InfoContext(ctx, "metrics enabled", "backend", mc.Backend, "url", mc.PushgatewayURL, "job", mc.Job)
		return func() {
			if err := metrics.Flush(); err != nil {
				a.logger.Warn("metrics: flush error", "err", err)
			}
			metrics.SetBackend(nil)
		}, nil
	}
	return func() {}, nil
}
