package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"repscan/internal/sanitize"
)

// BatchSummary tallies one RunBatch call.
type BatchSummary struct {
	RunID string

	Total     int
	Succeeded int
	Invalid   int
	Failed    int

	// Degraded counts successes that lack the enrichment group.
	Degraded int

	// Err joins every session fault, plus the context error if the batch
	// was cut short.
	Err error
}

// RunBatch looks up each identifier in order, one at a time. Invalid
// identifiers are skipped; a session fault is logged and counted but does
// not stop the batch. fn receives every successful result, in input order.
//
// Cancelling ctx stops the batch before the next identifier; identifiers not
// attempted are not counted.
func (p *Pipeline) RunBatch(ctx context.Context, identifiers []string, fn func(Result)) BatchSummary {
	sum := BatchSummary{RunID: uuid.NewString()}
	log := p.logger.With("run_id", sum.RunID)
	var errs []error

	for _, raw := range identifiers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sum.Total++

		res, err := p.Lookup(ctx, raw)
		switch {
		case errors.Is(err, sanitize.ErrInvalidIdentifier):
			sum.Invalid++
			log.DebugContext(ctx, "skipping invalid identifier", "raw", raw)
			continue
		case err != nil:
			sum.Failed++
			errs = append(errs, err)
			log.ErrorContext(ctx, "lookup failed", "identifier", res.Identifier.String(), "err", err)
			continue
		}

		sum.Succeeded++
		if res.EnrichmentErr != nil {
			sum.Degraded++
		}
		res.RunID = sum.RunID
		if fn != nil {
			fn(res)
		}
	}

	sum.Err = errors.Join(errs...)
	log.InfoContext(ctx, "batch finished",
		"total", sum.Total,
		"succeeded", sum.Succeeded,
		"invalid", sum.Invalid,
		"failed", sum.Failed,
		"degraded", sum.Degraded,
	)
	return sum
}
