package scraper

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"flavour-scraper/internal/browser"
)

// Settler waits for the page to finish re-rendering after a selection by
// polling a probe of the region that should change.
//
// Wait returns once the probe differs from its pre-mutation value and reads the
// same on two consecutive polls. A probe that never changes is accepted after
// Quiet, since a new selection can legitimately render identical text (two
// sizes at the same price). A probe whose element is briefly missing
// (*browser.ElementNotFoundError) is polled again. A probe still changing, or
// still missing, at Timeout fails with *SettleTimeoutError.
type Settler struct {
	Interval time.Duration
	Quiet    time.Duration
	Timeout  time.Duration
}

func (w Settler) Wait(ctx context.Context, what, before string, probe func(context.Context) (string, error)) error {
	start := time.Now()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	last, changed := before, false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		current, err := probe(ctx)
		var notFound *browser.ElementNotFoundError
		switch {
		case errors.As(err, &notFound):
			// Detached mid re-render; keep polling.
			if elapsed >= w.Timeout {
				return &SettleTimeoutError{What: what, Timeout: w.Timeout, Last: last}
			}
			continue
		case err != nil:
			return err
		}

		switch {
		case current != last:
			last, changed = current, current != before
		case changed:
			return nil
		case elapsed >= w.Quiet:
			return nil
		}

		if elapsed >= w.Timeout {
			return &SettleTimeoutError{What: what, Timeout: w.Timeout, Last: last}
		}
	}
}
