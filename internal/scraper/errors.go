package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"flavour-scraper/internal/browser"
	"flavour-scraper/internal/session"
)

// PriceParseError indicates the price display held no decimal amount, e.g.
// "Temporarily out of stock".
type PriceParseError struct {
	Text    string
	Flavour string
	Amount  string
	Err     error
}

func (e *PriceParseError) Error() string {
	msg := fmt.Sprintf("no price in %q", e.Text)
	if e.Flavour != "" || e.Amount != "" {
		msg = fmt.Sprintf("%s/%s: %s", e.Flavour, e.Amount, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PriceParseError) Unwrap() error {
	return e.Err
}

// SettleTimeoutError indicates the page kept re-rendering past the settle
// timeout after a selection.
type SettleTimeoutError struct {
	What    string
	Timeout time.Duration
	Last    string
}

func (e *SettleTimeoutError) Error() string {
	return fmt.Sprintf("%s did not settle within %s (last %q)", e.What, e.Timeout, e.Last)
}

// ErrorType classifies err into a stable label for metrics and logs.
func ErrorType(err error) string {
	if err == nil {
		return "none"
	}

	var launch *browser.LaunchError
	if errors.As(err, &launch) {
		return "launch"
	}
	var nav *browser.NavigationError
	if errors.As(err, &nav) {
		return "navigation"
	}
	var overlay *session.OverlayTimeoutError
	if errors.As(err, &overlay) {
		return "overlay_timeout"
	}
	var notFound *browser.ElementNotFoundError
	if errors.As(err, &notFound) {
		return "element_not_found"
	}
	var price *PriceParseError
	if errors.As(err, &price) {
		return "price_parse"
	}
	var settle *SettleTimeoutError
	if errors.As(err, &settle) {
		return "settle_timeout"
	}
	if errors.Is(err, browser.ErrWaitTimeout) {
		return "wait_timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}
