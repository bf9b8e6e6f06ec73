package scraper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flavour-scraper/internal/browser"
)

// sequence returns a probe yielding values in turn, repeating the last one.
func sequence(values ...string) func(context.Context) (string, error) {
	i := 0
	return func(context.Context) (string, error) {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v, nil
	}
}

func TestSettlerReturnsOnceChangeIsStable(t *testing.T) {
	w := Settler{Interval: time.Millisecond, Quiet: time.Minute, Timeout: 2 * time.Minute}

	start := time.Now()
	err := w.Wait(context.Background(), "price", "£9.99", sequence("£9.99", "£9.99", "£24.99", "£24.99"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Minute, "should not wait for the quiet period")
}

func TestSettlerAcceptsUnchangedAfterQuiet(t *testing.T) {
	w := Settler{Interval: time.Millisecond, Quiet: 20 * time.Millisecond, Timeout: time.Minute}

	start := time.Now()
	err := w.Wait(context.Background(), "price", "£9.99", sequence("£9.99"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSettlerTimesOutWhileChanging(t *testing.T) {
	w := Settler{Interval: time.Millisecond, Quiet: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}

	n := 0
	probe := func(context.Context) (string, error) {
		n++
		return fmt.Sprintf("frame %d", n), nil
	}

	err := w.Wait(context.Background(), "amounts of Vanilla", "frame 0", probe)

	var settleErr *SettleTimeoutError
	require.True(t, errors.As(err, &settleErr))
	assert.Equal(t, "amounts of Vanilla", settleErr.What)
	assert.Equal(t, 30*time.Millisecond, settleErr.Timeout)
}

func TestSettlerProbeError(t *testing.T) {
	w := Settler{Interval: time.Millisecond, Quiet: time.Second, Timeout: 2 * time.Second}
	boom := errors.New("node detached")

	err := w.Wait(context.Background(), "price", "", func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSettlerWaitsOutDetachedElement(t *testing.T) {
	w := Settler{Interval: time.Millisecond, Quiet: time.Minute, Timeout: 2 * time.Minute}
	price := browser.ClassName("productPrice_price")

	reads := []string{"", "", "£24.99", "£24.99"}
	n := 0
	probe := func(context.Context) (string, error) {
		defer func() { n++ }()
		if n < 2 {
			return "", &browser.ElementNotFoundError{Locator: price}
		}
		return reads[n], nil
	}

	err := w.Wait(context.Background(), "price", "£9.99", probe)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSettlerTimesOutOnMissingElement(t *testing.T) {
	w := Settler{Interval: time.Millisecond, Quiet: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}

	err := w.Wait(context.Background(), "price", "£9.99", func(context.Context) (string, error) {
		return "", &browser.ElementNotFoundError{Locator: browser.ClassName("productPrice_price")}
	})

	var settleErr *SettleTimeoutError
	require.True(t, errors.As(err, &settleErr))
	assert.Equal(t, "£9.99", settleErr.Last)
}

func TestSettlerContextCanceled(t *testing.T) {
	w := Settler{Interval: time.Hour, Quiet: 2 * time.Hour, Timeout: 3 * time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Wait(ctx, "price", "", sequence("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
