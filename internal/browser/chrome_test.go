package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunErrorReportsCallerDeadline(t *testing.T) {
	browserCtx, cancelBrowser := context.WithCancel(context.Background())
	defer cancelBrowser()

	// Both the linked cancel and the copied deadline fire together; whichever
	// wins, the caller's deadline must be reported.
	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		runCtx, cancelRun := runContext(browserCtx, ctx)
		<-runCtx.Done()

		err := runError(ctx, runCtx.Err())
		cancelRun()
		cancel()

		require.ErrorIs(t, err, context.DeadlineExceeded, "iteration %d", i)
	}
}

func TestRunErrorReportsCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runCtx, cancelRun := runContext(context.Background(), ctx)
	defer cancelRun()

	cancel()
	<-runCtx.Done()
	assert.ErrorIs(t, runError(ctx, runCtx.Err()), context.Canceled)
}

func TestRunErrorKeepsOtherErrors(t *testing.T) {
	boom := assert.AnError
	assert.NoError(t, runError(context.Background(), nil))
	assert.Equal(t, boom, runError(context.Background(), boom))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, boom, runError(ctx, boom), "a real failure wins over a late cancel")
}

func TestRunContextEndsWithBrowser(t *testing.T) {
	browserCtx, cancelBrowser := context.WithCancel(context.Background())
	runCtx, cancelRun := runContext(browserCtx, context.Background())
	defer cancelRun()

	cancelBrowser()
	<-runCtx.Done()
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)
}

func TestWaitErrorClassification(t *testing.T) {
	loc := ID("onetrust-pc-btn-handler")

	expired := func(parent context.Context) context.Context {
		waitCtx, cancel := context.WithTimeout(parent, time.Nanosecond)
		t.Cleanup(cancel)
		<-waitCtx.Done()
		return waitCtx
	}

	t.Run("wait budget expired", func(t *testing.T) {
		ctx := context.Background()
		waitCtx := expired(ctx)

		// chromedp reports the linked cancel, not the deadline.
		err := waitError(ctx, waitCtx, loc, context.Canceled)
		assert.ErrorIs(t, err, ErrWaitTimeout)
		assert.Contains(t, err.Error(), loc.String())
	})

	t.Run("caller deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()
		waitCtx := expired(ctx)

		err := waitError(ctx, waitCtx, loc, runError(ctx, context.Canceled))
		assert.NotErrorIs(t, err, ErrWaitTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		waitCtx, cancelWait := context.WithTimeout(ctx, time.Minute)
		defer cancelWait()

		err := waitError(ctx, waitCtx, loc, runError(ctx, context.Canceled))
		assert.NotErrorIs(t, err, ErrWaitTimeout)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("browser failure", func(t *testing.T) {
		ctx := context.Background()
		waitCtx, cancelWait := context.WithTimeout(ctx, time.Minute)
		defer cancelWait()

		err := waitError(ctx, waitCtx, loc, assert.AnError)
		assert.NotErrorIs(t, err, ErrWaitTimeout)
		assert.ErrorIs(t, err, assert.AnError)
	})
}
