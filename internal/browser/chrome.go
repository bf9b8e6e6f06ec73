package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Chrome drives a local Chrome/Chromium (or Brave) through the DevTools protocol.
type Chrome struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          *zap.Logger
	actionTimeout   time.Duration
	navigateTimeout time.Duration
	closeOnce sync.Once
	closeErr  error
}

var _ Driver = (*Chrome)(nil)

// NewChrome launches a browser process. The browser lives until Close is called
// or ctx is done.
func NewChrome(ctx context.Context, opts Options) (*Chrome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "chrome"))

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		// Disable updates and popups
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-component-update", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),

		// Basic settings
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.Flag("start-maximized", true),

		// Stability flags
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("no-sandbox", true),
	)
	if opts.BrowserPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.BrowserPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)

	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	c := &Chrome{
		ctx:             browserCtx,
		logger:          logger,
		actionTimeout:   opts.ActionTimeout,
		navigateTimeout: opts.NavigateTimeout,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	// Run with no actions starts the browser and opens the first tab.
	logger.Info("starting browser", zap.Bool("headless", opts.Headless), zap.String("exec_path", opts.BrowserPath))
	if err := chromedp.Run(browserCtx); err != nil {
		c.cancel()
		return nil, &LaunchError{Backend: BackendChromedp, Err: err}
	}

	return c, nil
}

// run executes actions on the browser tab, bounded by the action timeout.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	return c.runWithTimeout(ctx, c.actionTimeout, actions...)
}

// runWithTimeout executes actions bounded by timeout (zero means none), by ctx
// and by the browser lifetime.
func (c *Chrome) runWithTimeout(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runCtx, cancel := runContext(c.ctx, ctx)
	defer cancel()
	return runError(ctx, chromedp.Run(runCtx, actions...))
}

// runContext derives a context for one chromedp call on the tab held by
// browserCtx that also ends when ctx does.
func runContext(browserCtx, ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(browserCtx)
	stop := context.AfterFunc(ctx, cancel)

	cancelDeadline := context.CancelFunc(func() {})
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
	}

	return runCtx, func() {
		cancelDeadline()
		stop()
		cancel()
	}
}

// runError reports why a chromedp call ended early. chromedp returns the run
// context's error, which reads Canceled whenever ctx ended, so ctx's own error
// is returned instead.
func runError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctxErr
	}
	return err
}

// first resolves loc to its first matching node without waiting.
func (c *Chrome) first(ctx context.Context, loc Locator) (*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := c.run(ctx, chromedp.Nodes(loc.CSS(), &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return nil, errors.Wrapf(err, "query %s", loc)
	}
	if len(nodes) == 0 {
		return nil, &ElementNotFoundError{Locator: loc}
	}
	return nodes[0], nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("navigating", zap.String("url", url))
	if err := c.runWithTimeout(ctx, c.navigateTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

func (c *Chrome) WaitClickable(ctx context.Context, loc Locator, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sel := loc.CSS()
	err := c.runWithTimeout(waitCtx, 0,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.WaitEnabled(sel, chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	return waitError(ctx, waitCtx, loc, err)
}

// waitError classifies a failed wait from the contexts themselves: only the
// expiry of waitCtx while ctx is still live is a wait timeout.
func waitError(ctx, waitCtx context.Context, loc Locator, err error) error {
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return waitTimeout(loc, nil)
	}
	return errors.Wrapf(err, "wait for %s", loc)
}

func (c *Chrome) Click(ctx context.Context, loc Locator) error {
	node, err := c.first(ctx, loc)
	if err != nil {
		return err
	}
	if err := c.run(ctx, chromedp.MouseClickNode(node)); err != nil {
		return errors.Wrapf(err, "click %s", loc)
	}
	return nil
}

func (c *Chrome) Text(ctx context.Context, loc Locator) (string, error) {
	node, err := c.first(ctx, loc)
	if err != nil {
		return "", err
	}
	var text string
	if err := c.run(ctx, chromedp.Text([]cdp.NodeID{node.NodeID}, &text, chromedp.ByNodeID)); err != nil {
		return "", errors.Wrapf(err, "read text of %s", loc)
	}
	return text, nil
}

func (c *Chrome) Texts(ctx context.Context, loc Locator) ([]string, error) {
	sel, err := json.Marshal(loc.CSS())
	if err != nil {
		return nil, errors.Wrap(err, "encode selector")
	}

	var texts []string
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(`
		Array.from(document.querySelectorAll(%s))
			.map(el => el.innerText.trim())
	`, sel), &texts)); err != nil {
		return nil, errors.Wrapf(err, "read texts of %s", loc)
	}
	return texts, nil
}

func (c *Chrome) OuterHTML(ctx context.Context, loc Locator) (string, error) {
	node, err := c.first(ctx, loc)
	if err != nil {
		return "", err
	}
	var html string
	if err := c.run(ctx, chromedp.OuterHTML([]cdp.NodeID{node.NodeID}, &html, chromedp.ByNodeID)); err != nil {
		return "", errors.Wrapf(err, "read outer html of %s", loc)
	}
	return html, nil
}

// selectScript sets the select's value from the option picked by pick and
// fires a bubbling change event so client-side handlers re-render.
const selectScript = `
	(() => {
		const el = document.querySelector(%s);
		if (!el || !el.options) return "no-select";
		const opt = (%s)(Array.from(el.options));
		if (!opt) return "no-option";
		el.value = opt.value;
		opt.selected = true;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
		return "ok";
	})()
`

func (c *Chrome) selectOption(ctx context.Context, loc Locator, pick string, optionLoc Locator) error {
	sel, err := json.Marshal(loc.CSS())
	if err != nil {
		return errors.Wrap(err, "encode selector")
	}

	var status string
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(selectScript, sel, pick), &status)); err != nil {
		return errors.Wrapf(err, "select option in %s", loc)
	}
	switch status {
	case "ok":
		return nil
	case "no-select":
		return &ElementNotFoundError{Locator: loc}
	default:
		return &ElementNotFoundError{Locator: optionLoc}
	}
}

func (c *Chrome) SelectByValue(ctx context.Context, loc Locator, value string) error {
	v, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "encode value")
	}
	pick := fmt.Sprintf("opts => opts.find(o => o.value === %s)", v)
	return c.selectOption(ctx, loc, pick, CSS(fmt.Sprintf("%s option[value=%s]", loc.CSS(), v)))
}

func (c *Chrome) SelectByIndex(ctx context.Context, loc Locator, index int) error {
	pick := fmt.Sprintf("opts => opts[%d]", index)
	return c.selectOption(ctx, loc, pick, CSS(fmt.Sprintf("%s option:nth-of-type(%d)", loc.CSS(), index+1)))
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Info("canceling browser contexts")
		c.closeErr = chromedp.Cancel(c.ctx)
		c.cancel()
	})
	return c.closeErr
}
