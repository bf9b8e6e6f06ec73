// Package browser is the boundary between the scraper and the browser
// automation backends. Everything outside this package talks to a page through
// the Driver interface and never imports chromedp or selenium directly.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// By is the strategy used to resolve a Locator.
type By int

const (
	ByID By = iota
	ByClassName
	ByCSS
)

func (b By) String() string {
	switch b {
	case ByID:
		return "id"
	case ByClassName:
		return "class-name"
	case ByCSS:
		return "css-selector"
	default:
		return fmt.Sprintf("By(%d)", int(b))
	}
}

// Locator identifies one or more elements on the page.
type Locator struct {
	By    By
	Value string
}

func ID(v string) Locator        { return Locator{By: ByID, Value: v} }
func ClassName(v string) Locator { return Locator{By: ByClassName, Value: v} }
func CSS(v string) Locator       { return Locator{By: ByCSS, Value: v} }

// CSS renders the locator as a CSS selector. Class names may hold several
// dot-separated classes ("box.default"), which select elements carrying all of them.
func (l Locator) CSS() string {
	switch l.By {
	case ByID:
		return "#" + l.Value
	case ByClassName:
		return "." + strings.TrimPrefix(l.Value, ".")
	default:
		return l.Value
	}
}

func (l Locator) String() string {
	return l.By.String() + "=" + l.Value
}

// Driver is the set of page operations the scraper needs. Element lookups are
// immediate: a locator that matches nothing fails with *ElementNotFoundError.
// Only WaitClickable polls.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// WaitClickable blocks until the first element matching loc is visible and
	// enabled. The returned error matches ErrWaitTimeout when timeout elapses.
	WaitClickable(ctx context.Context, loc Locator, timeout time.Duration) error
	Click(ctx context.Context, loc Locator) error
	Text(ctx context.Context, loc Locator) (string, error)
	// Texts returns the trimmed visible text of every element matching loc, in
	// document order. No match is an empty slice, not an error.
	Texts(ctx context.Context, loc Locator) ([]string, error)
	OuterHTML(ctx context.Context, loc Locator) (string, error)
	SelectByValue(ctx context.Context, loc Locator, value string) error
	SelectByIndex(ctx context.Context, loc Locator, index int) error
	Close() error
}

// Backend names accepted by Launch.
const (
	BackendChromedp = "chromedp"
	BackendSelenium = "selenium"
)

// Options configures a browser launch.
type Options struct {
	Backend     string
	Headless    bool
	BrowserPath string // empty uses the backend default
	DriverPath  string // chromedriver, selenium backend only
	// ActionTimeout bounds each single page operation and NavigateTimeout a
	// page load. Zero means no bound beyond the caller's context.
	ActionTimeout   time.Duration
	NavigateTimeout time.Duration
	Logger          *zap.Logger
}

// Launcher starts a browser and returns a driver bound to it.
type Launcher func(ctx context.Context, opts Options) (Driver, error)

// Launch starts the backend named by opts.Backend.
func Launch(ctx context.Context, opts Options) (Driver, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch opts.Backend {
	case "", BackendChromedp:
		c, err := NewChrome(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendSelenium:
		s, err := NewSelenium(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &LaunchError{Backend: opts.Backend, Err: fmt.Errorf("unknown backend %q", opts.Backend)}
	}
}

// ParseLocator reads the "strategy=value" form produced by Locator.String,
// e.g. "id=athena-product-variation-dropdown-5" or "css=select > option".
func ParseLocator(s string) (Locator, error) {
	strategy, value, ok := strings.Cut(s, "=")
	if !ok || value == "" {
		return Locator{}, fmt.Errorf("locator %q: want strategy=value", s)
	}
	switch strategy {
	case "id":
		return ID(value), nil
	case "class", "class-name":
		return ClassName(value), nil
	case "css", "css-selector":
		return CSS(value), nil
	default:
		return Locator{}, fmt.Errorf("locator %q: unknown strategy %q", s, strategy)
	}
}
