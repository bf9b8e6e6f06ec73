// Package browsertest provides an in-memory product page that implements
// browser.Driver, for exercising the session and scraper without a browser.
package browsertest

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"flavour-scraper/internal/browser"
	"flavour-scraper/internal/config"
)

// Amount is one size button and the price shown once it is clicked.
type Amount struct {
	Label string
	Price string
}

// Flavour is one option of the flavour select.
type Flavour struct {
	Name    string
	Value   string // empty renders an option without a value attribute
	Amounts []Amount
}

// Page is a fake product page. The exported fields configure it; they must not
// be changed once the page is in use.
type Page struct {
	// Locators tells the page which locator addresses which widget.
	Locators config.Locators
	Title    string
	Flavours []Flavour

	// LaunchErr and NavigateErr make Launcher and Navigate fail.
	LaunchErr   error
	NavigateErr error
	// Blocked locators never become clickable.
	Blocked map[browser.Locator]bool
	// StaleReads is how many reads after a mutation still show the old state,
	// imitating client-side re-rendering.
	StaleReads int
	// FlavourOrderAfterFirstSelect, when set, reorders the select's options
	// after the first selection (indexes into Flavours).
	FlavourOrderAfterFirstSelect []int

	mu           sync.Mutex
	launchOpts   browser.Options
	reordered    bool
	calls        []string
	closes       int
	prefsOpen    bool
	cookiesGone  bool
	marketingOff bool
	order        []int
	selFlavour   int
	selAmount    int
	shownFlavour int
	shownAmount  int
	stale        int
}

// NewPage returns a page addressed by the default configured locators.
func NewPage(title string, flavours ...Flavour) *Page {
	return &Page{
		Locators: config.DefaultConfig().Locators,
		Title:    title,
		Flavours: flavours,
	}
}

var _ browser.Driver = (*Page)(nil)

// Launcher returns a browser.Launcher that hands out this page.
func (p *Page) Launcher() browser.Launcher {
	return func(ctx context.Context, opts browser.Options) (browser.Driver, error) {
		p.record("launch headless=%t", opts.Headless)
		p.mu.Lock()
		p.launchOpts = opts
		p.mu.Unlock()
		if p.LaunchErr != nil {
			return nil, &browser.LaunchError{Backend: "fake", Err: p.LaunchErr}
		}
		return p, nil
	}
}

// Calls returns the operations performed on the page, in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// LaunchOptions returns the options passed to the last launch.
func (p *Page) LaunchOptions() browser.Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launchOpts
}

// Closes reports how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Page) record(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record("navigate %s", url)
	if p.NavigateErr != nil {
		return &browser.NavigationError{URL: url, Err: p.NavigateErr}
	}
	return nil
}

// flavourOrder returns the current option order of the select. Must be called
// with mu held.
func (p *Page) flavourOrder() []int {
	if p.order == nil {
		p.order = make([]int, len(p.Flavours))
		for i := range p.order {
			p.order[i] = i
		}
	}
	return p.order
}

func (p *Page) WaitClickable(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	p.record("wait %s", loc)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	clickable := p.clickable(loc)
	p.mu.Unlock()
	if !clickable {
		return errors.Wrapf(browser.ErrWaitTimeout, "%s after %s", loc, timeout)
	}
	return nil
}

// clickable must be called with mu held.
func (p *Page) clickable(loc browser.Locator) bool {
	if p.Blocked[loc] {
		return false
	}
	switch loc {
	case p.Locators.CookiePrefs:
		return !p.cookiesGone
	case p.Locators.CookieReject:
		return p.prefsOpen && !p.cookiesGone
	case p.Locators.MarketingClose:
		// The signup popup only shows once the cookie banner is gone.
		return p.cookiesGone && !p.marketingOff
	}
	_, ok := p.exists(loc)
	return ok
}

// exists reports whether loc resolves on the current page. For amount buttons
// it also returns the 0-based amount index. Must be called with mu held.
func (p *Page) exists(loc browser.Locator) (int, bool) {
	switch loc {
	case p.Locators.Title:
		return 0, p.Title != ""
	case p.Locators.FlavourSelect:
		return 0, len(p.Flavours) > 0
	case p.Locators.Price:
		return 0, len(p.Flavours) > 0
	case p.Locators.CookiePrefs:
		return 0, !p.cookiesGone
	case p.Locators.CookieReject:
		return 0, p.prefsOpen && !p.cookiesGone
	case p.Locators.MarketingClose:
		return 0, !p.marketingOff
	}
	if loc.By == browser.ByCSS && p.Locators.AmountButton != "" && len(p.Flavours) > 0 {
		var n int
		if _, err := fmt.Sscanf(loc.Value, p.Locators.AmountButton, &n); err == nil && fmt.Sprintf(p.Locators.AmountButton, n) == loc.Value {
			return n - 1, n >= 1 && n <= len(p.Flavours[p.selFlavour].Amounts)
		}
	}
	return 0, false
}

func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	p.record("click %s", loc)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.exists(loc)
	if !ok {
		return &browser.ElementNotFoundError{Locator: loc}
	}
	switch loc {
	case p.Locators.CookiePrefs:
		p.prefsOpen = true
	case p.Locators.CookieReject:
		p.cookiesGone = true
	case p.Locators.MarketingClose:
		p.marketingOff = true
	case p.Locators.Title, p.Locators.FlavourSelect, p.Locators.Price:
	default:
		p.selAmount = idx
		p.mutated()
	}
	return nil
}

// mutated starts a re-render. Must be called with mu held.
func (p *Page) mutated() {
	p.stale = p.StaleReads
	if p.stale == 0 {
		p.shownFlavour, p.shownAmount = p.selFlavour, p.selAmount
	}
}

// read advances a pending re-render by one read. Must be called with mu held.
func (p *Page) read() {
	if p.stale > 0 {
		p.stale--
		if p.stale == 0 {
			p.shownFlavour, p.shownAmount = p.selFlavour, p.selAmount
		}
	}
}

func (p *Page) Text(ctx context.Context, loc browser.Locator) (string, error) {
	p.record("text %s", loc)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.exists(loc); !ok {
		return "", &browser.ElementNotFoundError{Locator: loc}
	}
	switch loc {
	case p.Locators.Title:
		return p.Title, nil
	case p.Locators.Price:
		defer p.read()
		amounts := p.Flavours[p.shownFlavour].Amounts
		if p.shownAmount >= len(amounts) {
			return "", nil
		}
		return amounts[p.shownAmount].Price, nil
	}
	return "", nil
}

func (p *Page) Texts(ctx context.Context, loc browser.Locator) ([]string, error) {
	p.record("texts %s", loc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != p.Locators.AmountOption || len(p.Flavours) == 0 {
		return []string{}, nil
	}
	defer p.read()
	amounts := p.Flavours[p.shownFlavour].Amounts
	labels := make([]string, len(amounts))
	for i, a := range amounts {
		labels[i] = strings.TrimSpace(a.Label)
	}
	return labels, nil
}

func (p *Page) OuterHTML(ctx context.Context, loc browser.Locator) (string, error) {
	p.record("outer %s", loc)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != p.Locators.FlavourSelect || len(p.Flavours) == 0 {
		return "", &browser.ElementNotFoundError{Locator: loc}
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<select id=%q class="athenaProductVariations_dropdown">`, loc.Value)
	for _, i := range p.flavourOrder() {
		f := p.Flavours[i]
		if f.Value == "" {
			fmt.Fprintf(&b, "\n  <option>%s</option>", html.EscapeString(f.Name))
			continue
		}
		fmt.Fprintf(&b, "\n  <option value=\"%s\">\n    %s\n  </option>", html.EscapeString(f.Value), html.EscapeString(f.Name))
	}
	b.WriteString("\n</select>")
	return b.String(), nil
}

func (p *Page) SelectByValue(ctx context.Context, loc browser.Locator, value string) error {
	p.record("select-value %s %s", loc, value)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != p.Locators.FlavourSelect {
		return &browser.ElementNotFoundError{Locator: loc}
	}
	for i, f := range p.Flavours {
		if f.Value != "" && f.Value == value {
			p.selectFlavour(i)
			return nil
		}
	}
	return &browser.ElementNotFoundError{Locator: browser.CSS(fmt.Sprintf("%s option[value=%q]", loc.CSS(), value))}
}

func (p *Page) SelectByIndex(ctx context.Context, loc browser.Locator, index int) error {
	p.record("select-index %s %d", loc, index)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != p.Locators.FlavourSelect {
		return &browser.ElementNotFoundError{Locator: loc}
	}
	order := p.flavourOrder()
	if index < 0 || index >= len(order) {
		return &browser.ElementNotFoundError{Locator: browser.CSS(fmt.Sprintf("%s option:nth-of-type(%d)", loc.CSS(), index+1))}
	}
	p.selectFlavour(order[index])
	return nil
}

// selectFlavour must be called with mu held.
func (p *Page) selectFlavour(i int) {
	p.selFlavour = i
	p.selAmount = 0
	if !p.reordered && len(p.FlavourOrderAfterFirstSelect) > 0 {
		p.order = append([]int(nil), p.FlavourOrderAfterFirstSelect...)
		p.reordered = true
	}
	p.mutated()
}

func (p *Page) Close() error {
	p.record("close")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}
