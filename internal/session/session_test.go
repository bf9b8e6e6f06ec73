package session

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flavour-scraper/internal/browser"
	"flavour-scraper/internal/browser/browsertest"
	"flavour-scraper/internal/config"
)

func newPage() *browsertest.Page {
	return browsertest.NewPage("Impact Whey Protein", browsertest.Flavour{
		Name:    "Vanilla",
		Value:   "vanilla",
		Amounts: []browsertest.Amount{{Label: "250g", Price: "£8.99"}},
	})
}

func TestOpenDismissesOverlaysInOrder(t *testing.T) {
	page := newPage()
	cfg := config.DefaultConfig()

	s, err := Open(context.Background(), page.Launcher(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.URL, s.URL())
	assert.Same(t, page, s.Driver())

	l := cfg.Locators
	assert.Equal(t, []string{
		"launch headless=false",
		"navigate " + cfg.URL,
		"wait " + l.CookiePrefs.String(),
		"click " + l.CookiePrefs.String(),
		"wait " + l.CookieReject.String(),
		"click " + l.CookieReject.String(),
		"wait " + l.MarketingClose.String(),
		"click " + l.MarketingClose.String(),
	}, page.Calls())
	assert.Zero(t, page.Closes())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, page.Closes())
}

func TestOpenPassesTimeoutsToLauncher(t *testing.T) {
	page := newPage()
	cfg := config.DefaultConfig()
	cfg.ActionTimeout = 5 * time.Second
	cfg.NavigateTimeout = 45 * time.Second
	cfg.Backend = browser.BackendSelenium

	s, err := Open(context.Background(), page.Launcher(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	opts := page.LaunchOptions()
	assert.Equal(t, browser.BackendSelenium, opts.Backend)
	assert.Equal(t, 5*time.Second, opts.ActionTimeout)
	assert.Equal(t, 45*time.Second, opts.NavigateTimeout)
}

func TestOpenLaunchFailure(t *testing.T) {
	page := newPage()
	page.LaunchErr = errors.New("chromedriver not found")

	_, err := Open(context.Background(), page.Launcher(), config.DefaultConfig(), nil)

	var launchErr *browser.LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Zero(t, page.Closes(), "nothing was launched, nothing to close")
}

func TestOpenFailuresCloseOnce(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		name    string
		setup   func(*browsertest.Page)
		check   func(*testing.T, error)
		notSeen string
	}{
		{
			name:  "navigation",
			setup: func(p *browsertest.Page) { p.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED") },
			check: func(t *testing.T, err error) {
				var navErr *browser.NavigationError
				assert.True(t, errors.As(err, &navErr))
			},
			notSeen: "wait " + cfg.Locators.CookiePrefs.String(),
		},
		{
			name: "cookie reject never clickable",
			setup: func(p *browsertest.Page) {
				p.Blocked = map[browser.Locator]bool{cfg.Locators.CookieReject: true}
			},
			check: func(t *testing.T, err error) {
				var overlayErr *OverlayTimeoutError
				require.True(t, errors.As(err, &overlayErr))
				assert.Equal(t, OverlayCookies, overlayErr.Overlay)
				assert.Equal(t, cfg.Locators.CookieReject, overlayErr.Control)
				assert.ErrorIs(t, err, browser.ErrWaitTimeout)
			},
			notSeen: "wait " + cfg.Locators.MarketingClose.String(),
		},
		{
			name: "marketing popup never clickable",
			setup: func(p *browsertest.Page) {
				p.Blocked = map[browser.Locator]bool{cfg.Locators.MarketingClose: true}
			},
			check: func(t *testing.T, err error) {
				var overlayErr *OverlayTimeoutError
				require.True(t, errors.As(err, &overlayErr))
				assert.Equal(t, OverlayMarketing, overlayErr.Overlay)
			},
			notSeen: "click " + cfg.Locators.MarketingClose.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newPage()
			tt.setup(page)

			s, err := Open(context.Background(), page.Launcher(), cfg, nil)
			require.Error(t, err)
			assert.Nil(t, s)
			tt.check(t, err)
			assert.Equal(t, 1, page.Closes())
			assert.NotContains(t, page.Calls(), tt.notSeen)
		})
	}
}

func TestMarketingPopupWaitsForCookieBanner(t *testing.T) {
	cfg := config.DefaultConfig()
	page := newPage()
	page.Blocked = map[browser.Locator]bool{cfg.Locators.CookiePrefs: true}

	_, err := Open(context.Background(), page.Launcher(), cfg, nil)
	require.Error(t, err)

	for _, call := range page.Calls() {
		assert.NotContains(t, call, cfg.Locators.MarketingClose.Value)
	}
}

func TestWithClosesOnEveryPath(t *testing.T) {
	boom := errors.New("extraction failed")

	tests := []struct {
		name    string
		fn      func(*Session) error
		wantErr error
	}{
		{name: "success", fn: func(*Session) error { return nil }},
		{name: "failure", fn: func(*Session) error { return boom }, wantErr: boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newPage()
			called := false

			err := With(context.Background(), page.Launcher(), config.DefaultConfig(), nil, func(s *Session) error {
				called = true
				assert.Zero(t, page.Closes(), "session must be open inside fn")
				return tt.fn(s)
			})

			assert.True(t, called)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, page.Closes())
		})
	}
}

func TestWithClosesOnPanic(t *testing.T) {
	page := newPage()

	assert.Panics(t, func() {
		_ = With(context.Background(), page.Launcher(), config.DefaultConfig(), nil, func(*Session) error {
			panic("unexpected page state")
		})
	})
	assert.Equal(t, 1, page.Closes())
}

func TestWithSkipsFnWhenOpenFails(t *testing.T) {
	page := newPage()
	page.NavigateErr = errors.New("timeout")

	err := With(context.Background(), page.Launcher(), config.DefaultConfig(), nil, func(*Session) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, page.Closes())
}
