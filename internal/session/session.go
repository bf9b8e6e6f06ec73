// Package session owns the lifetime of one browser session bound to one
// product page: launch, navigate, clear the overlays that block the page, and
// tear everything down again.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"flavour-scraper/internal/browser"
	"flavour-scraper/internal/config"
)

// Overlay names used in OverlayTimeoutError.
const (
	OverlayCookies   = "cookie consent"
	OverlayMarketing = "marketing popup"
)

// OverlayTimeoutError indicates an overlay control never became clickable.
type OverlayTimeoutError struct {
	Overlay string
	Control browser.Locator
	Err     error
}

func (e *OverlayTimeoutError) Error() string {
	return fmt.Sprintf("dismiss %s: %s not clickable: %v", e.Overlay, e.Control, e.Err)
}

func (e *OverlayTimeoutError) Unwrap() error {
	return e.Err
}

// Session is a ready-to-scrape page with its overlays dismissed.
type Session struct {
	driver browser.Driver
	url    string
	cfg    *config.Config
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open launches a browser, loads url and dismisses the cookie banner and the
// marketing popup, in that order. If any step after launch fails the browser
// is closed before Open returns.
func Open(ctx context.Context, launch browser.Launcher, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "session"))

	drv, err := launch(ctx, browser.Options{
		Backend:     cfg.Backend,
		Headless:    cfg.Headless,
		BrowserPath: cfg.BrowserPath,
		DriverPath:  cfg.DriverPath,

		ActionTimeout:   cfg.ActionTimeout,
		NavigateTimeout: cfg.NavigateTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{driver: drv, url: cfg.URL, cfg: cfg, logger: logger}
	if err := s.prepare(ctx); err != nil {
		if closeErr := s.Close(); closeErr != nil {
			logger.Warn("close after failed open", zap.Error(closeErr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Session) prepare(ctx context.Context) error {
	s.logger.Info("navigating", zap.String("url", s.url))
	if err := s.driver.Navigate(ctx, s.url); err != nil {
		return err
	}
	if err := s.rejectCookies(ctx); err != nil {
		return err
	}
	return s.closeMarketingPopup(ctx)
}

func (s *Session) rejectCookies(ctx context.Context) error {
	l := s.cfg.Locators
	if err := s.clickWhenReady(ctx, OverlayCookies, l.CookiePrefs); err != nil {
		return err
	}
	if err := s.clickWhenReady(ctx, OverlayCookies, l.CookieReject); err != nil {
		return err
	}
	s.logger.Info("rejected all cookies")
	return nil
}

func (s *Session) closeMarketingPopup(ctx context.Context) error {
	if err := s.clickWhenReady(ctx, OverlayMarketing, s.cfg.Locators.MarketingClose); err != nil {
		return err
	}
	s.logger.Info("closed email signup popup")
	return nil
}

func (s *Session) clickWhenReady(ctx context.Context, overlay string, loc browser.Locator) error {
	s.logger.Debug("waiting for overlay control", zap.String("overlay", overlay), zap.Stringer("locator", loc))
	if err := s.driver.WaitClickable(ctx, loc, s.cfg.WaitTimeout); err != nil {
		if errors.Is(err, browser.ErrWaitTimeout) {
			return &OverlayTimeoutError{Overlay: overlay, Control: loc, Err: err}
		}
		return err
	}
	return s.driver.Click(ctx, loc)
}

// Driver returns the page driver. It must not be used after Close.
func (s *Session) Driver() browser.Driver {
	return s.driver
}

func (s *Session) URL() string {
	return s.url
}

// Close releases the browser. Only the first call reaches the driver.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("closing session")
		s.closeErr = s.driver.Close()
	})
	return s.closeErr
}

// With opens a session, runs fn on it and closes it on every exit path. An
// error from fn takes precedence over an error from Close.
func With(ctx context.Context, launch browser.Launcher, cfg *config.Config, logger *zap.Logger, fn func(*Session) error) (err error) {
	s, err := Open(ctx, launch, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			if err == nil {
				err = errors.Wrap(closeErr, "close session")
			} else {
				s.logger.Warn("close after failed scrape", zap.Error(closeErr))
			}
		}
	}()

	return fn(s)
}
