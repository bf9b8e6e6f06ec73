package browser

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultChromeDriverPath = "/usr/local/bin/chromedriver"
	pollInterval            = 100 * time.Millisecond
)

// Selenium drives a browser through a chromedriver process speaking WebDriver.
type Selenium struct {
	service   *selenium.Service
	wd        selenium.WebDriver
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

var _ Driver = (*Selenium)(nil)

// NewSelenium starts chromedriver on a free local port and opens a session.
func NewSelenium(ctx context.Context, opts Options) (*Selenium, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "selenium"))

	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Backend: BackendSelenium, Err: err}
	}

	driverPath := opts.DriverPath
	if driverPath == "" {
		driverPath = defaultChromeDriverPath
	}

	port, err := freePort()
	if err != nil {
		return nil, &LaunchError{Backend: BackendSelenium, Err: err}
	}

	logger.Info("starting chromedriver", zap.String("driver_path", driverPath), zap.Int("port", port))
	service, err := selenium.NewChromeDriverService(driverPath, port)
	if err != nil {
		return nil, &LaunchError{Backend: BackendSelenium, Err: errors.Wrap(err, "start chromedriver")}
	}

	args := []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-extensions",
		"--window-size=1920,1080",
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}

	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{
		Path:            opts.BrowserPath,
		Args:            args,
		ExcludeSwitches: []string{"enable-automation"},
	})

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d/wd/hub", port))
	if err != nil {
		_ = service.Stop()
		return nil, &LaunchError{Backend: BackendSelenium, Err: errors.Wrap(err, "create webdriver session")}
	}

	if opts.NavigateTimeout > 0 {
		if err := wd.SetPageLoadTimeout(opts.NavigateTimeout); err != nil {
			_ = closeAll(wd.Quit, service.Stop)
			return nil, &LaunchError{Backend: BackendSelenium, Err: errors.Wrap(err, "set page load timeout")}
		}
	}
	if opts.ActionTimeout > 0 {
		if err := wd.SetAsyncScriptTimeout(opts.ActionTimeout); err != nil {
			_ = closeAll(wd.Quit, service.Stop)
			return nil, &LaunchError{Backend: BackendSelenium, Err: errors.Wrap(err, "set script timeout")}
		}
	}

	return &Selenium{service: service, wd: wd, logger: logger}, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, errors.Wrap(err, "reserve port")
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func seleniumBy(loc Locator) (string, string) {
	switch loc.By {
	case ByID:
		return selenium.ByID, loc.Value
	case ByClassName:
		// WebDriver rejects compound class names, CSS does not.
		if strings.Contains(loc.Value, ".") {
			return selenium.ByCSSSelector, loc.CSS()
		}
		return selenium.ByClassName, loc.Value
	default:
		return selenium.ByCSSSelector, loc.Value
	}
}

func (s *Selenium) first(ctx context.Context, loc Locator) (selenium.WebElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	by, value := seleniumBy(loc)
	elems, err := s.wd.FindElements(by, value)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", loc)
	}
	if len(elems) == 0 {
		return nil, &ElementNotFoundError{Locator: loc}
	}
	return elems[0], nil
}

func (s *Selenium) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	s.logger.Debug("navigating", zap.String("url", url))
	if err := s.wd.Get(url); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

func (s *Selenium) WaitClickable(ctx context.Context, loc Locator, timeout time.Duration) error {
	by, value := seleniumBy(loc)
	clickable := func(wd selenium.WebDriver) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		elems, err := wd.FindElements(by, value)
		if err != nil || len(elems) == 0 {
			return false, nil
		}
		displayed, err := elems[0].IsDisplayed()
		if err != nil || !displayed {
			return false, nil
		}
		enabled, err := elems[0].IsEnabled()
		return err == nil && enabled, nil
	}

	if err := s.wd.WaitWithTimeoutAndInterval(clickable, timeout, pollInterval); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return waitTimeout(loc, err)
	}
	return nil
}

func (s *Selenium) Click(ctx context.Context, loc Locator) error {
	elem, err := s.first(ctx, loc)
	if err != nil {
		return err
	}
	if err := elem.Click(); err != nil {
		return errors.Wrapf(err, "click %s", loc)
	}
	return nil
}

func (s *Selenium) Text(ctx context.Context, loc Locator) (string, error) {
	elem, err := s.first(ctx, loc)
	if err != nil {
		return "", err
	}
	text, err := elem.Text()
	if err != nil {
		return "", errors.Wrapf(err, "read text of %s", loc)
	}
	return text, nil
}

func (s *Selenium) Texts(ctx context.Context, loc Locator) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	by, value := seleniumBy(loc)
	elems, err := s.wd.FindElements(by, value)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", loc)
	}
	texts := make([]string, 0, len(elems))
	for _, elem := range elems {
		text, err := elem.Text()
		if err != nil {
			return nil, errors.Wrapf(err, "read text of %s", loc)
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return texts, nil
}

func (s *Selenium) OuterHTML(ctx context.Context, loc Locator) (string, error) {
	elem, err := s.first(ctx, loc)
	if err != nil {
		return "", err
	}
	html, err := elem.GetAttribute("outerHTML")
	if err != nil {
		return "", errors.Wrapf(err, "read outer html of %s", loc)
	}
	return html, nil
}

func (s *Selenium) options(ctx context.Context, loc Locator) ([]selenium.WebElement, error) {
	elem, err := s.first(ctx, loc)
	if err != nil {
		return nil, err
	}
	opts, err := elem.FindElements(selenium.ByTagName, "option")
	if err != nil {
		return nil, errors.Wrapf(err, "list options of %s", loc)
	}
	return opts, nil
}

func (s *Selenium) SelectByValue(ctx context.Context, loc Locator, value string) error {
	opts, err := s.options(ctx, loc)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		v, err := opt.GetAttribute("value")
		if err != nil {
			return errors.Wrapf(err, "read option value of %s", loc)
		}
		if v != value {
			continue
		}
		if err := opt.Click(); err != nil {
			return errors.Wrapf(err, "select %q in %s", value, loc)
		}
		return nil
	}
	return &ElementNotFoundError{Locator: CSS(fmt.Sprintf("%s option[value=%q]", loc.CSS(), value))}
}

func (s *Selenium) SelectByIndex(ctx context.Context, loc Locator, index int) error {
	opts, err := s.options(ctx, loc)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(opts) {
		return &ElementNotFoundError{Locator: CSS(fmt.Sprintf("%s option:nth-of-type(%d)", loc.CSS(), index+1))}
	}
	if err := opts[index].Click(); err != nil {
		return errors.Wrapf(err, "select option %d in %s", index, loc)
	}
	return nil
}

// Close ends the WebDriver session and stops chromedriver. It is safe to call
// more than once.
func (s *Selenium) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("closing webdriver session")
		s.closeErr = closeAll(s.wd.Quit, s.service.Stop)
	})
	return s.closeErr
}

// closeAll quits the session and stops the driver process, attempting both
// and combining their errors.
func closeAll(quit, stop func() error) error {
	var err error
	if quitErr := quit(); quitErr != nil {
		err = multierr.Append(err, errors.Wrap(quitErr, "quit session"))
	}
	if stopErr := stop(); stopErr != nil {
		err = multierr.Append(err, errors.Wrap(stopErr, "stop chromedriver"))
	}
	return err
}
