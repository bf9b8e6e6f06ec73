package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"flavour-scraper/internal/browser"
)

const DefaultURL = "https://www.myprotein.com/sports-nutrition/impact-whey-protein"

// Locators addresses the widgets of the product page. AmountButton is a CSS
// format string taking the 1-based position of an amount in its list.
type Locators struct {
	Title          browser.Locator
	FlavourSelect  browser.Locator
	AmountOption   browser.Locator
	AmountButton   string
	Price          browser.Locator
	CookiePrefs    browser.Locator
	CookieReject   browser.Locator
	MarketingClose browser.Locator
}

type Config struct {
	URL         string
	Headless    bool
	Debug       bool
	Backend     string
	BrowserPath string
	DriverPath  string

	GlobalTimeout   time.Duration // Overall timeout
	ActionTimeout   time.Duration // Timeout for individual actions
	NavigateTimeout time.Duration // Timeout for the page load
	WaitTimeout     time.Duration // Wait for a control to become clickable

	// Condition wait after a flavour or amount change
	SettleInterval time.Duration
	SettleQuiet    time.Duration
	SettleTimeout  time.Duration

	AllowMissingPrice bool
	MetricsFile       string

	Locators Locators
}

// DefaultConfig returns settings for the live product page.
func DefaultConfig() *Config {
	return &Config{
		URL:            DefaultURL,
		Headless:       false,
		Backend:        browser.BackendChromedp,
		GlobalTimeout:   10 * time.Minute,
		ActionTimeout:   30 * time.Second,
		NavigateTimeout: 30 * time.Second,
		WaitTimeout:     10 * time.Second,
		SettleInterval:  100 * time.Millisecond,
		SettleQuiet:     time.Second,
		SettleTimeout:   10 * time.Second,
		Locators: Locators{
			Title:          browser.ClassName("productName_title"),
			FlavourSelect:  browser.ID("athena-product-variation-dropdown-5"),
			AmountOption:   browser.ClassName("athenaProductVariations_box.default.athenaProductVariationsOption"),
			AmountButton:   ".athenaProductVariations_list li:nth-of-type(%d) button",
			Price:          browser.ClassName("productPrice_price"),
			CookiePrefs:    browser.ID("onetrust-pc-btn-handler"),
			CookieReject:   browser.ClassName("ot-pc-refuse-all-handler"),
			MarketingClose: browser.ClassName("emailReengagement_close_button"),
		},
	}
}

// Load reads .env files (missing files are ignored) and then parses args.
func Load(args []string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse(args)
}

// Parse builds a Config from defaults, SCRAPER_* environment variables and
// command line flags, in increasing order of precedence.
func Parse(args []string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	flags := flag.NewFlagSet("flavour-scraper", flag.ContinueOnError)

	flags.StringVar(&cfg.URL, "url", cfg.URL, "Product page URL to scrape")
	flags.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run in headless mode")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flags.StringVar(&cfg.Backend, "driver", cfg.Backend, "Automation backend: chromedp or selenium")
	flags.StringVar(&cfg.BrowserPath, "browser-path", cfg.BrowserPath, "Browser binary (empty for the system default)")
	flags.StringVar(&cfg.DriverPath, "chromedriver-path", cfg.DriverPath, "chromedriver binary (selenium only)")

	flags.DurationVar(&cfg.GlobalTimeout, "timeout", cfg.GlobalTimeout, "Global timeout")
	flags.DurationVar(&cfg.ActionTimeout, "action-timeout", cfg.ActionTimeout, "Timeout for individual page actions")
	flags.DurationVar(&cfg.NavigateTimeout, "navigate-timeout", cfg.NavigateTimeout, "Timeout for the page load")
	flags.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "Timeout for a control to become clickable")
	flags.DurationVar(&cfg.SettleInterval, "settle-interval", cfg.SettleInterval, "Poll interval while the page re-renders")
	flags.DurationVar(&cfg.SettleQuiet, "settle-quiet", cfg.SettleQuiet, "How long an unchanged page counts as settled")
	flags.DurationVar(&cfg.SettleTimeout, "settle-timeout", cfg.SettleTimeout, "Timeout for the page to settle")

	flags.BoolVar(&cfg.AllowMissingPrice, "allow-missing-price", cfg.AllowMissingPrice, "Record a null price instead of failing when an offer shows no price")
	flags.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write Prometheus metrics to this file after the scrape")

	l := &cfg.Locators
	flags.Var(locatorValue{&l.Title}, "title-locator", "Product title element")
	flags.Var(locatorValue{&l.FlavourSelect}, "flavour-select-locator", "Flavour <select> element")
	flags.Var(locatorValue{&l.AmountOption}, "amount-option-locator", "Amount buttons of the selected flavour")
	flags.StringVar(&l.AmountButton, "amount-button-css", l.AmountButton, "CSS format string for the n-th amount button")
	flags.Var(locatorValue{&l.Price}, "price-locator", "Price display element")
	flags.Var(locatorValue{&l.CookiePrefs}, "cookie-prefs-locator", "Cookie banner 'manage preferences' control")
	flags.Var(locatorValue{&l.CookieReject}, "cookie-reject-locator", "Cookie preferences 'reject all' control")
	flags.Var(locatorValue{&l.MarketingClose}, "marketing-close-locator", "Email signup popup close control")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must be absolute, got %q", c.URL)
	}

	switch c.Backend {
	case browser.BackendChromedp, browser.BackendSelenium:
	default:
		return fmt.Errorf("driver must be %s or %s, got %q", browser.BackendChromedp, browser.BackendSelenium, c.Backend)
	}

	if c.GlobalTimeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("action timeout must be positive")
	}
	if c.NavigateTimeout <= 0 {
		return fmt.Errorf("navigate timeout must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	if c.SettleInterval <= 0 {
		return fmt.Errorf("settle interval must be positive")
	}
	if c.SettleQuiet < c.SettleInterval {
		return fmt.Errorf("settle quiet (%s) cannot be shorter than settle interval (%s)", c.SettleQuiet, c.SettleInterval)
	}
	if c.SettleTimeout <= c.SettleQuiet {
		return fmt.Errorf("settle timeout (%s) must exceed settle quiet (%s)", c.SettleTimeout, c.SettleQuiet)
	}

	return c.Locators.validate()
}

func (l Locators) validate() error {
	named := []struct {
		name string
		loc  browser.Locator
	}{
		{"title", l.Title},
		{"flavour select", l.FlavourSelect},
		{"amount option", l.AmountOption},
		{"price", l.Price},
		{"cookie prefs", l.CookiePrefs},
		{"cookie reject", l.CookieReject},
		{"marketing close", l.MarketingClose},
	}
	for _, n := range named {
		if n.loc.Value == "" {
			return fmt.Errorf("%s locator cannot be empty", n.name)
		}
	}
	if strings.Count(l.AmountButton, "%d") != 1 || strings.Count(l.AmountButton, "%") != 1 {
		return fmt.Errorf("amount button css must contain exactly one %%d verb, got %q", l.AmountButton)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.URL = getEnvOrDefault("SCRAPER_URL", c.URL)
	c.Backend = getEnvOrDefault("SCRAPER_DRIVER", c.Backend)
	c.BrowserPath = getEnvOrDefault("SCRAPER_BROWSER_PATH", c.BrowserPath)
	c.DriverPath = getEnvOrDefault("SCRAPER_CHROMEDRIVER_PATH", c.DriverPath)
	c.MetricsFile = getEnvOrDefault("SCRAPER_METRICS_FILE", c.MetricsFile)
	c.Locators.AmountButton = getEnvOrDefault("SCRAPER_AMOUNT_BUTTON_CSS", c.Locators.AmountButton)

	for key, b := range map[string]*bool{
		"SCRAPER_HEADLESS":            &c.Headless,
		"SCRAPER_DEBUG":               &c.Debug,
		"SCRAPER_ALLOW_MISSING_PRICE": &c.AllowMissingPrice,
	} {
		if err := getBoolFromEnv(key, b); err != nil {
			return err
		}
	}

	for key, d := range map[string]*time.Duration{
		"SCRAPER_TIMEOUT":          &c.GlobalTimeout,
		"SCRAPER_ACTION_TIMEOUT":   &c.ActionTimeout,
		"SCRAPER_NAVIGATE_TIMEOUT": &c.NavigateTimeout,
		"SCRAPER_WAIT_TIMEOUT":     &c.WaitTimeout,
		"SCRAPER_SETTLE_INTERVAL":  &c.SettleInterval,
		"SCRAPER_SETTLE_QUIET":     &c.SettleQuiet,
		"SCRAPER_SETTLE_TIMEOUT":   &c.SettleTimeout,
	} {
		if err := getDurationFromEnv(key, d); err != nil {
			return err
		}
	}

	l := &c.Locators
	for key, loc := range map[string]*browser.Locator{
		"SCRAPER_TITLE_LOCATOR":           &l.Title,
		"SCRAPER_FLAVOUR_SELECT_LOCATOR":  &l.FlavourSelect,
		"SCRAPER_AMOUNT_OPTION_LOCATOR":   &l.AmountOption,
		"SCRAPER_PRICE_LOCATOR":           &l.Price,
		"SCRAPER_COOKIE_PREFS_LOCATOR":    &l.CookiePrefs,
		"SCRAPER_COOKIE_REJECT_LOCATOR":   &l.CookieReject,
		"SCRAPER_MARKETING_CLOSE_LOCATOR": &l.MarketingClose,
	} {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		parsed, err := browser.ParseLocator(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*loc = parsed
	}
	return nil
}

// locatorValue adapts a browser.Locator to flag.Value.
type locatorValue struct {
	loc *browser.Locator
}

func (v locatorValue) String() string {
	if v.loc == nil {
		return ""
	}
	return v.loc.String()
}

func (v locatorValue) Set(s string) error {
	loc, err := browser.ParseLocator(s)
	if err != nil {
		return err
	}
	*v.loc = loc
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolFromEnv sets *dst from key when it is set; a malformed value is an error.
func getBoolFromEnv(key string, dst *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func getDurationFromEnv(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
