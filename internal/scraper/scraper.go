package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"flavour-scraper/internal/browser"
	"flavour-scraper/internal/config"
	"flavour-scraper/internal/session"
)

// flavourOption is one entry of the flavour select as captured before any
// selection is made.
type flavourOption struct {
	Name     string
	Value    string
	HasValue bool
}

// Scraper reads the product name and the flavour x amount price matrix from a
// page whose overlays are already dismissed. It drives a single page and must
// not be used concurrently.
type Scraper struct {
	drv     browser.Driver
	cfg     *config.Config
	settler Settler
	logger  *zap.Logger
	metrics *Metrics
}

func New(drv browser.Driver, cfg *config.Config, logger *zap.Logger, metrics *Metrics) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		drv: drv,
		cfg: cfg,
		settler: Settler{
			Interval: cfg.SettleInterval,
			Quiet:    cfg.SettleQuiet,
			Timeout:  cfg.SettleTimeout,
		},
		logger:  logger.With(zap.String("component", "scraper")),
		metrics: metrics,
	}
}

// Run opens a session on cfg.URL, scrapes it and closes the session again,
// whatever the outcome.
func Run(ctx context.Context, launch browser.Launcher, cfg *config.Config, logger *zap.Logger, metrics *Metrics) (*ProductRecord, error) {
	start := time.Now()

	var record *ProductRecord
	err := session.With(ctx, launch, cfg, logger, func(s *session.Session) error {
		var err error
		record, err = New(s.Driver(), cfg, logger, metrics).Scrape(ctx, s.URL())
		return err
	})
	metrics.ObserveScrape(time.Since(start))
	if err != nil {
		metrics.IncError(ErrorType(err))
		return nil, err
	}
	return record, nil
}

// Scrape reads the product name and every flavour offer.
func (s *Scraper) Scrape(ctx context.Context, url string) (*ProductRecord, error) {
	name, err := s.Name(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scraping product", zap.String("product", name), zap.String("url", url))

	offers, err := s.FlavourOffers(ctx)
	if err != nil {
		return nil, err
	}

	return &ProductRecord{
		Name:          name,
		SourceURL:     url,
		FlavourOffers: offers,
	}, nil
}

// Name reads the product title.
func (s *Scraper) Name(ctx context.Context) (string, error) {
	text, err := s.drv.Text(ctx, s.cfg.Locators.Title)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// FlavourOffers selects every flavour in turn and reads the price of every
// amount offered for it. Flavours and amounts keep page order.
func (s *Scraper) FlavourOffers(ctx context.Context) ([]FlavourOffer, error) {
	options, err := s.flavourOptions(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("found flavours", zap.Int("flavours", len(options)))

	offers := make([]FlavourOffer, 0, len(options))
	for i, opt := range options {
		s.logger.Info("scraping prices for flavour",
			zap.Int("flavour", i+1),
			zap.Int("of", len(options)),
			zap.String("name", opt.Name),
		)

		amounts, err := s.amountOffers(ctx, i, opt)
		if err != nil {
			return nil, err
		}
		s.metrics.IncFlavours()

		offers = append(offers, FlavourOffer{FlavourName: opt.Name, AmountOffers: amounts})
	}
	return offers, nil
}

// flavourOptions reads the flavour select once and captures every option's
// display text and value.
func (s *Scraper) flavourOptions(ctx context.Context) ([]flavourOption, error) {
	html, err := s.drv.OuterHTML(ctx, s.cfg.Locators.FlavourSelect)
	if err != nil {
		return nil, err
	}
	return parseFlavourOptions(html)
}

func parseFlavourOptions(html string) ([]flavourOption, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "parse flavour select")
	}

	var options []flavourOption
	doc.Find("option").Each(func(_ int, sel *goquery.Selection) {
		value, ok := sel.Attr("value")
		options = append(options, flavourOption{
			Name:     strings.Join(strings.Fields(sel.Text()), " "),
			Value:    value,
			HasValue: ok && value != "",
		})
	})
	return options, nil
}

func (s *Scraper) amountOffers(ctx context.Context, i int, opt flavourOption) ([]AmountOffer, error) {
	before, err := s.amountSignature(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.selectFlavour(ctx, i, opt); err != nil {
		return nil, err
	}
	if err := s.settle(ctx, "flavour", "amounts of "+opt.Name, before, s.amountSignature); err != nil {
		return nil, err
	}

	labels, err := s.drv.Texts(ctx, s.cfg.Locators.AmountOption)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("found amounts", zap.String("flavour", opt.Name), zap.Strings("amounts", labels))

	amounts := make([]AmountOffer, 0, len(labels))
	for j, label := range labels {
		price, err := s.amountPrice(ctx, j, opt.Name, label)
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, AmountOffer{AmountLabel: label, Price: price})
	}
	return amounts, nil
}

// selectFlavour picks the option by its value when it has one, so a select
// whose options move between reads still gets the intended flavour.
func (s *Scraper) selectFlavour(ctx context.Context, i int, opt flavourOption) error {
	loc := s.cfg.Locators.FlavourSelect
	if err := s.drv.WaitClickable(ctx, loc, s.cfg.WaitTimeout); err != nil {
		return err
	}
	if opt.HasValue {
		return s.drv.SelectByValue(ctx, loc, opt.Value)
	}
	return s.drv.SelectByIndex(ctx, loc, i)
}

func (s *Scraper) amountPrice(ctx context.Context, j int, flavour, amount string) (decimal.NullDecimal, error) {
	before, err := s.priceText(ctx)
	if err != nil {
		return decimal.NullDecimal{}, err
	}

	btn := browser.CSS(fmt.Sprintf(s.cfg.Locators.AmountButton, j+1))
	if err := s.drv.WaitClickable(ctx, btn, s.cfg.WaitTimeout); err != nil {
		return decimal.NullDecimal{}, err
	}
	if err := s.drv.Click(ctx, btn); err != nil {
		return decimal.NullDecimal{}, err
	}
	if err := s.settle(ctx, "amount", "price of "+flavour+"/"+amount, before, s.priceText); err != nil {
		return decimal.NullDecimal{}, err
	}

	text, err := s.priceText(ctx)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	price, err := ParsePrice(text)
	if err != nil {
		var parseErr *PriceParseError
		if errors.As(err, &parseErr) {
			parseErr.Flavour, parseErr.Amount = flavour, amount
		}
		if !s.cfg.AllowMissingPrice {
			return decimal.NullDecimal{}, err
		}
		s.logger.Warn("no price shown", zap.String("flavour", flavour), zap.String("amount", amount), zap.String("text", text))
		s.metrics.IncOffer("unpriced")
		return decimal.NullDecimal{}, nil
	}

	s.logger.Debug("read price", zap.String("flavour", flavour), zap.String("amount", amount), zap.Stringer("price", price))
	s.metrics.IncOffer("priced")
	return decimal.NewNullDecimal(price), nil
}

func (s *Scraper) settle(ctx context.Context, trigger, what, before string, probe func(context.Context) (string, error)) error {
	start := time.Now()
	err := s.settler.Wait(ctx, what, before, probe)
	s.metrics.ObserveSettle(trigger, time.Since(start))
	return err
}

// amountSignature identifies the rendered amount list of the selected flavour.
func (s *Scraper) amountSignature(ctx context.Context) (string, error) {
	labels, err := s.drv.Texts(ctx, s.cfg.Locators.AmountOption)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s", len(labels), strings.Join(labels, "\x1f")), nil
}

func (s *Scraper) priceText(ctx context.Context) (string, error) {
	text, err := s.drv.Text(ctx, s.cfg.Locators.Price)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
