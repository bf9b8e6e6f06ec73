package browsertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flavour-scraper/internal/browser"
	"flavour-scraper/internal/config"
)

func TestNewPageUsesConfiguredLocators(t *testing.T) {
	page := NewPage("Impact Whey Protein")
	assert.Equal(t, config.DefaultConfig().Locators, page.Locators)
}

func TestPageFollowsLocatorOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Locators.Title = browser.CSS("h1.product-title")

	page := NewPage("Impact Whey Protein")
	page.Locators = cfg.Locators

	title, err := page.Text(context.Background(), cfg.Locators.Title)
	require.NoError(t, err)
	assert.Equal(t, "Impact Whey Protein", title)

	_, err = page.Text(context.Background(), config.DefaultConfig().Locators.Title)
	var notFound *browser.ElementNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
