package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flavour-scraper/internal/browser/browsertest"
)

func vanillaPage() *browsertest.Page {
	return browsertest.NewPage("Impact Whey Protein", browsertest.Flavour{
		Name:    "Vanilla",
		Value:   "vanilla",
		Amounts: []browsertest.Amount{{Label: "250g", Price: "£8.99"}},
	})
}

var fastSettle = []string{"-settle-interval", "1ms", "-settle-quiet", "20ms", "-settle-timeout", "2s"}

func TestRunHelpExitsCleanly(t *testing.T) {
	page := vanillaPage()
	var out bytes.Buffer

	assert.Equal(t, 0, run([]string{"-h"}, &out, page.Launcher()))
	assert.Empty(t, out.String())
	assert.Empty(t, page.Calls(), "no browser for -h")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	page := vanillaPage()
	var out bytes.Buffer

	assert.Equal(t, 2, run([]string{"-url", "/sports-nutrition/impact-whey-protein"}, &out, page.Launcher()))
	assert.Empty(t, page.Calls())
}

func TestRunPrintsRecord(t *testing.T) {
	page := vanillaPage()
	var out bytes.Buffer

	require.Equal(t, 0, run(fastSettle, &out, page.Launcher()))

	var record struct {
		Name          string `json:"name"`
		FlavourOffers []struct {
			FlavourName  string `json:"flavour_name"`
			AmountOffers []struct {
				AmountLabel string `json:"amount_label"`
				Price       string `json:"price"`
			} `json:"amount_offers"`
		} `json:"flavour_offers"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &record))
	assert.Equal(t, "Impact Whey Protein", record.Name)
	require.Len(t, record.FlavourOffers, 1)
	require.Len(t, record.FlavourOffers[0].AmountOffers, 1)
	assert.Equal(t, "8.99", record.FlavourOffers[0].AmountOffers[0].Price)
	assert.Equal(t, 1, page.Closes())
}

func TestRunScrapeFailureExitsNonZero(t *testing.T) {
	page := vanillaPage()
	page.Flavours[0].Amounts[0].Price = "Temporarily out of stock"
	var out bytes.Buffer

	assert.Equal(t, 1, run(fastSettle, &out, page.Launcher()))
	assert.Empty(t, out.String())
	assert.Equal(t, 1, page.Closes())
}
