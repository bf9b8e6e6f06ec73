package scraper

import "github.com/shopspring/decimal"

// ProductRecord is the result of one scrape. It is built once and not
// modified afterwards.
type ProductRecord struct {
	Name          string         `json:"name"`
	SourceURL     string         `json:"source_url"`
	FlavourOffers []FlavourOffer `json:"flavour_offers"`
}

// FlavourOffer holds the offers of one flavour option, in page order.
type FlavourOffer struct {
	FlavourName  string        `json:"flavour_name"`
	AmountOffers []AmountOffer `json:"amount_offers"`
}

// AmountOffer is the price of one size of a flavour. Price is null only when
// missing prices are allowed and the page showed none.
type AmountOffer struct {
	AmountLabel string              `json:"amount_label"`
	Price       decimal.NullDecimal `json:"price"`
}
