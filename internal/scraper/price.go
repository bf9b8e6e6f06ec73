package scraper

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// priceRegex finds the first decimal amount in a price display such as
// "£12.99 per serving". Thousands separators are accepted ("£1,299.99").
var priceRegex = regexp.MustCompile(`[0-9]{1,3}(?:,[0-9]{3})+\.[0-9]+|[0-9]+\.[0-9]+`)

// ParsePrice extracts the first positive decimal amount from text.
func ParsePrice(text string) (decimal.Decimal, error) {
	found := priceRegex.FindString(text)
	if found == "" {
		return decimal.Zero, &PriceParseError{Text: text}
	}

	price, err := decimal.NewFromString(strings.ReplaceAll(found, ",", ""))
	if err != nil {
		return decimal.Zero, &PriceParseError{Text: text, Err: err}
	}
	if !price.IsPositive() {
		return decimal.Zero, &PriceParseError{Text: text}
	}
	return price, nil
}
