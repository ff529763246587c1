package usecase

import (
	"regexp"
	"strings"

	"github.com/pricelens/backend/internal/domain"
	"github.com/shopspring/decimal"
)

// Anything that is not a digit or a separator is noise: currency symbols, spaces, labels
var priceNoiseRegex = regexp.MustCompile(`[^0-9.,]`)

// NormalizePrice parses Latin-American price text into an exact amount.
//
// Both '.' and ',' may be thousands or decimal separators. A comma followed by at
// most two digits is the decimal separator; every other separator groups thousands.
//
//	"$ 7.970"   -> 7970
//	"16,990"    -> 16990
//	"1,99"      -> 1.99
//	"1.234,50"  -> 1234.50
func NormalizePrice(raw string) (decimal.Decimal, error) {
	cleaned := priceNoiseRegex.ReplaceAllString(raw, "")

	decimalComma := false
	if idx := strings.LastIndex(cleaned, ","); idx >= 0 {
		if len(cleaned)-idx-1 <= 2 {
			whole := strings.NewReplacer(".", "", ",", "").Replace(cleaned[:idx])
			cleaned = whole + "." + cleaned[idx+1:]
			decimalComma = true
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}
	if !decimalComma {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	cleaned = strings.TrimSuffix(cleaned, ".")
	if strings.HasPrefix(cleaned, ".") {
		cleaned = "0" + cleaned
	}
	if cleaned == "" {
		return decimal.Zero, &domain.NormalizationError{Raw: raw}
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, &domain.NormalizationError{Raw: raw}
	}
	return amount, nil
}

// ParsePriceText normalizes a feed price. Values that arrived as JSON numbers are
// already canonical and skip the locale rules.
func ParsePriceText(field string, p *domain.PriceText) (decimal.Decimal, error) {
	if p.IsEmpty() {
		return decimal.Zero, &domain.NormalizationError{Field: field}
	}
	if p.Numeric {
		amount, err := decimal.NewFromString(strings.TrimSpace(p.Raw))
		if err != nil {
			return decimal.Zero, &domain.NormalizationError{Field: field, Raw: p.Raw}
		}
		return amount, nil
	}
	amount, err := NormalizePrice(p.Raw)
	if err != nil {
		return decimal.Zero, &domain.NormalizationError{Field: field, Raw: p.Raw}
	}
	return amount, nil
}

// FormatPrice renders an amount the way the retailers print it: "$ 1.234,50".
// NormalizePrice(FormatPrice(x)) == x for any x with at most two decimals.
func FormatPrice(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + "$ " + grouped.String() + "," + frac
}
