package tools

import (
	"regexp"
	"strconv"
	"strings"
)

// amountPattern finds a currency amount such as "$50,000", "£12.5k",
// "₹10 lakh" or "AUD 250000". Indian digit grouping ("1,00,000") is accepted.
var amountPattern = regexp.MustCompile(`(?i)(?:[$£€₹]|\b(?:aud|usd|gbp|inr|rs\.?)\s?)\s?(\d{1,3}(?:,\d{2,3})+|\d+)(?:\.(\d+))?\s?(k|m|thousand|million|lakhs?|crores?)?\b`)

var amountMultipliers = map[string]float64{
	"k":        1e3,
	"thousand": 1e3,
	"m":        1e6,
	"million":  1e6,
	"lakh":     1e5,
	"lakhs":    1e5,
	"crore":    1e7,
	"crores":   1e7,
}

// ExtractAmount returns the first positive currency amount in query.
func ExtractAmount(query string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(query)
	if m == nil {
		return 0, false
	}
	num := strings.ReplaceAll(m[1], ",", "")
	if m[2] != "" {
		num += "." + m[2]
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	if mult, ok := amountMultipliers[strings.ToLower(m[3])]; ok {
		v *= mult
	}
	return v, true
}
