package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/tally/internal/domain"
)

// wireResult is the receipt JSON shape shared by every backend.
type wireResult struct {
	Total json.RawMessage `json:"total"`
	Items []wireItem      `json:"items"`
}

type wireItem struct {
	Name  string          `json:"name"`
	Price json.RawMessage `json:"price"`
}

// decodeResult parses receipt JSON. Prices may be numbers or strings with
// currency symbols. A missing total is taken to be the sum of the items.
func decodeResult(provider string, data []byte) (*Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &Error{Kind: Malformed, Provider: provider, Err: fmt.Errorf("decode result: %w", err)}
	}
	return w.toResult(provider)
}

func (w wireResult) toResult(provider string) (*Result, error) {
	res := &Result{Items: make([]domain.LineItem, 0, len(w.Items))}
	for i, it := range w.Items {
		price, err := parseAmount(it.Price)
		if err != nil {
			return nil, &Error{Kind: Malformed, Provider: provider, Err: fmt.Errorf("item %d price: %w", i, err)}
		}
		name := strings.TrimSpace(it.Name)
		if name == "" {
			name = fmt.Sprintf("item %d", i+1)
		}
		res.Items = append(res.Items, domain.LineItem{Name: name, Price: price})
	}

	if isEmptyJSON(w.Total) {
		res.Total = res.ItemsTotal()
		return res, nil
	}
	total, err := parseAmount(w.Total)
	if err != nil {
		return nil, &Error{Kind: Malformed, Provider: provider, Err: fmt.Errorf("total: %w", err)}
	}
	res.Total = total
	return res, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// parseAmount reads a JSON number or string as a decimal.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if isEmptyJSON(raw) {
		return decimal.Zero, errors.New("missing amount")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
		return ParseAmount(s)
	}
	return decimal.NewFromString(string(raw))
}

// currencyWords are the alphabetic currency markers ParseAmount skips.
// Matching is case-insensitive.
var currencyWords = map[string]bool{
	"eur": true, "usd": true, "gbp": true, "chf": true, "jpy": true,
	"cad": true, "aud": true, "nzd": true, "sek": true, "nok": true,
	"dkk": true, "pln": true, "czk": true, "huf": true, "ron": true,
	"inr": true, "cny": true, "rmb": true, "brl": true, "mxn": true,
	"zar": true, "try": true, "uah": true,
	"kr": true, "zł": true, "zl": true, "kč": true, "ft": true,
	"lei": true, "rs": true, "r": true, "eu": true, "us": true,
}

// ParseAmount reads a human-written amount such as "€ 1.234,50", "$12.99",
// "EUR 7" or "0,50-". Currency symbols, spaces and currency codes are
// ignored and a minus sign on either side negates. Any other letter makes
// the amount invalid. When both '.' and ',' appear, the last one is the
// decimal separator; a lone ',' is a decimal separator only when followed
// by one or two digits.
func ParseAmount(s string) (decimal.Decimal, error) {
	var b, word strings.Builder
	neg := false
	knownWord := func() bool {
		w := strings.ToLower(word.String())
		word.Reset()
		return w == "" || currencyWords[w]
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			word.WriteRune(r)
			continue
		}
		if !knownWord() {
			return decimal.Zero, fmt.Errorf("invalid amount %q", s)
		}
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' || r == '−':
			neg = true
		case unicode.IsSpace(r), unicode.Is(unicode.Sc, r):
		default:
			return decimal.Zero, fmt.Errorf("invalid amount %q", s)
		}
	}
	if !knownWord() {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}

	lastDot := strings.LastIndexByte(clean, '.')
	lastComma := strings.LastIndexByte(clean, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if digits := len(clean) - lastComma - 1; strings.Count(clean, ",") == 1 && digits >= 1 && digits <= 2 {
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// extractJSON pulls the first JSON object out of a model reply, which may
// wrap it in prose or a Markdown code fence.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
