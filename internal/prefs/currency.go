// Package prefs holds the persisted preference and profile stores.
package prefs

import (
	"context"
	"sort"
	"strings"

	"dailypa/internal/auth"
	"dailypa/internal/persist"

	"go.uber.org/zap"
)

// DefaultCurrency is used on a fresh install.
const DefaultCurrency = "USD"

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
	"KRW": "₩",
	"CNY": "¥",
	"AUD": "A$",
	"CAD": "C$",
}

// Symbol returns the display symbol for a currency code, "$" when unknown.
func Symbol(code string) string {
	if s, ok := currencySymbols[code]; ok {
		return s
	}
	return currencySymbols[DefaultCurrency]
}

// Currencies lists the supported currency codes in alphabetical order.
func Currencies() []string {
	out := make([]string, 0, len(currencySymbols))
	for code := range currencySymbols {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

type currencyState struct {
	Currency string `json:"currency"`
}

// CurrencyStore is the persisted currency preference.
type CurrencyStore struct {
	slice *persist.Slice[currencyState]
}

// NewCurrencyStore creates the store over kv. Call Hydrate before use.
func NewCurrencyStore(kv persist.KV, logger *zap.Logger) (*CurrencyStore, error) {
	slice, err := persist.NewSlice(kv, persist.KeyCurrency, currencyState{Currency: DefaultCurrency}, logger)
	if err != nil {
		return nil, err
	}
	return &CurrencyStore{slice: slice}, nil
}

// Hydrate loads the stored preference.
func (c *CurrencyStore) Hydrate(ctx context.Context) {
	c.slice.Hydrate(ctx)
}

// Currency returns the selected currency code.
func (c *CurrencyStore) Currency() string {
	if code := c.slice.Get().Currency; code != "" {
		return code
	}
	return DefaultCurrency
}

// Symbol returns the symbol of the selected currency.
func (c *CurrencyStore) Symbol() string {
	return Symbol(c.Currency())
}

// SetCurrency selects a supported currency.
func (c *CurrencyStore) SetCurrency(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := currencySymbols[code]; !ok {
		return &auth.ValidationError{Field: "currency", Message: "unsupported currency " + code}
	}
	c.slice.Set(currencyState{Currency: code})
	return nil
}

// Close stops persisting changes.
func (c *CurrencyStore) Close() { c.slice.Close() }
