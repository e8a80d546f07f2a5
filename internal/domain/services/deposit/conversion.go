package deposit

import (
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// Converter turns USD deltas into whole internal-currency units.
type Converter struct {
	rate decimal.Decimal
}

// NewConverter takes the USD value of one unit. A non-positive rate is a configuration error.
func NewConverter(rate decimal.Decimal) (*Converter, error) {
	if !rate.IsPositive() {
		return nil, errors.ConfigurationError("hdwallet.conversion_rate", "conversion rate must be positive")
	}
	return &Converter{rate: rate}, nil
}

func (c *Converter) Rate() decimal.Decimal {
	return c.rate
}

// Units returns floor(deltaUSD / rate). The fractional remainder is dropped.
func (c *Converter) Units(deltaUSD decimal.Decimal) int64 {
	if !deltaUSD.IsPositive() {
		return 0
	}
	q, _ := deltaUSD.QuoRem(c.rate, 0)
	return q.IntPart()
}
