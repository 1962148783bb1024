package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// MoneyScale is the number of decimals every stored amount carries.
const MoneyScale = 2

// MaxAmount is the largest amount a NUMERIC(12,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999.99")

func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyScale) }

// DayBounds returns the first and last instant of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Microsecond)
	return start, end
}
