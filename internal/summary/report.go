package summary

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/shopspring/decimal"
)

// Report is the aggregated view of a date range. Maps are sparse: a missing
// key means zero.
type Report struct {
	TotalItems          ItemBreakdown    `json:"total_items"`
	ByProductCategory   map[string]int64 `json:"total_based_on_product_category"`
	ByPaymentMethod     map[string]int64 `json:"total_based_on_payment_method"`
	CustomerPreferences Preferences      `json:"total_based_on_customer_preferences"`
	TotalIncome         decimal.Decimal  `json:"total_income"`
	TotalOrder          int64            `json:"total_order"`
}

type Preferences struct {
	Takeaway int64 `json:"takeaway"`
	DineIn   int64 `json:"dine_in"`
}

// ItemBreakdown is category -> product name -> quantity sold, flattened on
// the wire next to the grand total_item counter.
type ItemBreakdown struct {
	Categories map[string]map[string]int64
	TotalItem  int64
}

const totalItemKey = "total_item"

func (b ItemBreakdown) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Categories)+1)
	for cat, products := range b.Categories {
		out[cat] = products
	}
	out[totalItemKey] = b.TotalItem
	return json.Marshal(out)
}

func (b *ItemBreakdown) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Categories = map[string]map[string]int64{}
	b.TotalItem = 0
	for k, v := range raw {
		if k == totalItemKey {
			if err := json.Unmarshal(v, &b.TotalItem); err != nil {
				return fmt.Errorf("decode %s: %w", totalItemKey, err)
			}
			continue
		}
		var products map[string]int64
		if err := json.Unmarshal(v, &products); err != nil {
			return fmt.Errorf("decode category %q: %w", k, err)
		}
		b.Categories[k] = products
	}
	return nil
}

// OrderFact is the slice of an order the report needs.
type OrderFact struct {
	Total         decimal.Decimal
	IsTakeaway    bool
	PaymentMethod string
}

// ItemTally is one row of the grouped item read: quantity sold per
// (category, product name).
type ItemTally struct {
	Category string
	Name     string
	Quantity int64
}

// EmptyReport is the zero-valued report returned for a window with no orders.
func EmptyReport() *Report {
	return &Report{
		TotalItems:        ItemBreakdown{Categories: map[string]map[string]int64{}},
		ByProductCategory: map[string]int64{},
		ByPaymentMethod:   map[string]int64{},
		TotalIncome:       decimal.Zero,
	}
}

// Fold builds the report from the orders of a window and the grouped item
// tallies of those same orders.
func Fold(facts []OrderFact, tallies []ItemTally) *Report {
	r := EmptyReport()
	if len(facts) == 0 {
		return r
	}

	income := decimal.Zero
	for _, f := range facts {
		income = income.Add(f.Total)
		r.TotalOrder++
		if f.IsTakeaway {
			r.CustomerPreferences.Takeaway++
		} else {
			r.CustomerPreferences.DineIn++
		}
		r.ByPaymentMethod[strings.ToLower(f.PaymentMethod)]++
	}
	r.TotalIncome = orders.RoundMoney(income)

	for _, t := range tallies {
		if t.Quantity == 0 {
			continue
		}
		cat := strings.ToLower(t.Category)
		products, ok := r.TotalItems.Categories[cat]
		if !ok {
			products = map[string]int64{}
			r.TotalItems.Categories[cat] = products
		}
		products[t.Name] += t.Quantity
		r.ByProductCategory[cat] += t.Quantity
		r.TotalItems.TotalItem += t.Quantity
	}
	return r
}
