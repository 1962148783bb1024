package orders

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentQRIS PaymentMethod = "qris"
	PaymentBank PaymentMethod = "bank"
)

var paymentMethods = map[PaymentMethod]bool{
	PaymentCash: true,
	PaymentQRIS: true,
	PaymentBank: true,
}

// ParsePaymentMethod accepts only the exact enumeration values.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	p := PaymentMethod(s)
	return p, paymentMethods[p]
}

func (p PaymentMethod) Valid() bool { return paymentMethods[p] }

// TakesCash reports whether the order must record cash received and change.
func (p PaymentMethod) TakesCash() bool { return p == PaymentCash }

type Category string

const (
	CategoryFood      Category = "food"
	CategoryBeverages Category = "beverages"
	CategorySnack     Category = "snack"
)

var categories = map[Category]bool{
	CategoryFood:      true,
	CategoryBeverages: true,
	CategorySnack:     true,
}

func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, categories[c]
}

func (c Category) Valid() bool { return categories[c] }
