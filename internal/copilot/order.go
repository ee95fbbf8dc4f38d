package copilot

// Order names a sortable column.
type Order string

const (
	OrderHot   Order = "hot"
	OrderID    Order = "id"
	OrderViews Order = "views"
)

// ParseOrder falls back to OrderID for anything unrecognized.
func ParseOrder(s string) Order {
	switch Order(s) {
	case OrderHot, OrderViews:
		return Order(s)
	}
	return OrderID
}
