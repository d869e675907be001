package domain

// Product is the catalog descriptor consumed when adding to the cart.
// Display fields are copied onto the line item at add-time and never
// re-fetched by this engine.
type Product struct {
	ID              string
	Name            string
	Price           float64
	DiscountedPrice float64
	DiscountPercent float64
	Images          []string
	Stock           int
}

// LineItem is one product's presence in the cart. At most one line item
// exists per product ID. JSON tags match the persisted snapshot shape.
type LineItem struct {
	ProductID       string  `json:"productId"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	DiscountedPrice float64 `json:"discountedPrice"`
	DiscountPercent float64 `json:"discountPercent"`
	Quantity        int     `json:"quantity"`
	ImageURL        string  `json:"imageUrl"`
	Stock           int     `json:"stock"`
}

// CartState is the cart aggregate. TotalItems, Subtotal and Total are always
// derived from Items; Apply recomputes them on every transition.
type CartState struct {
	Items      []LineItem `json:"items"`
	TotalItems int        `json:"totalItems"`
	Subtotal   float64    `json:"subtotal"`
	Total      float64    `json:"total"`
}

func EmptyCart() CartState {
	return CartState{Items: []LineItem{}}
}

// Clone returns a deep copy; callers may mutate the result freely.
func (s CartState) Clone() CartState {
	out := s
	out.Items = append([]LineItem(nil), s.Items...)
	return out
}

func (s CartState) find(productID string) int {
	for i := range s.Items {
		if s.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func firstImage(images []string) string {
	if len(images) == 0 {
		return ""
	}
	return images[0]
}
