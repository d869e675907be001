package domain

// Transition is a sealed set of cart mutations. Apply is the only place
// where cart aggregates are computed.
type Transition interface {
	isTransition()
}

// AddItem inserts a line for the product or tops up an existing one.
// Quantity is clamped to the product's stock snapshot.
type AddItem struct {
	Product  Product
	Quantity int
}

// RemoveItem deletes the line for ProductID; absent lines are a no-op.
type RemoveItem struct {
	ProductID string
}

// UpdateQuantity sets the quantity of an existing line, clamped into
// [1, line.Stock]; absent lines are a no-op.
type UpdateQuantity struct {
	ProductID string
	Quantity  int
}

// Clear resets the cart to the empty aggregate.
type Clear struct{}

// LoadSnapshot replaces the whole state with an external snapshot.
// Aggregates are re-derived and line items sanitized rather than trusted.
type LoadSnapshot struct {
	Snapshot CartState
}

func (AddItem) isTransition()        {}
func (RemoveItem) isTransition()     {}
func (UpdateQuantity) isTransition() {}
func (Clear) isTransition()          {}
func (LoadSnapshot) isTransition()   {}

// Apply is a pure reducer: it never mutates its input and never fails.
// Inputs the orchestrator boundary rejects (negative quantities, products
// without stock) degrade to no-ops here.
func Apply(state CartState, tr Transition) CartState {
	next := state.Clone()

	switch t := tr.(type) {
	case AddItem:
		next = applyAdd(next, t)
	case RemoveItem:
		if i := next.find(t.ProductID); i >= 0 {
			next.Items = append(next.Items[:i], next.Items[i+1:]...)
		}
	case UpdateQuantity:
		if i := next.find(t.ProductID); i >= 0 {
			next.Items[i].Quantity = clamp(t.Quantity, 1, next.Items[i].Stock)
		}
	case Clear:
		next = EmptyCart()
	case LoadSnapshot:
		next = sanitize(t.Snapshot)
	}

	return recompute(next)
}

func applyAdd(state CartState, t AddItem) CartState {
	if t.Quantity <= 0 {
		return state
	}

	if i := state.find(t.Product.ID); i >= 0 {
		line := &state.Items[i]
		line.Quantity = clamp(line.Quantity+t.Quantity, 1, line.Stock)
		return state
	}

	if t.Product.Stock < 1 {
		// Out-of-stock products never produce a line; quantity >= 1 must hold.
		return state
	}

	state.Items = append(state.Items, LineItem{
		ProductID:       t.Product.ID,
		Name:            t.Product.Name,
		Price:           t.Product.Price,
		DiscountedPrice: t.Product.DiscountedPrice,
		DiscountPercent: t.Product.DiscountPercent,
		Quantity:        clamp(t.Quantity, 1, t.Product.Stock),
		ImageURL:        firstImage(t.Product.Images),
		Stock:           t.Product.Stock,
	})
	return state
}

// sanitize rebuilds a snapshot's items so an inconsistent external shape
// cannot be ingested: duplicate product IDs collapse to the first
// occurrence, quantities are clamped into [1, stock], stockless lines drop.
func sanitize(snapshot CartState) CartState {
	out := EmptyCart()
	seen := make(map[string]struct{}, len(snapshot.Items))

	for _, line := range snapshot.Items {
		if line.ProductID == "" || line.Stock < 1 {
			continue
		}
		if _, dup := seen[line.ProductID]; dup {
			continue
		}
		seen[line.ProductID] = struct{}{}

		line.Quantity = clamp(line.Quantity, 1, line.Stock)
		out.Items = append(out.Items, line)
	}
	return out
}

func recompute(state CartState) CartState {
	state.TotalItems = 0
	state.Subtotal = 0
	for _, line := range state.Items {
		state.TotalItems += line.Quantity
		state.Subtotal += line.DiscountedPrice * float64(line.Quantity)
	}
	// No shipping/tax term in this engine; checkout owns those adjustments.
	state.Total = state.Subtotal
	return state
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
