// Command simulate drives randomized intent sequences through an
// anonymous-mode sync engine backed by a throwaway SQLite store and
// checks the cart's numeric invariants after every step.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/oren0115/cartsync/internal/adapter/storage"
	"github.com/oren0115/cartsync/internal/core/domain"
	"github.com/oren0115/cartsync/internal/core/service"
)

const (
	totalIntents = 2000
	catalogSize  = 12
	queueSize    = 100
)

func main() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "cartsync-simulate")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	db, err := sql.Open("sqlite3", filepath.Join(dir, "simulate.db"))
	if err != nil {
		log.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	logger := zap.NewNop()
	store := storage.NewSQLiteStore(db, "cart:snapshot", logger)
	if err := store.Init(ctx); err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	session := service.NewSessionObserver()
	cart := service.NewSyncService(unreachableGateway{}, store, session, logger, queueSize)
	defer cart.Close()

	catalog := make([]domain.Product, catalogSize)
	for i := range catalog {
		price := float64(rand.Intn(90)+10) * 1000
		catalog[i] = domain.Product{
			ID:              uuid.NewString(),
			Name:            fmt.Sprintf("product-%d", i),
			Price:           price,
			DiscountedPrice: price * 0.9,
			DiscountPercent: 10,
			Images:          []string{fmt.Sprintf("https://cdn.example.com/p%d.jpg", i)},
			Stock:           rand.Intn(20) + 1,
		}
	}

	var adds, removes, updates, clears int
	for i := 0; i < totalIntents; i++ {
		p := catalog[rand.Intn(catalogSize)]

		var state domain.CartState
		var err error
		switch rand.Intn(10) {
		case 0:
			state, err = cart.ClearCart(ctx)
			clears++
		case 1, 2:
			state, err = cart.RemoveFromCart(ctx, p.ID)
			removes++
		case 3, 4:
			state, err = cart.UpdateQuantity(ctx, p.ID, rand.Intn(30)-2)
			updates++
		default:
			state, err = cart.AddToCart(ctx, p, rand.Intn(5))
			adds++
		}
		if err != nil {
			log.Fatalf("intent %d failed: %v", i, err)
		}

		if err := checkInvariants(state); err != nil {
			log.Fatalf("invariant violated after intent %d: %v", i, err)
		}
	}

	final := cart.State()
	log.Printf("simulate: %d adds, %d removes, %d updates, %d clears", adds, removes, updates, clears)
	log.Printf("simulate: final cart has %d lines, %d items, total %.2f",
		len(final.Items), final.TotalItems, final.Total)
	log.Println("simulate: all invariants held")
}

func checkInvariants(state domain.CartState) error {
	seen := make(map[string]struct{}, len(state.Items))
	items := 0
	total := 0.0

	for _, line := range state.Items {
		if _, dup := seen[line.ProductID]; dup {
			return fmt.Errorf("duplicate line for product %s", line.ProductID)
		}
		seen[line.ProductID] = struct{}{}

		if line.Quantity < 1 || line.Quantity > line.Stock {
			return fmt.Errorf("product %s quantity %d outside [1, %d]",
				line.ProductID, line.Quantity, line.Stock)
		}
		items += line.Quantity
		total += line.DiscountedPrice * float64(line.Quantity)
	}

	if state.TotalItems != items {
		return fmt.Errorf("totalItems %d, expected %d", state.TotalItems, items)
	}
	if math.Abs(state.Total-total) > 1e-6 || math.Abs(state.Subtotal-total) > 1e-6 {
		return fmt.Errorf("total %.6f, expected %.6f", state.Total, total)
	}
	return nil
}

// unreachableGateway stands in for the remote cart; anonymous mode must
// never touch it.
type unreachableGateway struct{}

func (unreachableGateway) FetchSnapshot(ctx context.Context) (domain.CartState, error) {
	return domain.CartState{}, domain.ErrUnreachable
}

func (unreachableGateway) AddItem(ctx context.Context, product domain.Product, quantity int) error {
	return domain.ErrUnreachable
}

func (unreachableGateway) RemoveItem(ctx context.Context, productID string) error {
	return domain.ErrUnreachable
}

func (unreachableGateway) SetQuantity(ctx context.Context, productID string, quantity int) error {
	return domain.ErrUnreachable
}

func (unreachableGateway) Clear(ctx context.Context) error {
	return domain.ErrUnreachable
}
