package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oren0115/cartsync/internal/core/domain"
)

const defaultTimeout = 5 * time.Second

// TokenSource supplies the current session token for authenticated calls.
type TokenSource func() string

// HTTPGateway talks to the remote cart API:
//
//	GET    cart
//	POST   cart/items
//	PUT    cart/items/{productId}
//	DELETE cart/items/{productId}
//	DELETE cart
//
// Each method is one round trip with no retry. Transport errors and 5xx
// map to domain.ErrUnreachable, 401/403 to domain.ErrUnauthorized, and
// 4xx rejections to domain.ErrValidationRejected.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	token   TokenSource
	logger  *zap.Logger
}

func NewHTTPGateway(baseURL string, client *http.Client, token TokenSource, logger *zap.Logger) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		token:   token,
		logger:  logger,
	}
}

type snapshotResponse struct {
	Items      []domain.LineItem `json:"items"`
	TotalItems int               `json:"totalItems"`
	Subtotal   float64           `json:"subtotal"`
	Total      float64           `json:"total"`
}

type addItemRequest struct {
	ProductID       string   `json:"productId"`
	Quantity        int      `json:"quantity"`
	Name            string   `json:"name"`
	Price           float64  `json:"price"`
	DiscountedPrice float64  `json:"discountedPrice"`
	DiscountPercent float64  `json:"discountPercent"`
	Images          []string `json:"images"`
	Stock           int      `json:"stock"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (g *HTTPGateway) FetchSnapshot(ctx context.Context) (domain.CartState, error) {
	resp, err := g.do(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return domain.CartState{}, err
	}
	defer resp.Body.Close()

	var body snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.CartState{}, fmt.Errorf("%w: decode snapshot: %v", domain.ErrUnreachable, err)
	}
	return domain.CartState{
		Items:      body.Items,
		TotalItems: body.TotalItems,
		Subtotal:   body.Subtotal,
		Total:      body.Total,
	}, nil
}

func (g *HTTPGateway) AddItem(ctx context.Context, product domain.Product, quantity int) error {
	return g.mutate(ctx, http.MethodPost, "/cart/items", addItemRequest{
		ProductID:       product.ID,
		Quantity:        quantity,
		Name:            product.Name,
		Price:           product.Price,
		DiscountedPrice: product.DiscountedPrice,
		DiscountPercent: product.DiscountPercent,
		Images:          product.Images,
		Stock:           product.Stock,
	})
}

func (g *HTTPGateway) RemoveItem(ctx context.Context, productID string) error {
	return g.mutate(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(productID), nil)
}

func (g *HTTPGateway) SetQuantity(ctx context.Context, productID string, quantity int) error {
	return g.mutate(ctx, http.MethodPut, "/cart/items/"+url.PathEscape(productID), setQuantityRequest{Quantity: quantity})
}

func (g *HTTPGateway) Clear(ctx context.Context) error {
	return g.mutate(ctx, http.MethodDelete, "/cart", nil)
}

func (g *HTTPGateway) mutate(ctx context.Context, method, path string, payload any) error {
	resp, err := g.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if g.token != nil {
		if tok := g.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are the same degraded path.
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUnreachable, method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrUnauthorized, method, path, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrUnreachable, method, path, resp.StatusCode)
	default:
		g.logger.Debug("remote cart rejected request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: %s %s: status %d", domain.ErrValidationRejected, method, path, resp.StatusCode)
	}
}
