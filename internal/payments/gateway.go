package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ErrDeclined is returned by a Gateway when it definitively rejects a payment.
// Any other error is treated as an ambiguous outcome.
var ErrDeclined = errors.New("declined by gateway")

type Verification struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, receipt string, amount decimal.Decimal) (string, error)
	Verify(ctx context.Context, v Verification) error
	Refund(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal) (string, error)
}

type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gws))}
	for _, g := range gws {
		r.Register(g)
	}
	return r
}

func (r *Registry) Register(g Gateway) {
	r.gateways[g.Name()] = g
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("gateway %q: %w", name, apperr.ErrInvalidInput)
	}
	return g, nil
}

// RegistryFromConfig builds the gateways listed in the payments section.
func RegistryFromConfig(cfg config.PaymentsConfig, client *http.Client) (*Registry, error) {
	r := NewRegistry()
	for _, g := range cfg.Gateways {
		switch g.Kind {
		case "signature":
			r.Register(NewSignatureGateway(g.Name, g.BaseURL, g.KeyID, g.Secret, client))
		case "poll":
			r.Register(NewPollGateway(g.Name, g.BaseURL, g.KeyID, g.Secret, client))
		default:
			return nil, fmt.Errorf("gateway %s: unknown kind %q", g.Name, g.Kind)
		}
	}
	return r, nil
}

// httpGateway holds the JSON-over-HTTP plumbing shared by both gateway kinds.
type httpGateway struct {
	name    string
	baseURL string
	keyID   string
	secret  string
	client  *http.Client
}

func (g *httpGateway) Name() string { return g.name }

func (g *httpGateway) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.keyID != "" {
		req.SetBasicAuth(g.keyID, g.secret)
	}

	client := g.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return out, resp.StatusCode, nil
}

func (g *httpGateway) CreateOrder(ctx context.Context, receipt string, amount decimal.Decimal) (string, error) {
	body, status, err := g.do(ctx, http.MethodPost, "/orders", map[string]any{
		"amount":   amount.StringFixed(2),
		"currency": "INR",
		"receipt":  receipt,
	})
	if err != nil {
		return "", fmt.Errorf("%s create order: %w", g.name, err)
	}
	if status >= 300 {
		return "", fmt.Errorf("%s create order: status %d: %s", g.name, status, gjson.GetBytes(body, "error").String())
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", fmt.Errorf("%s create order: response without id", g.name)
	}
	return id, nil
}

func (g *httpGateway) Refund(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal) (string, error) {
	body, status, err := g.do(ctx, http.MethodPost, "/payments/"+gatewayPaymentID+"/refund", map[string]any{
		"amount": amount.StringFixed(2),
	})
	if err != nil {
		return "", fmt.Errorf("%s refund: %w", g.name, err)
	}
	if status >= 300 {
		return "", fmt.Errorf("%s refund: status %d: %s", g.name, status, gjson.GetBytes(body, "error").String())
	}
	return gjson.GetBytes(body, "id").String(), nil
}
