package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// SignatureGateway confirms a payment by checking the HMAC-SHA256 signature
// the gateway attaches to its client-side callback. No network call is made
// during verification.
type SignatureGateway struct {
	httpGateway
}

func NewSignatureGateway(name, baseURL, keyID, secret string, client *http.Client) *SignatureGateway {
	return &SignatureGateway{httpGateway: httpGateway{
		name: name, baseURL: strings.TrimRight(baseURL, "/"), keyID: keyID, secret: secret, client: client,
	}}
}

// Sign computes hex(HMAC-SHA256(secret, gatewayOrderID|gatewayPaymentID)).
func Sign(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *SignatureGateway) Verify(_ context.Context, v Verification) error {
	if v.GatewayPaymentID == "" || v.Signature == "" {
		return fmt.Errorf("%s: missing payment id or signature: %w", g.name, ErrDeclined)
	}
	expected := Sign(g.secret, v.GatewayOrderID, v.GatewayPaymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v.Signature))) {
		return fmt.Errorf("%s: signature mismatch: %w", g.name, ErrDeclined)
	}
	return nil
}

// PollGateway confirms a payment by asking the gateway for the order status.
type PollGateway struct {
	httpGateway
}

func NewPollGateway(name, baseURL, keyID, secret string, client *http.Client) *PollGateway {
	return &PollGateway{httpGateway: httpGateway{
		name: name, baseURL: strings.TrimRight(baseURL, "/"), keyID: keyID, secret: secret, client: client,
	}}
}

func (g *PollGateway) Verify(ctx context.Context, v Verification) error {
	body, status, err := g.do(ctx, http.MethodGet, "/orders/"+v.GatewayOrderID+"/status", nil)
	if err != nil {
		return fmt.Errorf("%s status poll: %w", g.name, err)
	}
	if status >= 300 {
		return fmt.Errorf("%s status poll: status %d", g.name, status)
	}
	switch s := strings.ToUpper(gjson.GetBytes(body, "status").String()); s {
	case "PAID", "SUCCESS", "CAPTURED":
		return nil
	case "FAILED", "DECLINED", "CANCELLED":
		return fmt.Errorf("%s reported %s: %w", g.name, s, ErrDeclined)
	default:
		return fmt.Errorf("%s reported %q", g.name, s)
	}
}
