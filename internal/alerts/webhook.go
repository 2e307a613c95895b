package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fleettrack/internal/model"
)

// WebhookNotifier posts each alert to an operator webhook, signed with
// HMAC-SHA256 over the raw body in X-Signature when a secret is set.
type WebhookNotifier struct {
	URL         string
	Secret      string
	WorkspaceID string
	HTTP        *http.Client
}

func NewWebhookNotifier(url, secret, workspaceID string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Secret: secret, WorkspaceID: workspaceID, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (n *WebhookNotifier) Permitted() bool { return n != nil && n.URL != "" }

func (n *WebhookNotifier) Notify(ctx context.Context, a model.EmergencyAlert) error {
	if !n.Permitted() {
		return ErrNotPermitted
	}
	body, err := json.Marshal(map[string]any{
		"id":          a.ReceiptID,
		"type":        "emergencyAlert",
		"workspaceId": n.WorkspaceID,
		"ts":          time.Now().UTC().Format(time.RFC3339),
		"data":        a,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", "emergencyAlert")
	if n.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(n.Secret, body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return nil
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks an HMAC-SHA256 signature over the raw body using the shared secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), b)
}
