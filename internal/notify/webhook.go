package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/transferauth/internal/logging"
	"github.com/meridianbank/transferauth/internal/retry"
)

// WebhookNotifier posts JSON payloads to configured endpoints. An empty URL
// disables that channel.
type WebhookNotifier struct {
	codeURL     string
	approverURL string
	secret      string
	client      *http.Client
	logger      *slog.Logger
}

// NewWebhookNotifier creates a notifier posting codes to codeURL and
// approver alerts to approverURL. secret, when set, signs each payload.
func NewWebhookNotifier(codeURL, approverURL, secret string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		codeURL:     codeURL,
		approverURL: approverURL,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

type codePayload struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	RequesterID string    `json:"requesterId"`
	Code        string    `json:"code"`
	Timestamp   time.Time `json:"timestamp"`
}

type approverPayload struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TransferID string    `json:"transferId"`
	Timestamp  time.Time `json:"timestamp"`
}

func (w *WebhookNotifier) SendCode(ctx context.Context, requesterID, code string) {
	if w.codeURL == "" {
		return
	}
	w.post(ctx, w.codeURL, "verification.code", codePayload{
		ID:          uuid.NewString(),
		Type:        "verification.code",
		RequesterID: requesterID,
		Code:        code,
		Timestamp:   time.Now().UTC(),
	})
}

func (w *WebhookNotifier) NotifyApprovers(ctx context.Context, transferID string) {
	if w.approverURL == "" {
		return
	}
	w.post(ctx, w.approverURL, "approval.requested", approverPayload{
		ID:         uuid.NewString(),
		Type:       "approval.requested",
		TransferID: transferID,
		Timestamp:  time.Now().UTC(),
	})
}

// post delivers asynchronously with a few retries. The caller never waits
// and never sees a failure.
func (w *WebhookNotifier) post(ctx context.Context, url, eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.L(ctx).Error("notify: marshal payload", "event", eventType, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		err := retry.Do(ctx, 3, time.Second, func() error {
			return w.deliver(ctx, url, eventType, body)
		})
		if err != nil {
			w.logger.Warn("notify: delivery failed", "event", eventType, "url", url, "error", err)
		}
	}()
}

func (w *WebhookNotifier) deliver(ctx context.Context, url, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Transferauth-Event", eventType)
	if w.secret != "" {
		req.Header.Set("X-Transferauth-Signature", sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

var _ Notifier = (*WebhookNotifier)(nil)
