package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"readywatch/internal/models"
)

// Webhook posts alert events as JSON to a configured endpoint. An empty URL
// disables delivery without disabling alert persistence.
type Webhook struct {
	HTTP *http.Client

	mu  sync.RWMutex
	url string
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.url != ""
}

func (w *Webhook) Update(url string) {
	w.mu.Lock()
	w.url = url
	w.mu.Unlock()
}

func (w *Webhook) Send(ctx context.Context, ev models.AlertEvent) error {
	w.mu.RLock()
	url := w.url
	w.mu.RUnlock()
	if url == "" {
		return fmt.Errorf("webhook not configured")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, string(body))
	}
	return nil
}
