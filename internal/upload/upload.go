// Package upload hands finalized day records to the remote ledger.
//
// Submission is fire-and-forget: the POST runs in its own goroutine with a
// bounded timeout, failures are logged and dropped. There is no retry and
// no offline buffering here; if the ledger needs those, they live behind
// the webhook, not in this device.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appLog "kataday/internal/log"
	"kataday/internal/model"
)

// Client posts day records to a webhook URL.
type Client struct {
	url    string
	client *http.Client
}

// New returns a Client for the given webhook. An empty URL yields a client
// whose Submit is a no-op.
func New(url string) *Client {
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Submit sends rec asynchronously and returns immediately.
func (c *Client) Submit(rec model.DailyRecord) {
	if c.url == "" {
		return
	}
	go c.post(rec)
}

func (c *Client) post(rec model.DailyRecord) {
	body, err := json.Marshal(rec)
	if err != nil {
		appLog.Error("upload: encode record failed", err, "date", rec.Date)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		appLog.Error("upload: build request failed", err, "date", rec.Date)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		appLog.Error("upload: submit failed", err, "date", rec.Date)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appLog.Error("upload: ledger rejected record",
			fmt.Errorf("status %s", resp.Status), "date", rec.Date)
		return
	}
	appLog.Info("upload: record submitted", "date", rec.Date, "confirmed", rec.Confirmed)
}
