// Package notify pings a monitoring endpoint after each run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Payload is the JSON body posted to the heartbeat URL.
type Payload struct {
	Stem       string    `json:"stem"`
	StartedAt  time.Time `json:"started_at"`
	Phase      string    `json:"phase"`
	FrameCount int       `json:"frame_count"`
	Shots      int       `json:"shots"`
	Failed     int       `json:"failed_shots"`
	Canonical  string    `json:"canonical,omitempty"`
	HDR        bool      `json:"hdr"`
	Published  []string  `json:"published"`
	Synced     bool      `json:"synced"`
	Error      string    `json:"error,omitempty"`
	DryRun     bool      `json:"dry_run"`
}

// Notifier posts run payloads.
type Notifier interface {
	Notify(ctx context.Context, p Payload) error
}

// Heartbeat posts the payload to URL through a retrying HTTP client.
type Heartbeat struct {
	URL    string
	client *retryablehttp.Client
}

func NewHeartbeat(url string) *Heartbeat {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.HTTPClient.Timeout = 15 * time.Second
	retryClient.Logger = nil
	return &Heartbeat{URL: url, client: retryClient}
}

func (h *Heartbeat) Notify(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "capture-shot")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat %s: unexpected status %s", h.URL, resp.Status)
	}
	return nil
}
