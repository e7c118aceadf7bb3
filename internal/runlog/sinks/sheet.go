package sinks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/edge-warmer/internal/runlog"
)

// SheetSink posts the run log to a spreadsheet-backed webhook as
// {"sheetName": ..., "rows": [[...], ...]}.
type SheetSink struct {
	url    string
	client *http.Client
}

// NewSheetSink builds a SheetSink. A nil client gets a default with the
// given timeout.
func NewSheetSink(url string, client *http.Client, timeout time.Duration) (*SheetSink, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("sheet sink url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &SheetSink{url: url, client: client}, nil
}

// Name implements runlog.Sink.
func (s *SheetSink) Name() string {
	return "sheet"
}

// Consume sends the whole batch in one request.
func (s *SheetSink) Consume(ctx context.Context, batch runlog.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sheet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post run log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sheet sink returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
