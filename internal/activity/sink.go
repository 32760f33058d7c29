package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"proxygate/internal/domain"
)

// NopSink discards records. Used when no external sink is configured.
type NopSink struct{}

func (NopSink) Post(context.Context, domain.ActivityRecord) error { return nil }

// HTTPSink posts records to the external log sink under the system-level
// credential.
type HTTPSink struct {
	client      *http.Client
	sinkURL     string
	systemToken string
}

func NewHTTPSink(sinkURL, systemToken string) *HTTPSink {
	return &HTTPSink{
		client:      &http.Client{Timeout: 30 * time.Second},
		sinkURL:     sinkURL,
		systemToken: systemToken,
	}
}

func (s *HTTPSink) Post(ctx context.Context, record domain.ActivityRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sinkURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.systemToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("activity sink returned status %d", resp.StatusCode)
	}
	return nil
}
