package denylist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"proxygate/internal/domain"
)

const fetchTimeout = 30 * time.Second

// HTTPFetcher pulls deny rules from the record store's rules endpoint under
// the system-level credential.
type HTTPFetcher struct {
	client      *http.Client
	rulesURL    string
	systemToken string
}

func NewHTTPFetcher(rulesURL, systemToken string) *HTTPFetcher {
	return &HTTPFetcher{
		client:      &http.Client{Timeout: fetchTimeout},
		rulesURL:    rulesURL,
		systemToken: systemToken,
	}
}

func (f *HTTPFetcher) FetchRules(ctx context.Context) ([]domain.DenyRule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.rulesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.systemToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch deny rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deny rules endpoint returned status %d", resp.StatusCode)
	}

	var rules []domain.DenyRule
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		return nil, fmt.Errorf("decode deny rules: %w", err)
	}
	return rules, nil
}
