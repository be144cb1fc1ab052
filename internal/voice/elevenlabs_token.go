package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultElevenLabsAPIBase = "https://api.elevenlabs.io"

// ElevenLabsTokenIssuer fetches signed conversation URLs from the ElevenLabs
// conversational AI REST API.
type ElevenLabsTokenIssuer struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

func NewElevenLabsTokenIssuer(apiKey, baseURL string) *ElevenLabsTokenIssuer {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultElevenLabsAPIBase
	}
	return &ElevenLabsTokenIssuer{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

func (i *ElevenLabsTokenIssuer) SignedURL(ctx context.Context, agentID string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", ErrAgentIDRequired
	}
	if strings.TrimSpace(i.APIKey) == "" {
		return "", fmt.Errorf("voice: elevenlabs api key is required")
	}

	u := i.BaseURL + "/v1/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", i.APIKey)

	client := i.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("voice: signed url request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out signedURLResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("voice: decode signed url: %w", err)
	}
	if strings.TrimSpace(out.SignedURL) == "" {
		return "", ErrNoSignedURL
	}
	return out.SignedURL, nil
}
