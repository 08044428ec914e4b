package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const apiKeyHeader = "xi-api-key"

// HTTP talks to the voice-agent platform's conversational AI API.
type HTTP struct {
	c       *http.Client
	baseURL string
	apiKey  string
}

func NewHTTP(baseURL, apiKey string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		c:       &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	Path   string
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return e.Path + " " + e.Status + ": " + e.Body
}

func (h *HTTP) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrapf(err, "build request %s", path)
	}
	req.Header.Set(apiKeyHeader, h.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Path: path, Status: resp.Status, Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
