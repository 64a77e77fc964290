package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type ErrorKind string

const (
	KindUpstream  ErrorKind = "upstream"
	KindMalformed ErrorKind = "malformed"
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
	KindCanceled  ErrorKind = "canceled"
)

// Result is either a provider payload or a failure kind with detail. Callers
// branch on OK instead of unwinding errors, so a failed fetch can never be
// mistaken for a billable success.
type Result struct {
	Data   map[string]any
	Kind   ErrorKind
	Status int
	Detail string
}

func Ok(data map[string]any) Result {
	return Result{Data: data}
}

func Err(kind ErrorKind, status int, detail string) Result {
	return Result{Kind: kind, Status: status, Detail: detail}
}

func (r Result) OK() bool {
	return r.Kind == "" && r.Data != nil
}

func (r Result) Error() string {
	if r.OK() {
		return ""
	}
	if r.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", r.Kind, r.Status, r.Detail)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

type Fetcher interface {
	Fetch(ctx context.Context, platform Platform, contentURL string) Result
}

// ScrapeCreatorsClient fetches transcripts from the ScrapeCreators API.
type ScrapeCreatorsClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewScrapeCreatorsClient(apiKey, baseURL string, timeout time.Duration) *ScrapeCreatorsClient {
	return &ScrapeCreatorsClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *ScrapeCreatorsClient) Configured() bool {
	return c.apiKey != ""
}

func (c *ScrapeCreatorsClient) Fetch(ctx context.Context, platform Platform, contentURL string) Result {
	endpoint := c.baseURL + platform.Endpoint + "?url=" + url.QueryEscape(contentURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Err(KindTransport, 0, err.Error())
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Err(classify(ctx, err), 0, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Err(classify(ctx, err), resp.StatusCode, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Err(KindUpstream, resp.StatusCode, string(body))
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return Err(KindMalformed, resp.StatusCode, "response is not a JSON object")
	}
	return Ok(data)
}

func classify(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}
