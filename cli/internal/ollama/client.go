// Package ollama is a small HTTP client for the Ollama API: a reachability
// and model check (/api/tags) and single-shot, non-streaming generation
// (/api/generate).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"diffmage/cli/internal/version"
)

const _defaultTimeout = 10 * time.Second

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

var (
	// ErrUnreachable marks connection failures and non-2xx responses.
	ErrUnreachable = errors.New("ollama server unreachable")
	// ErrModelNotFound marks a 404 from /api/generate (model not pulled).
	ErrModelNotFound = errors.New("ollama model not found")
	// ErrEmptyResponse marks a generation that returned no text.
	ErrEmptyResponse = errors.New("ollama returned an empty response")
)

// Client calls the Ollama API. Zero value is not valid; use NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for baseURL (e.g. http://localhost:11434). A nil
// httpClient gets a default with a 10s timeout; generation callers should
// pass a client without a timeout and bound calls with the context instead.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: _defaultTimeout}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// CheckResult is the result of a health/model check.
type CheckResult struct {
	Reachable    bool
	ModelPresent bool
	// ModelNames lists every model from /api/tags, for diagnostics.
	ModelNames []string
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Check GETs /api/tags and reports whether model is installed. Transport
// failures and non-200 responses match ErrUnreachable.
func (c *Client) Check(ctx context.Context, model string) (*CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, errors.Wrap(err, "ollama tags request")
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.Mark(err, ErrUnreachable), "ollama tags")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Mark(errors.Newf("ollama tags: HTTP %d", resp.StatusCode), ErrUnreachable)
	}
	var body tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "ollama tags: parse response")
	}
	names := make([]string, 0, len(body.Models))
	for _, m := range body.Models {
		names = append(names, m.Name)
	}
	return &CheckResult{
		Reachable:    true,
		ModelPresent: slices.Contains(names, model),
		ModelNames:   names,
	}, nil
}

// GenerateOptions are model parameters for one generation. Zero fields are
// omitted so the server default applies.
type GenerateOptions struct {
	Temperature float64
	NumCtx      int
	Seed        int
	Stop        []string
	// KeepAlive is passed through as Ollama's keep_alive (e.g. "5m", "0").
	KeepAlive string
	// Format is "json" to force a JSON reply; empty for free text.
	Format string
}

// GenerateResult is the reply plus the server's timing and token counters.
// Durations are as reported by Ollama.
type GenerateResult struct {
	Model              string
	Response           string
	DoneReason         string
	PromptEvalCount    int
	EvalCount          int
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
}

type generateOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	Seed        int      `json:"seed,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model     string           `json:"model"`
	System    string           `json:"system,omitempty"`
	Prompt    string           `json:"prompt"`
	Stream    bool             `json:"stream"`
	Format    string           `json:"format,omitempty"`
	KeepAlive string           `json:"keep_alive,omitempty"`
	Options   *generateOptions `json:"options,omitempty"`
}

type generateResponse struct {
	Model              string `json:"model"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	EvalCount          int    `json:"eval_count"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalDuration       int64  `json:"eval_duration"`
	Error              string `json:"error"`
}

// Generate POSTs one non-streaming request to /api/generate. opts may be nil.
// Errors match ErrUnreachable (transport or non-2xx), ErrModelNotFound (404)
// or ErrEmptyResponse; context cancellation is returned as the context error.
func (c *Client) Generate(ctx context.Context, model, systemPrompt, userPrompt string, opts *GenerateOptions) (*GenerateResult, error) {
	body := generateRequest{Model: model, System: systemPrompt, Prompt: userPrompt}
	if opts != nil {
		body.Format = opts.Format
		body.KeepAlive = opts.KeepAlive
		o := &generateOptions{NumCtx: opts.NumCtx, Seed: opts.Seed, Stop: opts.Stop}
		if opts.Temperature != 0 {
			t := opts.Temperature
			o.Temperature = &t
		}
		if o.Temperature != nil || o.NumCtx != 0 || o.Seed != 0 || len(o.Stop) > 0 {
			body.Options = o
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "ollama generate: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "ollama generate request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "ollama generate")
		}
		return nil, errors.Wrap(errors.Mark(err, ErrUnreachable), "ollama generate")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := serverError(snippet)
		if resp.StatusCode == http.StatusNotFound {
			return nil, errors.Mark(errors.Newf("ollama generate: model %q: HTTP 404: %s", model, msg), ErrModelNotFound)
		}
		return nil, errors.Mark(errors.Newf("ollama generate: HTTP %d: %s", resp.StatusCode, msg), ErrUnreachable)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "ollama generate: parse response")
	}
	if out.Error != "" {
		return nil, errors.Newf("ollama generate: %s", out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, errors.Wrapf(ErrEmptyResponse, "ollama generate: model %q", model)
	}
	return &GenerateResult{
		Model:              out.Model,
		Response:           out.Response,
		DoneReason:         out.DoneReason,
		PromptEvalCount:    out.PromptEvalCount,
		EvalCount:          out.EvalCount,
		TotalDuration:      time.Duration(out.TotalDuration),
		LoadDuration:       time.Duration(out.LoadDuration),
		PromptEvalDuration: time.Duration(out.PromptEvalDuration),
		EvalDuration:       time.Duration(out.EvalDuration),
	}, nil
}

// serverError extracts {"error": "..."} from an Ollama error body, falling
// back to the raw text.
func serverError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
