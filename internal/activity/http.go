package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/strandhq/strand/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPConfig configures the http.request activity.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "timeout": {"type": "string"},
    "fail_on_error_status": {"type": "boolean", "default": false}
  },
  "required": ["url"]
}`

const httpRequestOutputSchema = `{
  "type": "object",
  "properties": {
    "status_code": {"type": "integer"},
    "status": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "duration_ms": {"type": "integer"}
  }
}`

// HTTPRequestActivity implements the "http.request" activity.
type HTTPRequestActivity struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPRequestActivity creates a new http.request activity.
func NewHTTPRequestActivity(cfg HTTPConfig) *HTTPRequestActivity {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequestActivity{
		config: cfg,
		client: &http.Client{Timeout: cfg.DefaultTimeout},
	}
}

func (a *HTTPRequestActivity) Name() string { return "http.request" }

func (a *HTTPRequestActivity) Schema() ActivitySchema {
	return ActivitySchema{
		Description:  "Execute an HTTP request with control over method, headers, and body.",
		InputSchema:  json.RawMessage(httpRequestInputSchema),
		OutputSchema: json.RawMessage(httpRequestOutputSchema),
	}
}

func (a *HTTPRequestActivity) Validate(params map[string]any) error {
	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "http.request: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("http.request: invalid url %q", rawURL))
	}
	return nil
}

func (a *HTTPRequestActivity) Execute(ctx context.Context, input ActivityInput) (*ActivityResult, error) {
	params := input.Params
	method := strings.ToUpper(stringParam(params, "method", "GET"))
	rawURL := stringParam(params, "url", "")

	var body io.Reader
	if raw, ok := params["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "http.request: encode body: %s", err.Error())
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "http.request: build request: %s", err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range mapParam(params, "headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	client := a.client
	if raw := stringParam(params, "timeout", ""); raw != "" {
		if d, perr := time.ParseDuration(raw); perr == nil && d > 0 {
			client = &http.Client{Timeout: d}
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		// Transport failures are transient by classification.
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: read body: %s", err.Error()).WithCause(err)
	}

	var parsedBody any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if json.Unmarshal(raw, &decoded) == nil {
			parsedBody = decoded
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if failOn, _ := params["fail_on_error_status"].(bool); failOn && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.request: status %s", resp.Status)
	}

	return &ActivityResult{Data: map[string]any{
		"status_code": resp.StatusCode,
		"status":      resp.Status,
		"headers":     headers,
		"body":        parsedBody,
		"duration_ms": time.Since(start).Milliseconds(),
	}}, nil
}
