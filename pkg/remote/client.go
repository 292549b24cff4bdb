// Package remote talks to the cloud analysis API. It supports a plain
// request/response path, an SSE streaming path for multi-part analyses,
// and a background-transfer path bridged through TransferBridge.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/guardrail"
	"github.com/memoflow/distill/pkg/infra/logger"
)

// Request is one analysis request bound for the cloud API.
type Request struct {
	Mode              analysis.Mode
	Transcript        string
	IsPro             bool
	HistoricalContext []string
}

type wireRequest struct {
	Mode              string   `json:"mode"`
	Transcript        string   `json:"transcript"`
	IsPro             bool     `json:"isPro"`
	Stream            bool     `json:"stream"`
	HistoricalContext []string `json:"historicalContext,omitempty"`
}

// Client calls the cloud /analyze endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport, for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client for the API at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			// Per-request deadlines come from the mode timeout on the
			// context; no blanket client timeout on top.
			Timeout: 0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// encodeRequest sanitizes the transcript and produces the wire body. The
// caller's transcript is never mutated; only the transmitted copy is
// cleaned.
func encodeRequest(ctx context.Context, req Request, stream bool) ([]byte, error) {
	clean, removed := guardrail.SanitizeTranscript(req.Transcript)
	if removed > 0 {
		logger.WithContext(ctx).Info("transcript sanitized before upload",
			"removed", removed, "length", len(clean))
	}
	body, err := json.Marshal(wireRequest{
		Mode:              string(req.Mode),
		Transcript:        clean,
		IsPro:             req.IsPro,
		Stream:            stream,
		HistoricalContext: req.HistoricalContext,
	})
	if err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeRequestEncode, "encode analyze request")
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, req Request, body []byte, stream bool) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeRequestEncode, "create analyze request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.Mode.RequiresPro() {
		httpReq.Header.Set("X-Entitlement", "pro")
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// Analyze runs the request synchronously. The context is bounded by the
// mode's timeout; 402 maps to the payment-required code so the caller
// can raise the upgrade path instead of a generic failure.
func (c *Client) Analyze(ctx context.Context, req Request) (*analysis.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Mode.Timeout())
	defer cancel()

	body, err := encodeRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, req, body, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeNetwork, "analyze request").
			WithDetails("mode", string(req.Mode))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeNetwork, "read analyze response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, analysis.NewServerError(resp.StatusCode, string(data)).
			WithDetails("mode", string(req.Mode))
	}

	env, err := analysis.DecodeEnvelope(req.Mode, data)
	if err != nil {
		return nil, err
	}
	if env.LatencyMS == 0 {
		env.LatencyMS = time.Since(start).Milliseconds()
	}
	return env, nil
}

// interimPayload is the data of one "interim" SSE event.
type interimPayload struct {
	Component string          `json:"component"`
	Completed int             `json:"completedCount"`
	Total     int             `json:"totalCount"`
	Data      json.RawMessage `json:"partialData"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AnalyzeStream runs the request over SSE. Interim events reach
// onProgress in wire order; the final event is authoritative and
// terminates processing regardless of anything buffered after it. A
// stream that ends without a final event is a hard error, not a partial
// success. Connection failures and non-SSE responses transparently
// retry on the sync path.
func (c *Client) AnalyzeStream(ctx context.Context, req Request, onProgress analysis.ProgressFunc) (*analysis.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Mode.Timeout())
	defer cancel()

	body, err := encodeRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, req, body, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.WithContext(ctx).Warn("stream connect failed, retrying sync", "error", err)
		return c.Analyze(ctx, req)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode == http.StatusOK && mediaType != "text/event-stream" {
		resp.Body.Close()
		logger.WithContext(ctx).Warn("server did not stream, retrying sync", "content_type", mediaType)
		return c.Analyze(ctx, req)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, analysis.NewServerError(resp.StatusCode, string(data)).
			WithDetails("mode", string(req.Mode))
	}

	partial := analysis.NewPartialDistill(0)
	scanner := newSSEScanner(resp.Body)

	for scanner.Scan() {
		event := scanner.Event()
		switch event.Type {
		case "interim":
			c.handleInterim(ctx, event.Data, partial, onProgress)
		case "final":
			env, err := analysis.DecodeEnvelope(req.Mode, []byte(event.Data))
			if err != nil {
				return nil, err
			}
			return env, nil
		case "error":
			var ep errorPayload
			_ = json.Unmarshal([]byte(event.Data), &ep)
			if ep.Message == "" {
				ep.Message = "server reported a stream error"
			}
			return nil, analysis.NewError(analysis.ErrCodeServer, ep.Message).
				WithDetails("server_code", ep.Code)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeStreamIncomplete, "stream read failed")
	}
	return nil, analysis.NewError(analysis.ErrCodeStreamIncomplete, "stream ended without final event").
		WithDetails("mode", string(req.Mode))
}

// handleInterim folds one interim event into the running partial and
// notifies the caller. Malformed interim events are logged and skipped;
// only the final event decides success.
func (c *Client) handleInterim(ctx context.Context, data string, partial *analysis.PartialDistill, onProgress analysis.ProgressFunc) {
	var ip interimPayload
	if err := json.Unmarshal([]byte(data), &ip); err != nil {
		logger.WithContext(ctx).Warn("skipping malformed interim event", "error", err)
		return
	}

	switch ip.Component {
	case "summary":
		var v analysis.SummaryData
		if json.Unmarshal(ip.Data, &v) == nil {
			partial.SetSummary(v.Summary)
		}
	case "actions":
		var v analysis.ActionsData
		if json.Unmarshal(ip.Data, &v) == nil {
			partial.SetActionItems(v.Items)
		}
	case "themes":
		var v analysis.ThemesData
		if json.Unmarshal(ip.Data, &v) == nil {
			partial.SetKeyThemes(v.Themes)
		}
	case "questions":
		var v analysis.QuestionsData
		if json.Unmarshal(ip.Data, &v) == nil {
			partial.SetReflectionQuestions(v.Questions)
		}
	case "personal_insight":
		var v analysis.InsightData
		if json.Unmarshal(ip.Data, &v) == nil {
			partial.SetPersonalInsight(v.Insight)
		}
	case "closing_note":
		var v analysis.ClosingNoteData
		if json.Unmarshal(ip.Data, &v) == nil {
			partial.SetClosingNote(v.Note)
		}
	}

	if onProgress != nil {
		onProgress(analysis.Progress{
			Component: ip.Component,
			Completed: ip.Completed,
			Total:     ip.Total,
		}, partial.Snapshot())
	}
}
