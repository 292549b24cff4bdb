package analysis

import (
	"encoding/json"
)

// TokenUsage carries the token accounting reported by a backend.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Moderation is the optional content-moderation verdict on a result.
type Moderation struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories,omitempty"`
}

// Envelope wraps one completed analysis result with its provenance
// metadata. Envelopes are immutable once created and cached keyed by
// (memo ID, mode).
type Envelope struct {
	Mode       Mode        `json:"mode"`
	Result     Result      `json:"-"`
	Model      string      `json:"model"`
	Tokens     TokenUsage  `json:"tokens"`
	LatencyMS  int64       `json:"latency_ms"`
	Moderation *Moderation `json:"moderation,omitempty"`
}

// wireEnvelope matches the server response shape; data is decoded
// per-mode in a second step.
type wireEnvelope struct {
	Data       json.RawMessage `json:"data"`
	Model      string          `json:"model"`
	Tokens     TokenUsage      `json:"tokens"`
	LatencyMS  int64           `json:"latency_ms"`
	Moderation *Moderation     `json:"moderation,omitempty"`
}

// DecodeEnvelope parses a server JSON envelope for the given mode.
func DecodeEnvelope(mode Mode, body []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, WrapError(err, ErrCodeDecoding, "decode envelope").
			WithDetails("mode", string(mode)).
			WithDetails("body", string(body))
	}
	result, err := DecodeResult(mode, w.Data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Mode:       mode,
		Result:     result,
		Model:      w.Model,
		Tokens:     w.Tokens,
		LatencyMS:  w.LatencyMS,
		Moderation: w.Moderation,
	}, nil
}

// EncodeEnvelope serializes an envelope back to the wire shape, used by
// the persistent cache tier.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e.Result.Payload())
	if err != nil {
		return nil, WrapError(err, ErrCodeRequestEncode, "encode result payload")
	}
	w := wireEnvelope{
		Data:       data,
		Model:      e.Model,
		Tokens:     e.Tokens,
		LatencyMS:  e.LatencyMS,
		Moderation: e.Moderation,
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, WrapError(err, ErrCodeRequestEncode, "encode envelope")
	}
	return out, nil
}
