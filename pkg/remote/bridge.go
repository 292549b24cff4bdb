package remote

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/memoflow/distill/pkg/analysis"
)

// Transport starts a background transfer. Implementations hand the
// request to an OS transfer service that keeps running while the app is
// suspended; completion callbacks land in the TransferBridge under the
// same correlation ID.
type Transport interface {
	Start(ctx context.Context, correlationID string, req *http.Request) error
}

type outcome struct {
	data []byte
	err  error
}

type pendingCall struct {
	buf  bytes.Buffer
	done chan outcome
}

// TransferBridge converts delegate-style transfer callbacks into
// blocking calls. One goroutine registers and awaits; the transfer's
// callback goroutines append received bytes and finally resolve or fail.
// The bridge's mutex is the single owner of all pending state.
type TransferBridge struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewTransferBridge creates an empty bridge.
func NewTransferBridge() *TransferBridge {
	return &TransferBridge{pending: make(map[string]*pendingCall)}
}

// Register creates a pending slot for correlationID. Registering an ID
// twice replaces the old slot, failing its waiter.
func (b *TransferBridge) Register(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.pending[correlationID]; ok {
		old.done <- outcome{err: analysis.NewError(analysis.ErrCodeNetwork, "transfer superseded")}
	}
	b.pending[correlationID] = &pendingCall{done: make(chan outcome, 1)}
}

// Append buffers received bytes for an in-flight transfer. Appending to
// an unknown ID is a no-op; the transfer was cancelled or already
// settled.
func (b *TransferBridge) Append(correlationID string, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if call, ok := b.pending[correlationID]; ok {
		call.buf.Write(p)
	}
}

// Resolve completes the transfer, delivering everything appended so far
// to the waiter.
func (b *TransferBridge) Resolve(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	call, ok := b.pending[correlationID]
	if !ok {
		return
	}
	delete(b.pending, correlationID)
	call.done <- outcome{data: call.buf.Bytes()}
}

// Fail completes the transfer with an error. Buffered bytes are
// discarded.
func (b *TransferBridge) Fail(correlationID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	call, ok := b.pending[correlationID]
	if !ok {
		return
	}
	delete(b.pending, correlationID)
	call.done <- outcome{err: err}
}

// Await blocks until the transfer settles or ctx is cancelled.
// Cancellation abandons the slot so a late callback cannot leak.
func (b *TransferBridge) Await(ctx context.Context, correlationID string) ([]byte, error) {
	b.mu.Lock()
	call, ok := b.pending[correlationID]
	b.mu.Unlock()
	if !ok {
		return nil, analysis.NewError(analysis.ErrCodeNetwork, "no pending transfer").
			WithDetails("correlation_id", correlationID)
	}

	select {
	case out := <-call.done:
		return out.data, out.err
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, correlationID)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Pending reports how many transfers are awaiting completion.
func (b *TransferBridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// AnalyzeViaTransfer issues the request through a background transport
// and blocks on the bridge until the transfer delivers the response
// body. Used when the host app may be suspended mid-request.
func (c *Client) AnalyzeViaTransfer(ctx context.Context, req Request, transport Transport, bridge *TransferBridge) (*analysis.Envelope, error) {
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

	id := uuid.New().String()
	bridge.Register(id)
	if err := transport.Start(ctx, id, httpReq); err != nil {
		bridge.Fail(id, err)
	}

	data, err := bridge.Await(ctx, id)
	if err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeNetwork, "background transfer failed").
			WithDetails("mode", string(req.Mode))
	}
	return analysis.DecodeEnvelope(req.Mode, data)
}
