package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/catalog"
	"github.com/memoflow/distill/pkg/guardrail"
	"github.com/memoflow/distill/pkg/infra/eventbus"
	"github.com/memoflow/distill/pkg/infra/logger"
)

// State is the download lifecycle of one model.
type State int

const (
	StateNotDownloaded State = iota
	StateDownloading
	StateDownloaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotDownloaded:
		return "not_downloaded"
	case StateDownloading:
		return "downloading"
	case StateDownloaded:
		return "downloaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Progress is a whole-download progress sample. Fraction counts finished
// shards plus the in-flight shard's byte fraction over the shard total.
type Progress struct {
	ModelID  string
	File     string
	Fraction float64
}

// minUsableBytes rejects downloads that completed but are too small to be
// real weights (error pages saved as files, truncated transfers).
const minUsableBytes = 10 * 1024 * 1024

// Coordinator owns download state for all catalog models. All state maps
// are guarded by a single mutex; per-model transfers run on the caller's
// goroutine so cancellation follows the caller's context plus Cancel.
type Coordinator struct {
	registry *RegistryClient
	root     string
	bus      eventbus.EventBus
	diskFree func(path string) (uint64, error)

	mu      sync.Mutex
	states  map[string]State
	frac    map[string]float64
	cancels map[string]context.CancelFunc
}

// NewCoordinator builds a coordinator storing weights under root.
// bus may be nil when no observer cares about progress events.
func NewCoordinator(registry *RegistryClient, root string, bus eventbus.EventBus) *Coordinator {
	return &Coordinator{
		registry: registry,
		root:     root,
		bus:      bus,
		diskFree: guardrail.DiskFree,
		states:   make(map[string]State),
		frac:     make(map[string]float64),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// State reports the model's download state. When no transfer is active
// the state is re-derived from disk, so external deletion of weights is
// observed on the next call.
func (c *Coordinator) State(m catalog.LocalModel) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[m.ID]; ok && s == StateDownloading {
		return s
	}
	if m.Downloaded(c.root) {
		return StateDownloaded
	}
	if s, ok := c.states[m.ID]; ok && s == StateFailed {
		return s
	}
	return StateNotDownloaded
}

// Fraction reports in-flight progress in [0,1].
func (c *Coordinator) Fraction(modelID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frac[modelID]
}

// Cancel aborts an in-flight download, removes partial files and resets
// the model to not-downloaded. Cancelling an idle model is a no-op.
func (c *Coordinator) Cancel(modelID string) {
	c.mu.Lock()
	cancel := c.cancels[modelID]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Delete removes a model's weights from disk.
func (c *Coordinator) Delete(m catalog.LocalModel) error {
	c.mu.Lock()
	if c.states[m.ID] == StateDownloading {
		c.mu.Unlock()
		return fmt.Errorf("model %s is downloading, cancel first", m.ID)
	}
	delete(c.states, m.ID)
	delete(c.frac, m.ID)
	c.mu.Unlock()
	return os.RemoveAll(m.Dir(c.root))
}

// Download fetches all weight files for m sequentially. Shards are
// written as separate files and never joined; llama.cpp resolves the
// shard set from the first file. Progress lands on onProgress and the
// event bus. A failed or cancelled download leaves no partial files.
func (c *Coordinator) Download(ctx context.Context, m catalog.LocalModel, onProgress func(Progress)) error {
	c.mu.Lock()
	if c.states[m.ID] == StateDownloading {
		c.mu.Unlock()
		return fmt.Errorf("model %s already downloading", m.ID)
	}
	if m.Downloaded(c.root) {
		c.states[m.ID] = StateDownloaded
		c.mu.Unlock()
		return nil
	}
	dlCtx, cancel := context.WithCancel(ctx)
	c.states[m.ID] = StateDownloading
	c.frac[m.ID] = 0
	c.cancels[m.ID] = cancel
	c.mu.Unlock()

	err := c.download(dlCtx, m, onProgress)

	c.mu.Lock()
	delete(c.cancels, m.ID)
	cancelled := dlCtx.Err() != nil && ctx.Err() == nil
	switch {
	case err == nil:
		c.states[m.ID] = StateDownloaded
		c.frac[m.ID] = 1
	case cancelled || ctx.Err() != nil:
		c.states[m.ID] = StateNotDownloaded
		delete(c.frac, m.ID)
	default:
		c.states[m.ID] = StateFailed
		delete(c.frac, m.ID)
	}
	c.mu.Unlock()
	cancel()

	if err != nil {
		_ = os.RemoveAll(m.Dir(c.root))
		if cancelled {
			c.publish(eventbus.TypeDownloadCancelled, m.ID, nil)
			return context.Canceled
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.publish(eventbus.TypeDownloadCancelled, m.ID, nil)
			return ctxErr
		}
		c.publish(eventbus.TypeDownloadFailed, m.ID, err.Error())
		return err
	}
	c.publish(eventbus.TypeDownloadCompleted, m.ID, nil)
	return nil
}

func (c *Coordinator) download(ctx context.Context, m catalog.LocalModel, onProgress func(Progress)) error {
	files, err := c.registry.ResolveFiles(ctx, m.Repo, m.Quant)
	if err != nil {
		return err
	}

	if err := c.preflight(m); err != nil {
		return err
	}

	dir := m.Dir(c.root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	c.publish(eventbus.TypeDownloadStarted, m.ID, files)
	logger.Info("starting model download", "model", m.ID, "repo", m.Repo, "files", len(files))

	total := len(files)
	for i, filename := range files {
		report := func(done, fileTotal int64) {
			frac := float64(i) / float64(total)
			if fileTotal > 0 {
				frac += float64(done) / float64(fileTotal) / float64(total)
			}
			c.mu.Lock()
			c.frac[m.ID] = frac
			c.mu.Unlock()
			if onProgress != nil {
				onProgress(Progress{ModelID: m.ID, File: filename, Fraction: frac})
			}
		}

		n, err := c.fetchOne(ctx, m.Repo, filename, filepath.Join(dir, filename), report)
		if err != nil {
			return err
		}
		// Each file carries the floor on its own. A truncated shard must
		// not hide behind healthy siblings.
		if n < minUsableBytes {
			return analysis.NewError(analysis.ErrCodeModelNotAvailable, "downloaded weight file below integrity floor").
				WithDetails("model", m.ID).
				WithDetails("file", filename).
				WithDetails("bytes", n)
		}
		c.publish(eventbus.TypeDownloadProgress, m.ID, Progress{
			ModelID:  m.ID,
			File:     filename,
			Fraction: float64(i+1) / float64(total),
		})
	}
	return nil
}

func (c *Coordinator) fetchOne(ctx context.Context, repo, filename, dest string, report func(done, total int64)) (int64, error) {
	reader, _, err := c.registry.FetchFile(ctx, repo, filename, report)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	file, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(file, reader)
	if err != nil {
		return 0, analysis.WrapError(err, analysis.ErrCodeNetwork, "write weight file").
			WithDetails("filename", filename)
	}
	return n, nil
}

// preflight rejects a download when the filesystem clearly cannot hold
// the weights. Probe failure does not block; the transfer itself will
// surface a real disk-full error.
func (c *Coordinator) preflight(m catalog.LocalModel) error {
	free, err := c.diskFree(c.root)
	if err != nil {
		logger.Warn("disk space probe failed", "error", err)
		return nil
	}
	need := uint64(m.ApproxSizeMB) * 1024 * 1024
	if free < need {
		return analysis.NewError(analysis.ErrCodeModelNotAvailable, "insufficient disk space for model").
			WithDetails("model", m.ID).
			WithDetails("free", free).
			WithDetails("needed", need)
	}
	return nil
}

// EnsureAny downloads desired, walking the catalog fallback chain when a
// candidate fails, and returns the model that ended up on disk.
func (c *Coordinator) EnsureAny(ctx context.Context, desired catalog.LocalModel, onProgress func(Progress)) (catalog.LocalModel, error) {
	candidates := []catalog.LocalModel{desired}
	for _, m := range catalog.All() {
		if m.ID != desired.ID {
			candidates = append(candidates, m)
		}
	}

	var lastErr error
	for _, m := range candidates {
		if err := ctx.Err(); err != nil {
			return catalog.LocalModel{}, err
		}
		err := c.Download(ctx, m, onProgress)
		if err == nil {
			return m, nil
		}
		lastErr = err
		logger.Warn("model download failed, trying next candidate", "model", m.ID, "error", err)
	}
	return catalog.LocalModel{}, analysis.WrapError(lastErr, analysis.ErrCodeModelLoadFailed, "all download candidates failed")
}

func (c *Coordinator) publish(eventType, modelID string, data any) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(eventbus.NewEvent(eventbus.DomainDownload, eventType, modelID, data))
}
