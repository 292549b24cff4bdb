package localinfer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/catalog"
	"github.com/memoflow/distill/pkg/guardrail"
	"github.com/memoflow/distill/pkg/infra/eventbus"
	"github.com/memoflow/distill/pkg/infra/logger"
)

const completionMaxTokens = 512

// Backend produces analysis envelopes from the local runtime, guarded by
// the device health monitor.
type Backend struct {
	runtime  Runtime
	monitor  *guardrail.Monitor
	selector *catalog.Selector
	root     string
	bus      eventbus.EventBus

	mu     sync.Mutex
	loaded catalog.LocalModel
}

// NewBackend wires a backend over runtime. root is the model storage
// directory; bus may be nil.
func NewBackend(runtime Runtime, monitor *guardrail.Monitor, selector *catalog.Selector, root string, bus eventbus.EventBus) *Backend {
	return &Backend{
		runtime:  runtime,
		monitor:  monitor,
		selector: selector,
		root:     root,
		bus:      bus,
	}
}

// Available reports whether the local path is currently usable: health
// permits inference and at least one viable model exists.
func (b *Backend) Available(desired catalog.LocalModel) bool {
	if b.monitor.HealthStatus() >= guardrail.DeferInference {
		return false
	}
	_, err := b.selector.Pick(desired)
	return err == nil
}

// Close releases the runtime. The owner calls this when the host app is
// backgrounded.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	b.loaded = catalog.LocalModel{}
	b.mu.Unlock()
	if b.bus != nil {
		_ = b.bus.Publish(eventbus.NewEvent(eventbus.DomainModel, eventbus.TypeModelReleased, "", nil))
	}
	return b.runtime.Close(ctx)
}

// Analyze runs one analysis locally. The transcript is sanitized before
// prompting; the operation runs under the guardrail timeout race with
// the mode's budget; distill fans out its components in parallel against
// the one resident model.
func (b *Backend) Analyze(ctx context.Context, mode analysis.Mode, transcript string, desired catalog.LocalModel, onProgress analysis.ProgressFunc) (*analysis.Envelope, error) {
	if err := b.precheck(); err != nil {
		return nil, err
	}

	model, err := b.ensureLoaded(ctx, desired)
	if err != nil {
		return nil, err
	}

	clean, removed := guardrail.SanitizeTranscript(transcript)
	if removed > 0 {
		logger.WithContext(ctx).Info("transcript sanitized before local inference", "removed", removed)
	}

	var envelope *analysis.Envelope
	err = b.monitor.WithTimeout(ctx, mode.Timeout(), func(opCtx context.Context) error {
		var opErr error
		if mode == analysis.ModeDistill {
			envelope, opErr = b.analyzeDistill(opCtx, clean, model, onProgress)
		} else {
			envelope, opErr = b.analyzeSingle(opCtx, mode, clean, model)
		}
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

// precheck blocks or defers inference on current device health. Elevated
// but non-critical memory proceeds with the mid-flight checks watching.
func (b *Backend) precheck() error {
	switch b.monitor.HealthStatus() {
	case guardrail.BlockInference, guardrail.DeferInference:
		if err := b.monitor.CheckThermal(); err != nil {
			return err
		}
		if err := b.monitor.CheckMemory(); err != nil {
			return err
		}
		return analysis.NewError(analysis.ErrCodeSafeguardTriggered, "device health forbids local inference")
	}
	return nil
}

// ensureLoaded makes a viable model resident, walking the catalog
// fallback chain when a load fails.
func (b *Backend) ensureLoaded(ctx context.Context, desired catalog.LocalModel) (catalog.LocalModel, error) {
	picked, err := b.selector.Pick(desired)
	if err != nil {
		return catalog.LocalModel{}, err
	}

	candidates := []catalog.LocalModel{picked}
	for _, m := range catalog.All() {
		if m.ID != picked.ID && b.selector.Viable(m) {
			candidates = append(candidates, m)
		}
	}

	var lastErr error
	for _, m := range candidates {
		paths, err := m.WeightPaths(b.root)
		if err != nil || len(paths) == 0 {
			lastErr = analysis.NewError(analysis.ErrCodeModelNotDownloaded, "model weights missing").
				WithDetails("model", m.ID)
			continue
		}
		if b.runtime.Loaded() == paths[0] {
			return m, nil
		}
		if err := b.runtime.Load(ctx, paths[0]); err != nil {
			lastErr = err
			logger.Warn("model load failed, trying fallback", "model", m.ID, "error", err)
			continue
		}
		b.mu.Lock()
		b.loaded = m
		b.mu.Unlock()
		if b.bus != nil {
			_ = b.bus.Publish(eventbus.NewEvent(eventbus.DomainModel, eventbus.TypeModelLoaded, m.ID, nil))
		}
		return m, nil
	}

	return catalog.LocalModel{}, analysis.WrapError(lastErr, analysis.ErrCodeModelLoadFailed, "no local model could be loaded")
}

func (b *Backend) analyzeSingle(ctx context.Context, mode analysis.Mode, transcript string, model catalog.LocalModel) (*analysis.Envelope, error) {
	kind := mode.ResponseKind()
	prompt := BuildPrompt(kind, transcript)

	start := time.Now()
	raw, err := b.runtime.Complete(ctx, prompt, completionMaxTokens)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	result, err := ParseResponse(kind, raw)
	if err != nil {
		return nil, err
	}

	return &analysis.Envelope{
		Mode:      mode,
		Result:    result,
		Model:     model.ID,
		Tokens:    estimateTokens(prompt, raw),
		LatencyMS: latency.Milliseconds(),
	}, nil
}

// analyzeDistill fans the four distill components out in parallel. The
// reported latency is the slowest component since they run concurrently.
func (b *Backend) analyzeDistill(ctx context.Context, transcript string, model catalog.LocalModel, onProgress analysis.ProgressFunc) (*analysis.Envelope, error) {
	partial := analysis.NewPartialDistill(len(distillComponents))

	var mu sync.Mutex
	var maxLatency time.Duration
	var tokens analysis.TokenUsage
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range distillComponents {
		g.Go(func() error {
			prompt := BuildPrompt(kind, transcript)
			start := time.Now()
			raw, err := b.runtime.Complete(gctx, prompt, completionMaxTokens)
			if err != nil {
				return err
			}
			latency := time.Since(start)

			result, err := ParseResponse(kind, raw)
			if err != nil {
				return err
			}
			switch kind {
			case analysis.KindSummary:
				partial.SetSummary(result.Summary.Summary)
			case analysis.KindActions:
				partial.SetActionItems(result.Actions.Items)
			case analysis.KindThemes:
				partial.SetKeyThemes(result.Themes.Themes)
			case analysis.KindQuestions:
				partial.SetReflectionQuestions(result.Questions.Questions)
			}

			mu.Lock()
			if latency > maxLatency {
				maxLatency = latency
			}
			t := estimateTokens(prompt, raw)
			tokens.Input += t.Input
			tokens.Output += t.Output
			completed++
			done := completed
			mu.Unlock()

			if onProgress != nil {
				onProgress(analysis.Progress{
					Component: string(kind),
					Completed: done,
					Total:     len(distillComponents),
				}, partial.Snapshot())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := partial.Complete()
	if err != nil {
		return nil, err
	}

	return &analysis.Envelope{
		Mode:      analysis.ModeDistill,
		Result:    analysis.Result{Kind: analysis.KindDistill, Distill: data},
		Model:     model.ID,
		Tokens:    tokens,
		LatencyMS: maxLatency.Milliseconds(),
	}, nil
}

// estimateTokens approximates usage from character counts; the local
// server does not report exact numbers through the completion endpoint.
func estimateTokens(prompt, output string) analysis.TokenUsage {
	return analysis.TokenUsage{
		Input:  len(prompt) / 4,
		Output: len(output) / 4,
	}
}
