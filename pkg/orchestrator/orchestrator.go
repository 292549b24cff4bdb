// Package orchestrator routes analysis requests: cache tiers first, then
// the local backend when the device can carry the work, then the cloud.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/catalog"
	"github.com/memoflow/distill/pkg/infra/cache"
	"github.com/memoflow/distill/pkg/infra/eventbus"
	"github.com/memoflow/distill/pkg/infra/logger"
	"github.com/memoflow/distill/pkg/infra/store"
	"github.com/memoflow/distill/pkg/remote"
)

// EntitlementChecker answers the live subscription question. It is asked
// on every distill request, never cached, so a purchase completed seconds
// ago takes effect on the next analysis.
type EntitlementChecker interface {
	IsPro(ctx context.Context) bool
}

// LocalBackend is the on-device inference surface.
type LocalBackend interface {
	Available(desired catalog.LocalModel) bool
	Analyze(ctx context.Context, mode analysis.Mode, transcript string, desired catalog.LocalModel, onProgress analysis.ProgressFunc) (*analysis.Envelope, error)
}

// RemoteBackend is the cloud analysis surface.
type RemoteBackend interface {
	Analyze(ctx context.Context, req remote.Request) (*analysis.Envelope, error)
	AnalyzeStream(ctx context.Context, req remote.Request, onProgress analysis.ProgressFunc) (*analysis.Envelope, error)
}

// Request is one analysis job for a memo.
type Request struct {
	// OperationID correlates the job in logs, events and Cancel. A fresh
	// uuid is assigned when empty.
	OperationID       string
	MemoID            string
	Transcript        string
	Mode              analysis.Mode
	HistoricalContext []string
	OnProgress        analysis.ProgressFunc
}

// Config carries the routing knobs.
type Config struct {
	// StrictLocal pins analysis to the device. Remote fallback is
	// disabled; local failure is the final answer.
	StrictLocal bool
	// PreferredModelID names the local model to try first. Empty means
	// the catalog default.
	PreferredModelID string
	// CacheTTL bounds the in-memory tier. Zero keeps entries until
	// invalidation.
	CacheTTL time.Duration
}

// Orchestrator owns the analyze path end to end.
type Orchestrator struct {
	cfg          Config
	cache        cache.EnvelopeCache
	store        store.EnvelopeStore
	local        LocalBackend
	remote       RemoteBackend
	entitlements EntitlementChecker
	bus          eventbus.EventBus

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires an orchestrator. local, store and bus may be nil; the
// corresponding tier is skipped.
func New(cfg Config, envCache cache.EnvelopeCache, envStore store.EnvelopeStore, local LocalBackend, rb RemoteBackend, entitlements EntitlementChecker, bus eventbus.EventBus) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		cache:        envCache,
		store:        envStore,
		local:        local,
		remote:       rb,
		entitlements: entitlements,
		bus:          bus,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// resolveMode applies the live entitlement check. Distill-family requests
// land on the tier the user is entitled to right now; the caller's stale
// idea of its own tier is ignored.
func (o *Orchestrator) resolveMode(ctx context.Context, mode analysis.Mode) (analysis.Mode, bool) {
	pro := o.entitlements != nil && o.entitlements.IsPro(ctx)
	if mode == analysis.ModeDistill || mode == analysis.ModeLiteDistill {
		if pro {
			return analysis.ModeDistill, true
		}
		return analysis.ModeLiteDistill, false
	}
	return mode, pro
}

// Analyze runs one analysis request to completion. Results come from the
// memory cache, then the sqlite store, then a backend; backend successes
// write through both tiers.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*analysis.Envelope, error) {
	if req.OperationID == "" {
		req.OperationID = uuid.New().String()
	}
	mode, pro := o.resolveMode(ctx, req.Mode)

	ctx = logger.SetOperationID(ctx, req.OperationID)
	ctx = logger.SetMemoID(ctx, req.MemoID)
	log := logger.WithContext(ctx)

	if env, ok := o.lookup(ctx, req.MemoID, mode); ok {
		log.Debug("analysis served from cache", "mode", string(mode))
		return env, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	o.register(req.OperationID, cancel)
	defer o.release(req.OperationID)

	o.publish(eventbus.DomainAnalysis, eventbus.TypeAnalysisStarted, req.MemoID, map[string]any{
		"operation_id": req.OperationID,
		"mode":         string(mode),
	})

	env, err := o.dispatch(ctx, req, mode, pro)
	if err != nil {
		o.publish(eventbus.DomainAnalysis, eventbus.TypeAnalysisFailed, req.MemoID, map[string]any{
			"operation_id": req.OperationID,
			"mode":         string(mode),
			"error":        err.Error(),
		})
		return nil, err
	}

	o.storeResult(ctx, req.MemoID, env)
	o.publish(eventbus.DomainAnalysis, eventbus.TypeAnalysisCompleted, req.MemoID, map[string]any{
		"operation_id": req.OperationID,
		"mode":         string(mode),
		"model":        env.Model,
	})
	return env, nil
}

// dispatch picks a backend and runs the request. Local failures fall back
// to the cloud unless strict-local pins the device.
func (o *Orchestrator) dispatch(ctx context.Context, req Request, mode analysis.Mode, pro bool) (*analysis.Envelope, error) {
	log := logger.WithContext(ctx)
	onProgress := o.progressFunc(req)

	desired := o.localModel()
	useLocal := o.local != nil && o.local.Available(desired)

	if o.cfg.StrictLocal {
		if o.local == nil {
			return nil, analysis.NewError(analysis.ErrCodeModelLoadFailed, "strict local mode with no local backend")
		}
		return o.local.Analyze(ctx, mode, req.Transcript, desired, onProgress)
	}

	if useLocal {
		env, err := o.local.Analyze(ctx, mode, req.Transcript, desired, onProgress)
		if err == nil {
			return env, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Warn("local analysis failed, falling back to cloud", "error", err)
	}

	rreq := remote.Request{
		Mode:       mode,
		Transcript: req.Transcript,
		IsPro:      pro,
	}
	if mode.RequiresPro() {
		rreq.HistoricalContext = req.HistoricalContext
	}
	if mode.MultiPart() {
		return o.remote.AnalyzeStream(ctx, rreq, onProgress)
	}
	return o.remote.Analyze(ctx, rreq)
}

// Cancel aborts the operation with the given ID. Other in-flight
// operations are untouched; the cancelled one surfaces context.Canceled.
func (o *Orchestrator) Cancel(operationID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[operationID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Invalidate drops every cached and stored result for the memo. Called
// when the memo is re-transcribed.
func (o *Orchestrator) Invalidate(ctx context.Context, memoID string) error {
	if o.cache != nil {
		o.cache.InvalidateMemo(ctx, memoID)
	}
	if o.store != nil {
		if err := o.store.InvalidateMemo(ctx, memoID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) register(operationID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[operationID] = cancel
}

func (o *Orchestrator) release(operationID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[operationID]
	delete(o.cancels, operationID)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// lookup walks the cache tiers. A sqlite hit is promoted into the memory
// tier on the way out.
func (o *Orchestrator) lookup(ctx context.Context, memoID string, mode analysis.Mode) (*analysis.Envelope, bool) {
	if o.cache != nil {
		if env, ok := o.cache.Get(ctx, memoID, mode); ok {
			return env, true
		}
	}
	if o.store != nil {
		env, err := o.store.Get(ctx, memoID, mode)
		if err == nil {
			if o.cache != nil {
				o.cache.Set(ctx, memoID, env, o.cfg.CacheTTL)
			}
			return env, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			logger.WithContext(ctx).Warn("envelope store lookup failed", "error", err)
		}
	}
	return nil, false
}

// storeResult writes through both tiers. Persistence trouble is logged,
// not surfaced; the analysis itself succeeded.
func (o *Orchestrator) storeResult(ctx context.Context, memoID string, env *analysis.Envelope) {
	if o.cache != nil {
		o.cache.Set(ctx, memoID, env, o.cfg.CacheTTL)
	}
	if o.store != nil {
		if err := o.store.Put(ctx, memoID, env); err != nil {
			logger.WithContext(ctx).Warn("envelope persistence failed", "error", err)
		}
	}
}

func (o *Orchestrator) localModel() catalog.LocalModel {
	if o.cfg.PreferredModelID != "" {
		if m, ok := catalog.FromID(o.cfg.PreferredModelID); ok {
			return m
		}
		logger.Default().Warn("preferred model not in catalog, using default",
			"model_id", o.cfg.PreferredModelID)
	}
	return catalog.Default()
}

// progressFunc fans component progress out to the caller and the bus.
func (o *Orchestrator) progressFunc(req Request) analysis.ProgressFunc {
	return func(p analysis.Progress, snap analysis.PartialSnapshot) {
		o.publish(eventbus.DomainAnalysis, eventbus.TypeAnalysisProgress, req.MemoID, map[string]any{
			"operation_id": req.OperationID,
			"component":    p.Component,
			"completed":    p.Completed,
			"total":        p.Total,
		})
		if req.OnProgress != nil {
			req.OnProgress(p, snap)
		}
	}
}

func (o *Orchestrator) publish(domain, eventType, subject string, data map[string]any) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(eventbus.NewEvent(domain, eventType, subject, data))
}
