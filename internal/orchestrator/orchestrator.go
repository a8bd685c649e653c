// Package orchestrator fans a SignalRequest out to a configured set of
// providers in parallel, aggregates their partial successes into a
// SignalBundle, and never fails the whole request because one source
// failed.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/internal/providers"
	"github.com/timbrinded/degen-ai-sub000/internal/workers"
	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// Kind identifies which signal cadence a request belongs to; it selects
// the default deadline only (the caller supplies the FieldSpecs).
type Kind string

const (
	KindFast   Kind = "fast"
	KindMedium Kind = "medium"
	KindSlow   Kind = "slow"
)

// DefaultDeadline returns spec.md's per-kind bundle deadline.
func DefaultDeadline(kind Kind) time.Duration {
	switch kind {
	case KindFast:
		return 5 * time.Second
	case KindMedium:
		return 15 * time.Second
	case KindSlow:
		return 30 * time.Second
	default:
		return 5 * time.Second
	}
}

// FieldSpec binds a named bundle field to a provider fetch. ToFloat
// extracts the scalar the bundle stores for this field; a nil ToFloat
// means the result only lands in Bundle.Raw (e.g. an order book snapshot
// has no single scalar representation).
type FieldSpec struct {
	Name    string
	Fetch   func(ctx context.Context) (providers.ProviderResponse, error)
	ToFloat func(data any) (float64, bool)
}

// Request describes one fan-out pass.
type Request struct {
	Kind           Kind
	Specs          []FieldSpec
	CriticalFields []string // subset of Specs whose confidence floors bundle.Metadata.Confidence
	Deadline       time.Duration
}

// Orchestrator runs Requests against a bounded worker pool, deadline-bound,
// with deterministic per-field aggregation keyed by provider identity
// rather than arrival order.
type Orchestrator struct {
	logger *zap.Logger
	pool   *workers.Pool
}

// New builds an Orchestrator backed by its own worker pool.
func New(logger *zap.Logger, poolConfig *workers.PoolConfig) *Orchestrator {
	if poolConfig == nil {
		poolConfig = workers.DefaultPoolConfig("orchestrator")
	}
	pool := workers.NewPool(logger.Named("orchestrator.pool"), poolConfig)
	pool.Start()
	return &Orchestrator{logger: logger.Named("orchestrator"), pool: pool}
}

// Stop shuts down the underlying worker pool.
func (o *Orchestrator) Stop() error {
	return o.pool.Stop()
}

type fieldResult struct {
	name       string
	resp       providers.ProviderResponse
	toFloat    func(data any) (float64, bool)
	err        error
}

// Collect runs every FieldSpec in req in parallel, abandoning anything
// still pending at the deadline, and returns a SignalBundle. A provider
// failure never aborts the whole request: the field is recorded missing
// with confidence 0 and source "unavailable". If every field is missing,
// the returned bundle has metadata.confidence=0 (the "fallback bundle").
func (o *Orchestrator) Collect(ctx context.Context, req Request) types.SignalBundle {
	deadline := req.Deadline
	if deadline == 0 {
		deadline = DefaultDeadline(req.Kind)
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resultCh := make(chan fieldResult, len(req.Specs))
	var wg sync.WaitGroup

	for _, spec := range req.Specs {
		spec := spec
		wg.Add(1)
		submitErr := o.pool.SubmitFunc(func() error {
			defer wg.Done()
			resp, err := spec.Fetch(deadlineCtx)
			select {
			case resultCh <- fieldResult{name: spec.Name, resp: resp, toFloat: spec.ToFloat, err: err}:
			case <-deadlineCtx.Done():
			}
			return err
		})
		if submitErr != nil {
			wg.Done()
			resultCh <- fieldResult{name: spec.Name, err: submitErr}
		}
	}

	// Free wg.Wait() from blocking indefinitely on an abandoned task by
	// racing it against the deadline.
	doneWaiting := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneWaiting)
	}()
	select {
	case <-doneWaiting:
	case <-deadlineCtx.Done():
	}
	close(resultCh)

	results := make(map[string]fieldResult, len(req.Specs))
	for r := range resultCh {
		results[r.name] = r
	}

	bundle := types.SignalBundle{
		Kind:     string(req.Kind),
		Fields:   make(map[string]types.Field[float64], len(req.Specs)),
		Raw:      make(map[string]any),
		Metadata: types.BundleMetadata{AsOf: time.Now()},
	}

	anyPresent := false
	for _, spec := range req.Specs {
		r, ok := results[spec.Name]
		if !ok || r.err != nil {
			bundle.Fields[spec.Name] = types.Field[float64]{Missing: true, Source: "unavailable"}
			o.logger.Debug("field missing", zap.String("field", spec.Name), zap.Error(r.err))
			continue
		}

		anyPresent = true
		bundle.Raw[spec.Name] = r.resp.Data

		if spec.ToFloat == nil {
			continue
		}
		v, ok := spec.ToFloat(r.resp.Data)
		if !ok {
			bundle.Fields[spec.Name] = types.Field[float64]{Missing: true, Source: r.resp.Source}
			continue
		}
		bundle.Fields[spec.Name] = types.Field[float64]{
			Value:      v,
			Confidence: r.resp.Confidence,
			Source:     r.resp.Source,
		}
	}

	bundle.Metadata.Confidence = bundleConfidence(bundle, req.CriticalFields, anyPresent)
	return bundle
}

// bundleConfidence is the minimum confidence across critical fields (or
// across every entry in bundle.Fields, if no critical set is given). Any
// listed field that is absent from bundle.Fields or Missing makes the
// result 0; fields fetched without a ToFloat have no entry there. A bundle
// with nothing present at all is the fallback bundle: confidence 0.
func bundleConfidence(bundle types.SignalBundle, critical []string, anyPresent bool) float64 {
	if !anyPresent {
		return 0
	}
	names := critical
	if len(names) == 0 {
		names = make([]string, 0, len(bundle.Fields))
		for n := range bundle.Fields {
			names = append(names, n)
		}
	}

	min := 1.0
	found := false
	for _, n := range names {
		f, ok := bundle.Fields[n]
		if !ok || f.Missing {
			return 0
		}
		found = true
		if f.Confidence < min {
			min = f.Confidence
		}
	}
	if !found {
		return 0
	}
	return min
}
