// Package pipeline implements the end-to-end request lifecycle: route
// resolution, chain assembly, staged hook execution, and the uniform
// V2ConnectionError failure shape every caller sees.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/hooks"
	"github.com/AlfredDev/novagate/quota"
	"github.com/AlfredDev/novagate/reqid"
	"github.com/AlfredDev/novagate/snapshot"
	"github.com/AlfredDev/novagate/transport"
	"github.com/AlfredDev/novagate/vrouter"
)

// RequestContext carries everything the orchestrator needs to route,
// build, and execute one client call. ClientRequestID and
// ProviderRequestID are the pair a handler already minted via
// reqid.Fabric.Generate before calling Execute; ProviderRequestID is
// provisional and gets re-derived once a route decision pins a real
// provider and model.
type RequestContext struct {
	ClientDialect     dialect.ClientDialect
	SessionID         string
	Meta              vrouter.RequestMeta
	Request           dialect.Request
	Stream            bool
	EntryEndpoint     string
	ClientRequestID   string
	ProviderRequestID string
}

// Result is the outcome of a successful Execute.
type Result struct {
	ConnectionID      string
	ClientRequestID   string
	ProviderRequestID string
	RouteID           string
	Target            vrouter.ProviderKey
	Response          dialect.Response
	ResponseStream    dialect.Stream // non-nil only when RequestContext.Stream was true
	ModuleTimings     map[string]time.Duration
}

// Orchestrator wires the virtual router, quota loop, transport, hook
// registry, request-id fabric, and snapshot writer into one
// Execute(ctx, reqCtx) call.
type Orchestrator struct {
	reqids    *reqid.Fabric
	snapshots *snapshot.Writer
	router    *vrouter.Engine
	quota     *quota.Loop
	transport transport.Transport
	hooks     *hooks.Registry

	switchPool *InstancePool[*dialect.Switch]

	resolveTarget func(vrouter.ProviderKey) transport.Target
	providerDialectFor func(vrouter.ProviderKey) dialect.ProviderDialect

	logger zerolog.Logger
}

// NewOrchestrator wires the ten components into a ready orchestrator.
// resolveTarget and providerDialectFor translate a vrouter.ProviderKey
// (pure routing identity) into transport's richer Target and the wire
// dialect to encode against — that mapping comes from the loaded
// Provider Profile configuration, not from pipeline itself.
func NewOrchestrator(
	reqids *reqid.Fabric,
	snapshots *snapshot.Writer,
	router *vrouter.Engine,
	quotaLoop *quota.Loop,
	tr transport.Transport,
	hookRegistry *hooks.Registry,
	resolveTarget func(vrouter.ProviderKey) transport.Target,
	providerDialectFor func(vrouter.ProviderKey) dialect.ProviderDialect,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		reqids:             reqids,
		snapshots:          snapshots,
		router:             router,
		quota:              quotaLoop,
		transport:          tr,
		hooks:              hookRegistry,
		switchPool:         NewInstancePool[*dialect.Switch](),
		resolveTarget:      resolveTarget,
		providerDialectFor: providerDialectFor,
		logger:             logger.With().Str("component", "pipeline").Logger(),
	}
}

// Execute runs one request through routing, hook stages, and
// transport dispatch, recovering from any panic in a hook or the
// transport call so a chain is never leaked even on unexpected failure.
func (o *Orchestrator) Execute(ctx context.Context, rc RequestContext) (res *Result, err error) {
	connID := o.reqids.NewConnectionID()
	providerReqID := rc.ProviderRequestID
	start := time.Now()
	timings := make(map[string]time.Duration)

	defer func() {
		if r := recover(); r != nil {
			err = newConnectionError(connID, "pipeline", "execute", 0, fmt.Errorf("panic: %v", r))
		}
	}()

	o.emitSnapshot(ctx, providerReqID, rc.ClientDialect, snapshot.PhaseClientInbound, rc.Request)

	stageStart := time.Now()
	data := hooks.NewMutableData()
	data.Set("request", rc.Request)
	if _, hookErr := o.hooks.Invoke(ctx, hooks.StagePipelinePreprocessing, data); hookErr != nil {
		return nil, newConnectionError(connID, "hooks", string(hooks.StagePipelinePreprocessing), 0, hookErr)
	}
	timings["pipeline_preprocessing"] = time.Since(stageStart)

	decision, routeErr := o.router.Route(rc.Meta, rc.SessionID)
	if routeErr != nil {
		cerr := newConnectionError(connID, "route", "vrouter", 1, routeErr)
		o.emitError(ctx, providerReqID, rc.ClientDialect, cerr)
		return nil, cerr
	}

	stageStart = time.Now()
	if _, hookErr := o.hooks.Invoke(ctx, hooks.StageRequestPreprocessing, data); hookErr != nil {
		cerr := newConnectionError(connID, "hooks", string(hooks.StageRequestPreprocessing), 2, hookErr)
		o.emitError(ctx, providerReqID, rc.ClientDialect, cerr)
		return nil, cerr
	}
	timings["request_preprocessing"] = time.Since(stageStart)

	target := o.resolveTarget(decision.Target)
	pd := o.providerDialectFor(decision.Target)
	sw := o.switchPool.GetOrCreate("switch", string(decision.Target), func() *dialect.Switch { return dialect.NewSwitch() })
	_ = sw // the Switch itself is stateless; transport invokes it internally today.

	// The route decision pins a real provider/model, so the provisional
	// providerRequestId minted at ingress is re-derived now; the old id
	// stays resolvable for a short window via the alias Enhance records.
	providerReqID = o.reqids.Enhance(providerReqID, rc.EntryEndpoint, target.ProviderID, target.Model)
	ctx = reqid.WithProviderRequestID(ctx, providerReqID)

	o.emitSnapshot(ctx, providerReqID, rc.ClientDialect, snapshot.PhaseProviderOutbound, rc.Request)

	stageStart = time.Now()
	var resp dialect.Response
	var stream dialect.Stream
	var transportErr error
	if rc.Stream {
		stream, transportErr = o.transport.DoStream(ctx, target, pd, rc.Request)
	} else {
		resp, transportErr = o.transport.Do(ctx, target, pd, rc.Request)
	}
	timings["transport"] = time.Since(stageStart)

	if transportErr != nil {
		o.quota.OnFailure(quota.ProviderKey(decision.Target), classify(transportErr))
		cerr := newConnectionError(connID, "transport", target.FamilyID, 3, transportErr)
		o.emitError(ctx, providerReqID, rc.ClientDialect, cerr)
		return nil, cerr
	}
	o.quota.OnSuccess(quota.ProviderKey(decision.Target))

	if !rc.Stream {
		o.emitSnapshot(ctx, providerReqID, rc.ClientDialect, snapshot.PhaseProviderInbound, resp)

		stageStart = time.Now()
		data.Set("response", resp)
		if _, hookErr := o.hooks.Invoke(ctx, hooks.StageResponsePostprocessing, data); hookErr != nil {
			cerr := newConnectionError(connID, "hooks", string(hooks.StageResponsePostprocessing), 4, hookErr)
			o.emitError(ctx, providerReqID, rc.ClientDialect, cerr)
			return nil, cerr
		}
		if _, hookErr := o.hooks.Invoke(ctx, hooks.StageResponseValidation, data); hookErr != nil {
			cerr := newConnectionError(connID, "hooks", string(hooks.StageResponseValidation), 5, hookErr)
			o.emitError(ctx, providerReqID, rc.ClientDialect, cerr)
			return nil, cerr
		}
		timings["response_postprocessing"] = time.Since(stageStart)

		o.emitSnapshot(ctx, providerReqID, rc.ClientDialect, snapshot.PhaseServerFinal, resp)
	}

	stageStart = time.Now()
	o.hooks.Invoke(ctx, hooks.StageFinalization, data) //nolint:errcheck // finalization errors are observational only
	timings["finalization"] = time.Since(stageStart)
	timings["total"] = time.Since(start)

	return &Result{
		ConnectionID:      connID,
		ClientRequestID:   rc.ClientRequestID,
		ProviderRequestID: providerReqID,
		RouteID:           decision.RouteID,
		Target:            decision.Target,
		Response:          resp,
		ResponseStream:    stream,
		ModuleTimings:     timings,
	}, nil
}

func (o *Orchestrator) emitSnapshot(_ context.Context, requestID string, cd dialect.ClientDialect, phase snapshot.Phase, payload any) {
	if o.snapshots == nil {
		return
	}
	o.snapshots.Write(snapshot.RequestContext{RequestID: requestID, EntryDialect: string(cd)}, phase, payload)
}

func (o *Orchestrator) emitError(_ context.Context, requestID string, cd dialect.ClientDialect, cerr *V2ConnectionError) {
	if o.snapshots == nil {
		return
	}
	o.snapshots.Write(snapshot.RequestContext{RequestID: requestID, EntryDialect: string(cd)}, snapshot.PhaseProviderError, cerr)
}

func classify(err error) transport.ErrorKind {
	var upstreamErr *transport.UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Kind
	}
	return transport.KindUpstreamServerErr
}
