// Copyright 2025 Symbiont
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"symbiont/core/events"
	"symbiont/core/feedback"
	"symbiont/core/gates"
	"symbiont/core/llm"
	"symbiont/core/memory"
	"symbiont/core/monitor"
	"symbiont/core/privacy"
	"symbiont/core/router"
	"symbiont/core/shared/logger"
	"symbiont/core/storage/journal"
)

const (
	// component is the pipeline's name on feedback events and the bus.
	component = "orchestrator"

	tracerName = "symbiont/core/orchestrator"

	// contextSearchLimit bounds how many memories feed the system prompt.
	contextSearchLimit = 5

	// defaultOutputTokens sizes cost and context estimates when the
	// caller gives no output estimate of its own.
	defaultOutputTokens = 256

	// recentRequestCap bounds the completed-request ring.
	recentRequestCap = 1000
)

// Deps are the subsystems the pipeline drives. All are required except
// Bus and Journal, which may be nil.
type Deps struct {
	Privacy  *privacy.Engine
	Memory   *memory.ContextStore
	Gates    *gates.System
	Tribunal *gates.Tribunal
	Router   *router.Router
	Monitors *monitor.Suite
	Feedback *feedback.Loop

	Bus     *events.Bus
	Journal *journal.Journal
}

func (d Deps) validate() error {
	switch {
	case d.Privacy == nil:
		return errors.New("orchestrator: privacy engine is required")
	case d.Memory == nil:
		return errors.New("orchestrator: context store is required")
	case d.Gates == nil:
		return errors.New("orchestrator: gate system is required")
	case d.Tribunal == nil:
		return errors.New("orchestrator: tribunal is required")
	case d.Router == nil:
		return errors.New("orchestrator: router is required")
	case d.Monitors == nil:
		return errors.New("orchestrator: monitor suite is required")
	case d.Feedback == nil:
		return errors.New("orchestrator: feedback loop is required")
	}
	return nil
}

// Pipeline runs requests through the fixed stage sequence. One Pipeline
// serves all users; requests from the same user are admitted in start
// order, one at a time.
type Pipeline struct {
	deps    Deps
	log     *logger.Logger
	tracer  trace.Tracer
	timings *stageTimings

	mu        sync.Mutex
	lanes     map[string]chan struct{}
	recent    map[string]*Request
	order     []string
	succeeded int
	failed    int
	cancelled int
	byKind    map[ErrorKind]int

	now func() time.Time
}

// New validates deps and returns a ready pipeline. It registers itself
// as the feedback applier for its own component.
func New(d Deps) (*Pipeline, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		deps:    d,
		log:     logger.New(component),
		tracer:  otel.Tracer(tracerName),
		timings: newStageTimings(),
		lanes:   make(map[string]chan struct{}),
		recent:  make(map[string]*Request),
		byKind:  make(map[ErrorKind]int),
		now:     time.Now,
	}
	d.Feedback.RegisterApplier(component, p.applySuggestion)
	return p, nil
}

// flight is the per-request working state that never leaves the
// pipeline.
type flight struct {
	in           ProcessInput
	agency       AgencyInput
	requirements router.Requirements
	systemPrompt string

	// charged is set once the privacy budget took this request's
	// epsilon; executing once the execution stage began. Together they
	// decide whether cancellation refunds the charge.
	charged   bool
	executing bool
}

// Process runs one request through every stage and returns its frozen
// record. The error return covers invalid input only; pipeline failures
// are reported on the Request itself.
func (p *Pipeline) Process(ctx context.Context, in ProcessInput) (*Request, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, ErrMissingUser
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, ErrEmptyQuery
	}

	wait, done := p.enterLane(in.UserID)
	if wait != nil {
		<-wait
	}
	defer p.leaveLane(in.UserID, done)

	req := &Request{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		SessionID:    in.SessionID,
		TaskCategory: in.TaskCategory,
		Query:        in.Query,
		StartedAt:    p.now().UTC(),
	}
	fl := &flight{in: in, agency: neutralAgency(), requirements: in.Requirements}
	if in.Agency != nil {
		fl.agency = *in.Agency
	}

	p.run(ctx, req, fl)
	return req, nil
}

// enterLane installs this request as its user's lane tail and returns
// the previous tail to wait on. A nil wait channel means the lane was
// idle.
func (p *Pipeline) enterLane(userID string) (wait <-chan struct{}, done chan struct{}) {
	done = make(chan struct{})
	p.mu.Lock()
	prev := p.lanes[userID]
	p.lanes[userID] = done
	p.mu.Unlock()
	if prev != nil {
		wait = prev
	}
	return wait, done
}

// leaveLane releases the next request in the user's lane and drops the
// lane entry when nothing queued behind this request.
func (p *Pipeline) leaveLane(userID string, done chan struct{}) {
	close(done)
	p.mu.Lock()
	if p.lanes[userID] == done {
		delete(p.lanes, userID)
	}
	p.mu.Unlock()
}

type stageFn func(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error)

func (p *Pipeline) run(ctx context.Context, req *Request, fl *flight) {
	steps := []struct {
		stage Stage
		fn    stageFn
	}{
		{StageIntake, p.intake},
		{StagePIIDetection, p.detectPII},
		{StageContextRetrieval, p.retrieveContext},
		{StageGateEvaluation, p.evaluateGates},
		{StageModelSelection, p.selectModel},
		{StageExecution, p.execute},
		{StageResponseValidation, p.validateResponse},
		{StageMonitoring, p.monitorOutcome},
		{StageContextUpdate, p.updateContext},
		{StagePerformanceTracking, p.trackPerformance},
		{StageFeedback, p.emitFeedback},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			at := p.now().UTC()
			p.finishFailed(req, fl, StageRecord{Stage: step.stage, StartedAt: at, CompletedAt: at}, KindCancelled, err)
			return
		}

		sctx, span := p.tracer.Start(ctx, "pipeline."+string(step.stage))
		span.SetAttributes(attribute.String("request.id", req.ID))

		start := p.now().UTC()
		detail, kind, err := step.fn(sctx, req, fl)
		end := p.now().UTC()
		elapsed := end.Sub(start)

		p.timings.record(step.stage, elapsed)
		stageDuration.WithLabelValues(string(step.stage)).Observe(elapsed.Seconds())

		rec := StageRecord{
			Stage:       step.stage,
			StartedAt:   start,
			CompletedAt: end,
			DurationMS:  durationMS(elapsed),
			Detail:      detail,
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(kind))
			span.End()
			p.finishFailed(req, fl, rec, kind, err)
			return
		}
		span.End()

		if aerr := req.advance(rec); aerr != nil {
			p.invariantViolated(req, aerr)
			req.Success = false
			req.ErrorKind = KindInternal
			req.Error = aerr.Error()
			req.CompletedAt = p.now().UTC()
			stageFailuresTotal.WithLabelValues(string(step.stage), string(KindInternal)).Inc()
			pipelineRequestsTotal.WithLabelValues(statusFailure).Inc()
			p.remember(req)
			return
		}
	}

	p.finishSuccess(req, fl)
}

// finishFailed freezes a request at its failing stage. Cancellation
// instead lands on the cancelled terminal stage and refunds the privacy
// charge unless execution had already begun.
func (p *Pipeline) finishFailed(req *Request, fl *flight, rec StageRecord, kind ErrorKind, err error) {
	rec.Error = err.Error()
	terminal := rec.Stage
	if kind == KindCancelled {
		terminal = StageCancelled
	}

	req.Stages = append(req.Stages, rec)
	req.StageCompleted = terminal
	req.Success = false
	req.ErrorKind = kind
	req.Error = err.Error()
	req.CompletedAt = p.now().UTC()

	if kind == KindCancelled && fl.charged && !fl.executing {
		if rerr := p.deps.Privacy.RefundCharge(req.UserID); rerr != nil {
			p.log.Warn(req.UserID, req.ID, "budget refund failed", map[string]interface{}{
				"error": rerr.Error(),
			})
		}
	}

	status := statusFailure
	if kind == KindCancelled {
		status = statusCancelled
	}
	stageFailuresTotal.WithLabelValues(string(rec.Stage), string(kind)).Inc()
	pipelineRequestsTotal.WithLabelValues(status).Inc()
	p.remember(req)

	p.log.ErrorWithKind(req.UserID, req.ID, "request failed", string(kind), err, map[string]interface{}{
		"stage": string(rec.Stage),
	})
}

func (p *Pipeline) finishSuccess(req *Request, fl *flight) {
	req.StageCompleted = StageResponse
	req.Success = true
	req.CompletedAt = p.now().UTC()
	pipelineRequestsTotal.WithLabelValues(statusSuccess).Inc()
	p.remember(req)

	p.log.InfoWithDuration(req.UserID, req.ID, "request completed", durationMS(req.CompletedAt.Sub(req.StartedAt)), map[string]interface{}{
		"provider": string(req.Provider),
		"model":    req.Model,
		"cost_usd": req.CostUSD,
	})
}

// remember adds a frozen request to the ring and rolls the counters.
func (p *Pipeline) remember(req *Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) >= recentRequestCap {
		delete(p.recent, p.order[0])
		p.order = p.order[1:]
	}
	p.order = append(p.order, req.ID)
	p.recent[req.ID] = req

	switch {
	case req.Success:
		p.succeeded++
	case req.ErrorKind == KindCancelled:
		p.cancelled++
	default:
		p.failed++
	}
	if req.ErrorKind != "" {
		p.byKind[req.ErrorKind]++
	}
}

// intake normalizes the raw input. It never fails.
func (p *Pipeline) intake(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.TaskCategory == "" {
		req.TaskCategory = "general"
	}
	tokens := llm.EstimateTokens(req.Query)
	p.log.Info(req.UserID, req.ID, "request accepted", map[string]interface{}{
		"task_category": req.TaskCategory,
		"query_tokens":  tokens,
	})
	return map[string]interface{}{
		"task_category": req.TaskCategory,
		"query_tokens":  tokens,
	}, "", nil
}

// detectPII charges the privacy budget, then transforms the query. A
// block action refuses the request with the charge kept, since the text
// was already processed.
func (p *Pipeline) detectPII(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	budget, err := p.deps.Privacy.CheckAndCharge(req.UserID)
	if err != nil {
		if errors.Is(err, privacy.ErrBudgetExceeded) {
			return map[string]interface{}{
				"epsilon_spent": budget.EpsilonSpent,
				"max_epsilon":   budget.MaxEpsilon,
				"query_count":   budget.QueryCount,
			}, KindBudgetExceeded, err
		}
		return nil, KindInternal, err
	}
	fl.charged = true

	processed, detections, applied, err := p.deps.Privacy.Apply(req.ID, req.UserID, req.Query)
	if err != nil {
		return map[string]interface{}{
			"detections": len(detections),
			"blocked":    true,
		}, KindGateBlocked, err
	}
	req.ProcessedQuery = processed
	req.Detections = detections

	detail := map[string]interface{}{
		"detections":        len(detections),
		"transformed":       len(applied),
		"epsilon_spent":     budget.EpsilonSpent,
		"epsilon_remaining": budget.MaxEpsilon - budget.EpsilonSpent,
	}
	if len(detections) > 0 {
		byType := make(map[string]int, len(detections))
		for _, d := range detections {
			byType[string(d.Type)]++
		}
		detail["by_type"] = byType
	}
	return detail, "", nil
}

// retrieveContext ranks the user's memories against the processed query
// and assembles the context window.
func (p *Pipeline) retrieveContext(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	entries, err := p.deps.Memory.Search(memory.SearchInput{
		UserID: req.UserID,
		Query:  req.ProcessedQuery,
		Limit:  contextSearchLimit,
	})
	if err != nil {
		return nil, KindInternal, err
	}

	window, err := p.deps.Memory.BuildWindow(req.UserID, req.SessionID, fl.in.ContextIDs)
	if err != nil {
		return nil, KindInternal, err
	}
	req.Window = window
	fl.systemPrompt = composeSystemPrompt(entries)

	return map[string]interface{}{
		"retrieved":     len(entries),
		"window_tokens": window.Tokens,
		"pruned":        len(window.PrunedIDs),
	}, "", nil
}

func composeSystemPrompt(entries []memory.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Context recalled from earlier exchanges:\n")
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// evaluateGates runs the four gates and, when any fail, the tribunal.
// A tribunal that cannot produce a verdict fails closed.
func (p *Pipeline) evaluateGates(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	action := defaultActionContext(req.UserID, req.ID, req.ProcessedQuery, req.TaskCategory)
	if fl.in.Action != nil {
		action = *fl.in.Action
		action.UserID = req.UserID
		action.RequestID = req.ID
		action.Query = req.ProcessedQuery
		action.TaskCategory = req.TaskCategory
	}

	eval := p.deps.Gates.Evaluate(action)
	req.Evaluation = &eval

	if eval.ProtectedPath != "" {
		p.emitGateViolation(req, eval, nil, "protected-path")
		return map[string]interface{}{
				"protected_path": eval.ProtectedPath,
			}, KindGateBlocked,
			fmt.Errorf("action touches protected path %q", eval.ProtectedPath)
	}

	detail := map[string]interface{}{
		"all_approved": eval.AllApproved,
		"scores":       gateScores(eval),
	}
	if eval.AllApproved {
		return detail, "", nil
	}

	failed := gateNames(eval.Failed)
	detail["failed"] = failed

	verdict, err := p.deps.Tribunal.Review(ctx, action, eval)
	if err != nil {
		if ctx.Err() != nil {
			return detail, KindCancelled, err
		}
		p.emitGateViolation(req, eval, nil, "tribunal-error")
		return detail, KindTribunalDenied, err
	}
	req.Verdict = verdict
	detail["rationale"] = verdict.Rationale

	if !verdict.Approved {
		p.emitGateViolation(req, eval, verdict, "denied")
		return detail, KindGateBlocked,
			fmt.Errorf("gates failed (%s): %s", strings.Join(failed, ", "), verdict.Rationale)
	}

	detail["override"] = true
	p.emitGateViolation(req, eval, verdict, "override")
	return detail, "", nil
}

func gateScores(eval gates.Evaluation) map[string]float64 {
	scores := make(map[string]float64, len(eval.Results))
	for _, r := range eval.Results {
		scores[string(r.Gate)] = r.Score
	}
	return scores
}

func gateNames(ids []gates.GateID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names
}

// selectModel sizes the request and asks the router for a backend. A
// fallback selection that cannot meet the request's hard capability
// needs means the filter emptied for real, and the request fails rather
// than executing on a backend that cannot do the work.
func (p *Pipeline) selectModel(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	if fl.requirements.EstimatedInputTokens == 0 {
		fl.requirements.EstimatedInputTokens = llm.EstimateTokens(fl.systemPrompt) + llm.EstimateTokens(req.ProcessedQuery)
	}
	if fl.requirements.EstimatedOutputTokens == 0 {
		fl.requirements.EstimatedOutputTokens = defaultOutputTokens
	}

	sel := p.deps.Router.Select(ctx, fl.requirements)
	req.Selection = &sel

	detail := map[string]interface{}{
		"provider":   string(sel.Provider),
		"model":      sel.Model,
		"confidence": sel.Confidence,
		"reason":     sel.Reason,
		"fallback":   sel.Fallback,
		"candidates": sel.Candidates,
	}

	if sel.Fallback {
		if err := p.localShortfall(sel, fl.requirements); err != nil {
			return detail, KindModelFilteredEmpty, err
		}
	}
	return detail, "", nil
}

// localShortfall reports whether the local fallback is genuinely unable
// to serve the request. Cost and latency constraints are absorbed, the
// local backend being free and nearby; capability flags and context
// capacity are not negotiable.
func (p *Pipeline) localShortfall(sel router.Selection, reqs router.Requirements) error {
	d, ok := p.deps.Router.Registry().Get(sel.Provider, sel.Model)
	if !ok {
		return fmt.Errorf("no descriptor for fallback backend %s:%s", sel.Provider, sel.Model)
	}
	switch {
	case reqs.NeedsVision && !d.SupportsVision:
		return errors.New("no backend matches the request: vision required")
	case reqs.NeedsFunctions && !d.SupportsFunctions:
		return errors.New("no backend matches the request: function calling required")
	case reqs.NeedsStreaming && !d.SupportsStreaming:
		return errors.New("no backend matches the request: streaming required")
	case reqs.EstimatedInputTokens+reqs.EstimatedOutputTokens > d.MaxContextTokens:
		return fmt.Errorf("no backend matches the request: %d tokens exceed the fallback's %d context cap",
			reqs.EstimatedInputTokens+reqs.EstimatedOutputTokens, d.MaxContextTokens)
	}
	return nil
}

// execute sends the transformed query to the selected backend. From the
// moment this stage begins, the privacy charge is final even if the
// request is later cancelled.
func (p *Pipeline) execute(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	fl.executing = true

	greq := llm.GenerateRequest{
		Prompt:       req.ProcessedQuery,
		SystemPrompt: fl.systemPrompt,
	}
	resp, err := p.deps.Router.Execute(ctx, fl.requirements, *req.Selection, greq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, KindCancelled, err
		}
		return nil, KindExecutionFailed, err
	}

	req.Provider = resp.Provider
	req.Model = resp.Model
	req.ModelResponse = resp.Text
	req.CostUSD = resp.Cost
	req.InputTokens = resp.InputTokens
	req.OutputTokens = resp.OutputTokens

	return map[string]interface{}{
		"provider":   string(resp.Provider),
		"model":      resp.Model,
		"latency_ms": durationMS(resp.Latency),
		"cost_usd":   resp.Cost,
		"fell_back":  resp.Provider != req.Selection.Provider,
		"finish":     string(resp.FinishReason),
	}, "", nil
}

// validateResponse runs the generated text through the same detector the
// input went through. Output detections stay in the stage detail; the
// Request's Detections field covers input only.
func (p *Pipeline) validateResponse(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	sanitized, found, err := p.deps.Privacy.Sanitize(req.ID, req.UserID, req.ModelResponse)
	if err != nil {
		return nil, KindInternal, err
	}
	redacted := sanitized != req.ModelResponse
	req.ModelResponse = sanitized

	return map[string]interface{}{
		"output_detections": len(found),
		"redacted":          redacted,
		"empty_response":    strings.TrimSpace(req.ModelResponse) == "",
	}, "", nil
}

// monitorOutcome runs the three instruments concurrently and waits for
// all of them. Instrument failures are reported as feedback, never as a
// request failure; a broken monitor must not take assistance down.
func (p *Pipeline) monitorOutcome(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	snap := monitor.AgencySnapshot{
		Timestamp:         p.now().UTC(),
		RequestID:         req.ID,
		UserID:            req.UserID,
		TaskCategory:      req.TaskCategory,
		DeltaAgency:       fl.agency.DeltaAgency,
		BHIR:              fl.agency.BHIR,
		TaskEfficacy:      fl.agency.TaskEfficacy,
		PreSkill:          fl.agency.PreSkill,
		PostSkill:         fl.agency.PostSkill,
		AIReliance:        fl.agency.AIReliance,
		AutonomyRetention: fl.agency.AutonomyRetention,
		Metadata: map[string]string{
			"provider": string(req.Provider),
			"model":    req.Model,
		},
	}

	var (
		alerts []monitor.Alert
		debts  []monitor.Debt
		drift  *monitor.Assessment

		ariErr, edmErr, rdiErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		_, alerts, ariErr = p.deps.Monitors.ARI.Record(snap)
		return nil
	})
	g.Go(func() error {
		debts, edmErr = p.deps.Monitors.EDM.Scan(req.UserID, req.ID, req.ModelResponse)
		return nil
	})
	g.Go(func() error {
		drift, rdiErr = p.deps.Monitors.RDI.Assess(req.UserID, req.Query)
		return nil
	})
	// Errors are captured per instrument; none aborts the others.
	_ = g.Wait()

	req.Alerts = alerts
	req.Debts = debts

	detail := map[string]interface{}{
		"alerts": len(alerts),
		"debts":  len(debts),
	}
	if drift != nil {
		detail["drift_bin"] = string(drift.Bin)
	}
	for instrument, err := range map[string]error{"ari": ariErr, "edm": edmErr, "rdi": rdiErr} {
		if err == nil {
			continue
		}
		detail[instrument+"_error"] = err.Error()
		p.reportMonitorFailure(req, instrument, err)
	}
	return detail, "", nil
}

func (p *Pipeline) reportMonitorFailure(req *Request, instrument string, err error) {
	p.log.Warn(req.UserID, req.ID, "monitor instrument failed", map[string]interface{}{
		"instrument": instrument,
		"error":      err.Error(),
	})
	rating := 0.0
	if _, _, serr := p.deps.Feedback.Submit(feedback.Event{
		Kind:      feedback.KindPerformanceMetric,
		Source:    component,
		UserID:    req.UserID,
		RequestID: req.ID,
		Rating:    &rating,
		Text:      instrument + " measurement failed: " + err.Error(),
		Metadata:  map[string]string{"instrument": instrument},
	}); serr != nil {
		p.log.Warn(req.UserID, req.ID, "monitor failure feedback not recorded", map[string]interface{}{
			"error": serr.Error(),
		})
	}
}

// updateContext persists the exchange as conversation memory, but only
// when the user's consent covers storage.
func (p *Pipeline) updateContext(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	allowed, err := p.deps.Privacy.ConsentAllows(req.ID, req.UserID, privacy.PermissionStore)
	if err != nil {
		return nil, KindInternal, err
	}
	if !allowed {
		return map[string]interface{}{"stored": 0, "consent": false}, "", nil
	}

	userEntry, err := p.deps.Memory.Store(memory.StoreInput{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Content:   req.ProcessedQuery,
		Kind:      memory.KindConversation,
		Tags:      []string{"user"},
	})
	if err != nil {
		return nil, KindInternal, err
	}
	entryIDs := []string{userEntry.ID}

	if strings.TrimSpace(req.ModelResponse) != "" {
		respEntry, err := p.deps.Memory.Store(memory.StoreInput{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Content:   req.ModelResponse,
			Kind:      memory.KindConversation,
			Tags:      []string{"assistant"},
		})
		if err != nil {
			return nil, KindInternal, err
		}
		entryIDs = append(entryIDs, respEntry.ID)
	}

	thread, err := p.conversationThread(req)
	if err != nil {
		return nil, KindInternal, err
	}
	if _, err := p.deps.Memory.AppendToThread(thread.ID, entryIDs...); err != nil {
		return nil, KindInternal, err
	}

	return map[string]interface{}{
		"stored":  len(entryIDs),
		"consent": true,
		"thread":  thread.ID,
	}, "", nil
}

// conversationThread finds the session's thread or starts one titled
// after the query's first words.
func (p *Pipeline) conversationThread(req *Request) (*memory.Thread, error) {
	for _, th := range p.deps.Memory.Threads(req.UserID) {
		if th.SessionID == req.SessionID {
			return &th, nil
		}
	}
	return p.deps.Memory.CreateThread(req.UserID, req.SessionID, threadTitle(req.Query))
}

func threadTitle(query string) string {
	words := strings.Fields(query)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

// trackPerformance feeds the task's efficacy back into the router's
// quality ring for the backend that answered.
func (p *Pipeline) trackPerformance(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	p.deps.Router.RecordQuality(req.Provider, req.Model, fl.agency.TaskEfficacy)

	detail := map[string]interface{}{
		"quality": fl.agency.TaskEfficacy,
	}
	if perf, ok := p.deps.Router.Performance().Get(req.Provider, req.Model); ok {
		detail["avg_latency_ms"] = perf.AvgLatencyMs
		detail["avg_quality"] = perf.AvgQuality
		detail["error_rate"] = perf.ErrorRate
	}
	return detail, "", nil
}

// emitFeedback closes the loop with a performance event for this
// exchange. Submission problems are logged, never fatal; by this stage
// the user already has their answer.
func (p *Pipeline) emitFeedback(ctx context.Context, req *Request, fl *flight) (map[string]interface{}, ErrorKind, error) {
	rating := fl.agency.TaskEfficacy
	detail := map[string]interface{}{}

	ev, suggestion, err := p.deps.Feedback.Submit(feedback.Event{
		Kind:      feedback.KindPerformanceMetric,
		Source:    component,
		UserID:    req.UserID,
		RequestID: req.ID,
		Rating:    &rating,
		Metadata: map[string]string{
			"provider": string(req.Provider),
			"model":    req.Model,
			"task":     req.TaskCategory,
		},
	})
	if err != nil {
		p.log.Warn(req.UserID, req.ID, "feedback submission failed", map[string]interface{}{
			"error": err.Error(),
		})
		detail["submit_error"] = err.Error()
		return detail, "", nil
	}
	detail["event_id"] = ev.ID
	if suggestion != nil {
		detail["suggestion"] = suggestion.ID
	}

	p.publish(events.Event{
		Kind:      events.KindFeedback,
		UserID:    req.UserID,
		RequestID: req.ID,
		Source:    component,
		Payload: map[string]interface{}{
			"kind":   string(feedback.KindPerformanceMetric),
			"rating": rating,
		},
	})
	return detail, "", nil
}

// emitGateViolation reports a gate outcome that needs attention: a
// denial, a protected path, a tribunal breakdown, or an override that
// auditors should see.
func (p *Pipeline) emitGateViolation(req *Request, eval gates.Evaluation, verdict *gates.Verdict, decision string) {
	failed := gateNames(eval.Failed)

	meta := map[string]string{"decision": decision}
	if len(failed) > 0 {
		meta["failed"] = strings.Join(failed, ",")
	}
	if eval.ProtectedPath != "" {
		meta["protected_path"] = eval.ProtectedPath
	}
	text := "gate evaluation: " + decision
	if verdict != nil {
		text = verdict.Rationale
	}

	if _, _, err := p.deps.Feedback.Submit(feedback.Event{
		Kind:      feedback.KindGateViolation,
		Source:    component,
		UserID:    req.UserID,
		RequestID: req.ID,
		Text:      text,
		Metadata:  meta,
	}); err != nil {
		p.log.Warn(req.UserID, req.ID, "gate violation feedback not recorded", map[string]interface{}{
			"error": err.Error(),
		})
	}

	payload := map[string]interface{}{"decision": decision}
	if len(failed) > 0 {
		payload["failed"] = failed
	}
	if verdict != nil {
		payload["approved"] = verdict.Approved
		payload["rationale"] = verdict.Rationale
	}
	p.publish(events.Event{
		Kind:      events.KindGateViolation,
		UserID:    req.UserID,
		RequestID: req.ID,
		Source:    component,
		Payload:   payload,
	})
}

// invariantViolated records a broken pipeline invariant loudly in every
// surface that persists: the log, the journal, and the feedback loop.
func (p *Pipeline) invariantViolated(req *Request, err error) {
	p.log.Error(req.UserID, req.ID, "pipeline invariant violated", map[string]interface{}{
		"error": err.Error(),
	})
	if p.deps.Journal != nil {
		p.deps.Journal.Record(req.ID, req.UserID, journal.CategoryInvariant, "pipeline", "violation", req.Query, map[string]interface{}{
			"error": err.Error(),
		})
	}
	rating := 0.0
	if _, _, serr := p.deps.Feedback.Submit(feedback.Event{
		Kind:      feedback.KindPerformanceMetric,
		Source:    component,
		UserID:    req.UserID,
		RequestID: req.ID,
		Rating:    &rating,
		Text:      "invariant violation: " + err.Error(),
		Metadata:  map[string]string{"severity": "high"},
	}); serr != nil {
		p.log.Warn(req.UserID, req.ID, "invariant feedback not recorded", map[string]interface{}{
			"error": serr.Error(),
		})
	}
}

func (p *Pipeline) publish(ev events.Event) {
	if p.deps.Bus == nil {
		return
	}
	p.deps.Bus.Publish(ev)
}

// applySuggestion handles auto-implemented suggestions aimed at the
// pipeline. No pipeline parameter is safe to tune unattended, so the
// suggestion is surfaced on the bus for an operator rather than acted
// on. It runs inside the feedback loop's lock and must not submit.
func (p *Pipeline) applySuggestion(s feedback.Suggestion) error {
	p.log.Info("", "", "improvement suggestion surfaced", map[string]interface{}{
		"suggestion":  s.ID,
		"action":      string(s.Action),
		"description": s.Description,
	})
	p.publish(events.Event{
		Kind:   events.KindFeedback,
		Source: component,
		Payload: map[string]interface{}{
			"suggestion":  s.ID,
			"action":      string(s.Action),
			"description": s.Description,
		},
	})
	return nil
}

// Snapshot summarizes the pipeline for observability surfaces.
type Snapshot struct {
	Requests     int                     `json:"requests"`
	Succeeded    int                     `json:"succeeded"`
	Failed       int                     `json:"failed"`
	Cancelled    int                     `json:"cancelled"`
	ByErrorKind  map[ErrorKind]int       `json:"by_error_kind,omitempty"`
	StageTimings map[Stage]TimingSummary `json:"stage_timings,omitempty"`
}

// Snapshot returns current counters and stage timing summaries.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	byKind := make(map[ErrorKind]int, len(p.byKind))
	for k, v := range p.byKind {
		byKind[k] = v
	}
	s := Snapshot{
		Requests:    p.succeeded + p.failed + p.cancelled,
		Succeeded:   p.succeeded,
		Failed:      p.failed,
		Cancelled:   p.cancelled,
		ByErrorKind: byKind,
	}
	p.mu.Unlock()

	s.StageTimings = p.timings.snapshot()
	return s
}

// Request returns a completed request by id. In-flight requests are not
// visible; a request appears once it reaches a terminal stage.
func (p *Pipeline) Request(id string) (*Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.recent[id]
	return r, ok
}

// Recent returns up to limit completed requests, newest first. A limit
// of zero or less returns everything retained.
func (p *Pipeline) Recent(limit int) []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Request, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, p.recent[p.order[i]])
	}
	return out
}
