package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborlabs/bunkerplan/pkg/agent"
	"github.com/harborlabs/bunkerplan/pkg/checkpoint"
	"github.com/harborlabs/bunkerplan/pkg/config"
	"github.com/harborlabs/bunkerplan/pkg/observability"
	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/plan"
	"github.com/harborlabs/bunkerplan/pkg/safety"
	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/tool"
)

// Executor runs plans. It is stateless across executions; per-plan state
// (shared state copy, breakers, results) lives in an execution.
type Executor struct {
	agents *agent.Registry
	tools  *tool.Registry
	safety *safety.Set

	// cp is optional; without it stages run unchecked by persistence.
	cp *checkpoint.Checkpointer

	continueOnError bool
}

// New assembles an executor. safetySet and cp may be nil.
func New(agents *agent.Registry, tools *tool.Registry, safetySet *safety.Set,
	cp *checkpoint.Checkpointer, cfg config.ExecutorConfig) *Executor {
	return &Executor{
		agents:          agents,
		tools:           tools,
		safety:          safetySet,
		cp:              cp,
		continueOnError: cfg.ContinueOnError,
	}
}

// execution is the mutable context of one plan run.
type execution struct {
	e    *Executor
	plan *plan.Plan

	mu     sync.Mutex
	state  state.State
	result *Result

	threadID string
	aborted  bool
}

// Execute runs the plan against the initial state. Stages execute in plan
// order; contiguous stages sharing a parallel group run concurrently
// against a snapshot taken at group start. The plan must have passed
// validation; handing the executor a structurally malformed plan is a
// programmer error.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, initial state.State) (*Result, error) {
	if p == nil || len(p.Stages) == 0 {
		panic("executor: malformed plan")
	}
	if !p.Validation.IsValid {
		return nil, oerr.New(oerr.CodePlanInvalid, "Executor", "Execute",
			fmt.Sprintf("plan %s failed validation and cannot execute", p.PlanID))
	}
	if initial == nil {
		initial = state.New()
	}

	tracer := observability.GetTracer("bunkerplan.executor")
	ctx, span := tracer.Start(ctx, observability.SpanPlanExecution,
		trace.WithAttributes(attribute.String(observability.AttrPlanID, p.PlanID)))
	defer span.End()

	if p.Context.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Context.Timeout)
		defer cancel()
	}

	run := &execution{
		e:        e,
		plan:     p,
		state:    initial.Clone(),
		threadID: p.Context.CorrelationID,
		result: &Result{
			PlanID:    p.PlanID,
			QueryType: p.QueryType,
			State:     nil,
			Errors:    make(map[string]string),
			StartedAt: time.Now().UTC(),
		},
	}
	run.state["correlation_id"] = p.Context.CorrelationID

	breakers := newBreakerSet()
	for _, batch := range batchStages(p) {
		if run.aborted {
			break
		}
		if ctx.Err() != nil {
			run.markCancelled(ctx, batch)
			break
		}

		if len(batch) == 1 {
			run.runSequential(ctx, batch[0], breakers)
		} else {
			run.runGroup(ctx, batch, breakers)
		}

		if run.clarificationRequested() {
			run.result.NeedsClarification = true
			slog.Info("Execution paused for clarification", "plan", p.PlanID)
			break
		}
	}

	run.result.State = run.state
	run.result.Success = !run.result.Cancelled &&
		!run.result.NeedsClarification &&
		len(run.result.StagesFailed) == 0
	run.result.finalize(p)

	if pm := observability.GetGlobalMetrics(); pm != nil {
		outcome := "success"
		if !run.result.Success {
			outcome = "failure"
		}
		pm.PlansExecuted.WithLabelValues(outcome).Inc()
		pm.PlanDuration.Observe(run.result.Duration.Seconds())
	}
	if run.result.Success {
		span.SetStatus(codes.Ok, "completed")
	} else {
		span.SetStatus(codes.Error, "plan did not complete successfully")
	}
	slog.Info("Plan execution finished",
		"plan", p.PlanID, "success", run.result.Success,
		"completed", len(run.result.StagesCompleted),
		"skipped", len(run.result.StagesSkipped),
		"failed", len(run.result.StagesFailed),
		"duration", run.result.Duration)

	if run.result.Cancelled {
		return run.result, oerr.New(oerr.CodeCancelled, "Executor", "Execute",
			fmt.Sprintf("plan %s cancelled", p.PlanID))
	}
	return run.result, nil
}

// batchStages groups contiguous stages that share a parallel group number;
// every other stage forms a singleton batch.
func batchStages(p *plan.Plan) [][]*plan.Stage {
	var batches [][]*plan.Stage
	i := 0
	for i < len(p.Stages) {
		st := p.Stages[i]
		if st.ParallelGroup == nil {
			batches = append(batches, []*plan.Stage{st})
			i++
			continue
		}
		j := i + 1
		for j < len(p.Stages) && p.Stages[j].ParallelGroup != nil &&
			*p.Stages[j].ParallelGroup == *st.ParallelGroup {
			j++
		}
		batches = append(batches, p.Stages[i:j])
		i = j
	}
	return batches
}

// runSequential executes one stage against the live state and merges its
// update immediately.
func (run *execution) runSequential(ctx context.Context, st *plan.Stage, breakers *breakerSet) {
	snapshot := run.snapshotState()
	sr, update, costs := run.e.runStage(ctx, run.plan, st, snapshot, breakers)

	run.mu.Lock()
	defer run.mu.Unlock()
	run.addCostsLocked(costs)
	if sr.Status == StageSuccess && update != nil {
		sr.ProducedFields = run.state.Apply(update)
	}
	run.record(sr)
	if sr.Status == StageSuccess {
		run.checkpointLocked(ctx, st)
	}
	run.handleFailureLocked(sr, st)
}

// runGroup executes a parallel group: every stage sees the snapshot taken
// at group start, updates are merged at group end under the lock.
func (run *execution) runGroup(ctx context.Context, batch []*plan.Stage, breakers *breakerSet) {
	snapshot := run.snapshotState()

	type outcome struct {
		st     *plan.Stage
		sr     *StageResult
		update state.Update
		costs  Costs
	}
	outcomes := make([]outcome, len(batch))

	var wg sync.WaitGroup
	for i, st := range batch {
		wg.Add(1)
		go func(i int, st *plan.Stage) {
			defer wg.Done()
			sr, update, costs := run.e.runStage(ctx, run.plan, st, snapshot.Clone(), breakers)
			outcomes[i] = outcome{st: st, sr: sr, update: update, costs: costs}
		}(i, st)
	}
	wg.Wait()

	run.mu.Lock()
	defer run.mu.Unlock()

	// Conflict detection: concurrent writes to the same field are fine
	// when equal; a conflicting write from a required stage fails the
	// group, from an optional stage it is dropped.
	writtenBy := make(map[string]*outcome)
	for i := range outcomes {
		o := &outcomes[i]
		if o.sr.Status != StageSuccess || o.update == nil {
			continue
		}
		for field, value := range o.update {
			prior, seen := writtenBy[field]
			if !seen {
				writtenBy[field] = o
				run.state[field] = value
				o.sr.ProducedFields = append(o.sr.ProducedFields, field)
				continue
			}
			if reflect.DeepEqual(prior.update[field], value) {
				continue
			}
			if o.st.Required {
				msg := fmt.Sprintf("conflicting concurrent writes to field '%s' by stages %s and %s",
					field, prior.st.StageID, o.st.StageID)
				o.sr.Status = StageFailed
				o.sr.Error = msg
				slog.Error("Parallel group merge conflict", "plan", run.plan.PlanID, "field", field,
					"first", prior.st.StageID, "second", o.st.StageID)
			} else {
				slog.Warn("Dropping conflicting write from optional stage",
					"stage", o.st.StageID, "field", field)
			}
		}
	}

	for i := range outcomes {
		o := &outcomes[i]
		run.addCostsLocked(o.costs)
		run.record(o.sr)
		run.handleFailureLocked(o.sr, o.st)
	}

	// One checkpoint for the merged group state.
	if len(batch) > 0 {
		run.checkpointLocked(ctx, batch[len(batch)-1])
	}
}

// addCostsLocked folds one stage's spend into the plan totals. Caller
// holds the lock.
func (run *execution) addCostsLocked(c Costs) {
	run.result.Costs.LLMCalls += c.LLMCalls
	run.result.Costs.APICalls += c.APICalls
	run.result.Costs.ActualCostUSD += c.ActualCostUSD
}

func (run *execution) snapshotState() state.State {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.state.Clone()
}

func (run *execution) clarificationRequested() bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	v, ok := run.state["needs_clarification"].(bool)
	return ok && v
}

// record appends the stage result and updates the per-status lists and the
// cost accounting. Caller holds the lock.
func (run *execution) record(sr *StageResult) {
	run.result.StageResults = append(run.result.StageResults, sr)
	switch sr.Status {
	case StageSuccess:
		run.result.StagesCompleted = append(run.result.StagesCompleted, sr.StageID)
	case StageSkipped:
		run.result.StagesSkipped = append(run.result.StagesSkipped, sr.StageID)
	case StageFailed, StageTimeout:
		run.result.StagesFailed = append(run.result.StagesFailed, sr.StageID)
		if sr.Error != "" {
			run.result.Errors[sr.StageID] = sr.Error
		}
	}
	if pm := observability.GetGlobalMetrics(); pm != nil {
		pm.AgentExecutions.WithLabelValues(sr.AgentID, string(sr.Status)).Inc()
		pm.AgentDuration.WithLabelValues(sr.AgentID).Observe(sr.Duration.Seconds())
	}
}

// handleFailureLocked aborts the plan on a required-stage failure unless
// continue-on-error is set. Caller holds the lock.
func (run *execution) handleFailureLocked(sr *StageResult, st *plan.Stage) {
	if sr.Status != StageFailed && sr.Status != StageTimeout {
		return
	}
	if !st.Required {
		slog.Warn("Optional stage failed, continuing",
			"plan", run.plan.PlanID, "stage", st.StageID, "status", sr.Status)
		return
	}
	if run.e.continueOnError {
		slog.Warn("Required stage failed, continue_on_error set",
			"plan", run.plan.PlanID, "stage", st.StageID, "status", sr.Status)
		return
	}
	run.aborted = true
}

// checkpointLocked persists the current state. A persistence failure never
// fails the stage; its output is already merged in memory.
func (run *execution) checkpointLocked(ctx context.Context, st *plan.Stage) {
	if run.e.cp == nil {
		return
	}
	meta := map[string]any{
		"plan_id":  run.plan.PlanID,
		"stage_id": st.StageID,
	}
	if err := run.e.cp.Put(ctx, run.threadID, run.state, meta); err != nil {
		slog.Warn("Checkpoint after stage failed, continuing with in-memory state",
			"plan", run.plan.PlanID, "stage", st.StageID, "error", err)
	}
}

// markCancelled records the remaining batch stages as timed out by
// cancellation.
func (run *execution) markCancelled(ctx context.Context, batch []*plan.Stage) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.result.Cancelled = true
	for _, st := range batch {
		sr := &StageResult{
			StageID: st.StageID,
			AgentID: st.AgentID,
			Status:  StageTimeout,
			Error:   fmt.Sprintf("cancelled before start: %v", ctx.Err()),
		}
		run.record(sr)
	}
}

// runStage executes the full per-stage protocol: predicates, safety
// validators, circuit breaker, timeout, retry and tool-call recording.
func (e *Executor) runStage(ctx context.Context, p *plan.Plan, st *plan.Stage,
	snapshot state.State, breakers *breakerSet) (*StageResult, state.Update, Costs) {

	sr := &StageResult{StageID: st.StageID, AgentID: st.AgentID, Status: StagePending}
	var costs Costs

	tracer := observability.GetTracer("bunkerplan.executor")
	ctx, span := tracer.Start(ctx, observability.SpanStageExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrStageID, st.StageID),
			attribute.String(observability.AttrAgentID, st.AgentID)))
	defer span.End()

	// Predicates fire before anything else.
	if st.SkipWhen.Matches(snapshot) {
		sr.Status = StageSkipped
		sr.SkipReason = "skip_when predicate matched"
		slog.Debug("Skipping stage", "stage", st.StageID, "reason", sr.SkipReason)
		return sr, nil, costs
	}
	if st.ContinueWhen != nil && !st.ContinueWhen.Matches(snapshot) {
		sr.Status = StageSkipped
		sr.SkipReason = "continue_when predicate not satisfied"
		slog.Debug("Skipping stage", "stage", st.StageID, "reason", sr.SkipReason)
		return sr, nil, costs
	}

	agentID := st.AgentID

	// Safety validators may soft-correct the routing decision.
	if e.safety != nil {
		safeAgent, ok := e.safety.GetSafeNextAgent(snapshot, agentID)
		if !ok {
			sr.Status = StageFailed
			sr.Error = fmt.Sprintf("safety validator blocked routing to '%s' with no recovery agent", agentID)
			return sr, nil, costs
		}
		if safeAgent != agentID {
			slog.Warn("Safety validator rewrote stage agent",
				"stage", st.StageID, "from", agentID, "to", safeAgent)
			sr.EscalatedTo = safeAgent
			agentID = safeAgent
		}
	}

	// An open breaker escapes to the supervisor stage when one exists.
	if breakers.isOpen(agentID) {
		supervisor := e.supervisorAgent(p, agentID)
		if supervisor == "" {
			sr.Status = StageFailed
			sr.Error = fmt.Sprintf("circuit breaker open for agent '%s' and no supervisor stage declared", agentID)
			return sr, nil, costs
		}
		slog.Warn("Escalating stage to supervisor", "stage", st.StageID, "agent", agentID, "supervisor", supervisor)
		sr.EscalatedTo = supervisor
		agentID = supervisor
	}

	def, err := e.agents.GetAgent(agentID)
	if err != nil {
		sr.Status = StageFailed
		sr.Error = fmt.Sprintf("agent '%s' not found", agentID)
		return sr, nil, costs
	}

	if def.Execution.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Execution.MaxExecutionTime)
		defer cancel()
	}

	invoker := newRecordingInvoker(e.tools)
	inv := &agent.Invocation{
		State:         snapshot,
		Tools:         invoker,
		Logger:        slog.Default().With("agent", agentID, "stage", st.StageID),
		StageID:       st.StageID,
		CorrelationID: p.Context.CorrelationID,
	}

	sr.Status = StageRunning
	sr.StartedAt = time.Now().UTC()

	update, runErr := e.invokeWithRetry(ctx, def, inv, breakers, sr)

	sr.CompletedAt = time.Now().UTC()
	sr.Duration = sr.CompletedAt.Sub(sr.StartedAt)
	calls, llm, api, cost := invoker.snapshot()
	sr.ToolCalls = calls
	costs = Costs{LLMCalls: llm, APICalls: api, ActualCostUSD: cost}

	e.agents.RecordExecution(def.ID, runErr == nil, sr.Duration)

	switch {
	case runErr == nil:
		sr.Status = StageSuccess
		e.warnUndeclaredWrites(def, update)
	case errors.Is(runErr, context.DeadlineExceeded):
		sr.Status = StageTimeout
		sr.Error = fmt.Sprintf("stage timed out after %s", sr.Duration)
		span.SetStatus(codes.Error, "timeout")
	case errors.Is(runErr, context.Canceled):
		sr.Status = StageTimeout
		sr.Error = "cancelled during execution"
		span.SetStatus(codes.Error, "cancelled")
	default:
		sr.Status = StageFailed
		sr.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return sr, update, costs
}

// invokeWithRetry applies the agent's retry policy around its handler,
// routing every call through the agent's circuit breaker.
func (e *Executor) invokeWithRetry(ctx context.Context, def *agent.Definition,
	inv *agent.Invocation, breakers *breakerSet, sr *StageResult) (state.Update, error) {

	cb := breakers.forAgent(def.ID)
	policy := def.Execution.Retry
	attempts := policy.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sr.Attempts = attempt

		out, err := cb.Execute(func() (any, error) {
			return def.Handler(ctx, inv)
		})
		if err == nil {
			update, _ := out.(state.Update)
			return update, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
			errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		if attempt < attempts {
			backoff := policy.Backoff
			if backoff <= 0 {
				backoff = 100 * time.Millisecond
			}
			if policy.Exponential {
				backoff = backoff << (attempt - 1)
			} else {
				backoff = backoff * time.Duration(attempt)
			}
			slog.Warn("Agent attempt failed, retrying",
				"agent", def.ID, "attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// supervisorAgent resolves the plan's supervisor stage to its agent id,
// refusing self-escalation.
func (e *Executor) supervisorAgent(p *plan.Plan, failing string) string {
	if p.SupervisorStage == "" {
		return ""
	}
	st := p.Stage(p.SupervisorStage)
	if st == nil || st.AgentID == failing {
		return ""
	}
	return st.AgentID
}

func (e *Executor) warnUndeclaredWrites(def *agent.Definition, update state.Update) {
	if len(update) == 0 {
		return
	}
	declared := make(map[string]bool, len(def.Produces.StateFields))
	for _, f := range def.Produces.StateFields {
		declared[f] = true
	}
	// Orchestration fields are always writable.
	for _, f := range []string{"next_agent", "workflow_stage", "needs_clarification",
		"clarification_question", "errors", "agent_status", "reasoning_history"} {
		declared[f] = true
	}
	for field := range update {
		if !declared[field] {
			slog.Warn("Agent wrote undeclared state field", "agent", def.ID, "field", field)
		}
	}
}
