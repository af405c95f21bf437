package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlabs/bunkerplan/pkg/agent"
	"github.com/harborlabs/bunkerplan/pkg/config"
	"github.com/harborlabs/bunkerplan/pkg/oerr"
	"github.com/harborlabs/bunkerplan/pkg/plan"
	"github.com/harborlabs/bunkerplan/pkg/safety"
	"github.com/harborlabs/bunkerplan/pkg/state"
	"github.com/harborlabs/bunkerplan/pkg/tool"
	"github.com/harborlabs/bunkerplan/pkg/workflow"
)

func newTestRegistry(t *testing.T, defs ...*agent.Definition) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry(nil, nil)
	for _, d := range defs {
		require.NoError(t, r.RegisterAgent(d))
	}
	return r
}

func staticAgent(id string, produces map[string]any) *agent.Definition {
	fields := make([]string, 0, len(produces))
	for f := range produces {
		fields = append(fields, f)
	}
	return &agent.Definition{
		ID:       id,
		Name:     id,
		Type:     agent.TypeSpecialist,
		Produces: agent.Produces{StateFields: fields},
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			u := make(state.Update, len(produces))
			for f, v := range produces {
				u[f] = v
			}
			return u, nil
		},
	}
}

func failingAgent(id string) *agent.Definition {
	return &agent.Definition{
		ID:   id,
		Name: id,
		Type: agent.TypeSpecialist,
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			return nil, errors.New("boom")
		},
	}
}

func testPlan(stages ...*plan.Stage) *plan.Plan {
	for i, st := range stages {
		st.Order = i
	}
	return &plan.Plan{
		PlanID:     "plan-test",
		QueryType:  "bunker_planning",
		Stages:     stages,
		Validation: plan.Validation{IsValid: true},
		Context:    plan.Context{Timeout: 30 * time.Second, CorrelationID: "corr-1"},
	}
}

func newTestExecutor(agents *agent.Registry) *Executor {
	return New(agents, tool.NewRegistry(), nil, nil, config.ExecutorConfig{})
}

func TestExecute_SequentialStagesMergeInOrder(t *testing.T) {
	agents := newTestRegistry(t,
		staticAgent("route_agent", map[string]any{"route_data": map[string]any{"distance_nm": 3200.0}}),
		staticAgent("bunker_agent", map[string]any{"bunker_analysis": map[string]any{"best_port": "SGSIN"}}),
	)
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
		&plan.Stage{StageID: "bunker", AgentID: "bunker_agent", Required: true},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"route", "bunker"}, res.StagesCompleted)
	assert.True(t, res.State.Has("route_data"))
	assert.True(t, res.State.Has("bunker_analysis"))
	assert.Equal(t, StageSuccess, res.ResultFor("route").Status)
	assert.Equal(t, []string{"route_data"}, res.ResultFor("route").ProducedFields)
}

func TestExecute_IsDeterministic(t *testing.T) {
	agents := newTestRegistry(t,
		staticAgent("route_agent", map[string]any{"route_data": "r"}),
		staticAgent("weather_agent", map[string]any{"weather_data": "w"}),
		staticAgent("finalizer_agent", map[string]any{"analysis": "done"}),
	)
	exec := newTestExecutor(agents)

	group := 1
	mkPlan := func() *plan.Plan {
		return testPlan(
			&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true, ParallelGroup: &group},
			&plan.Stage{StageID: "weather", AgentID: "weather_agent", ParallelGroup: &group},
			&plan.Stage{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
		)
	}

	first, err := exec.Execute(context.Background(), mkPlan(), state.New())
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), mkPlan(), state.New())
	require.NoError(t, err)

	assert.Equal(t, first.StagesCompleted, second.StagesCompleted)
	assert.Equal(t, first.StagesSkipped, second.StagesSkipped)
	for f := range first.State {
		assert.Equal(t, first.State[f], second.State[f], "field %s", f)
	}
}

// The executor never calls an LLM: agents without LLM tools yield zero
// llm_calls no matter how many stages run.
func TestExecute_NoLLMCalls(t *testing.T) {
	agents := newTestRegistry(t,
		staticAgent("route_agent", map[string]any{"route_data": "r"}),
		staticAgent("bunker_agent", map[string]any{"bunker_analysis": "a"}),
		staticAgent("finalizer_agent", map[string]any{"analysis": "done"}),
	)
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
		&plan.Stage{StageID: "bunker", AgentID: "bunker_agent", Required: true},
		&plan.Stage{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Zero(t, res.Costs.LLMCalls)
	assert.Zero(t, res.VsEstimates.ActualLLMCalls)
}

func TestExecute_SkipWhenFieldPresent(t *testing.T) {
	var routeRuns atomic.Int32
	route := &agent.Definition{
		ID: "route_agent", Name: "route_agent", Type: agent.TypeSpecialist,
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			routeRuns.Add(1)
			return state.Update{"route_data": "computed"}, nil
		},
	}
	agents := newTestRegistry(t, route,
		staticAgent("bunker_agent", map[string]any{"bunker_analysis": "a"}))
	exec := newTestExecutor(agents)

	exists := true
	p := testPlan(
		&plan.Stage{
			StageID: "route", AgentID: "route_agent", Required: true,
			SkipWhen: &workflow.Predicate{StateChecks: map[string]workflow.StateCheck{
				"route_data": {Exists: &exists},
			}},
		},
		&plan.Stage{StageID: "bunker", AgentID: "bunker_agent", Required: true},
	)

	initial := state.New()
	initial["route_data"] = map[string]any{"distance_nm": 8200.0}

	res, err := exec.Execute(context.Background(), p, initial)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Zero(t, routeRuns.Load())
	assert.Equal(t, []string{"route"}, res.StagesSkipped)
	assert.Equal(t, StageSkipped, res.ResultFor("route").Status)
	assert.Equal(t, map[string]any{"distance_nm": 8200.0}, res.State["route_data"])
	assert.Equal(t, []string{"bunker"}, res.StagesCompleted)
}

func TestExecute_ContinueWhenNotSatisfiedSkips(t *testing.T) {
	agents := newTestRegistry(t,
		staticAgent("route_agent", map[string]any{"route_data": "r"}),
		staticAgent("weather_agent", map[string]any{"weather_data": "w"}),
	)
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
		&plan.Stage{
			StageID: "weather", AgentID: "weather_agent",
			ContinueWhen: &workflow.Predicate{StateChecks: map[string]workflow.StateCheck{
				"workflow_stage": {Equals: "weather_requested"},
			}},
		},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"weather"}, res.StagesSkipped)
	assert.False(t, res.State.Has("weather_data"))
}

func TestExecute_RequiredFailureAbortsRemainingStages(t *testing.T) {
	var finalizeRuns atomic.Int32
	finalize := &agent.Definition{
		ID: "finalizer_agent", Name: "finalizer_agent", Type: agent.TypeFinalizer,
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			finalizeRuns.Add(1)
			return state.Update{"analysis": "done"}, nil
		},
	}
	agents := newTestRegistry(t, failingAgent("route_agent"), finalize)
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
		&plan.Stage{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, []string{"route"}, res.StagesFailed)
	assert.Contains(t, res.Errors["route"], "boom")
	assert.Zero(t, finalizeRuns.Load())
	assert.Len(t, res.StageResults, 1)
}

func TestExecute_ContinueOnErrorRunsRemainingStages(t *testing.T) {
	agents := newTestRegistry(t,
		failingAgent("route_agent"),
		staticAgent("finalizer_agent", map[string]any{"analysis": "done"}),
	)
	exec := New(agents, tool.NewRegistry(), nil, nil, config.ExecutorConfig{ContinueOnError: true})

	p := testPlan(
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
		&plan.Stage{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.False(t, res.Success, "required failure keeps the plan unsuccessful")
	assert.Equal(t, []string{"finalize"}, res.StagesCompleted)
	assert.True(t, res.State.Has("analysis"))
}

func TestExecute_OptionalFailureDoesNotBlock(t *testing.T) {
	agents := newTestRegistry(t,
		staticAgent("route_agent", map[string]any{"route_data": "r"}),
		failingAgent("weather_agent"),
		staticAgent("finalizer_agent", map[string]any{"analysis": "done"}),
	)
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
		&plan.Stage{StageID: "weather", AgentID: "weather_agent", Required: false},
		&plan.Stage{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.True(t, res.Success, "optional failure must not fail the plan")
	assert.Equal(t, []string{"route", "finalize"}, res.StagesCompleted)
	assert.Equal(t, []string{"weather"}, res.StagesFailed)
}

func TestExecute_ParallelGroupMergesEqualWrites(t *testing.T) {
	group := 1
	mk := func(id string) *agent.Definition {
		return &agent.Definition{
			ID: id, Name: id, Type: agent.TypeSpecialist,
			Execution: agent.ExecutionHints{CanRunInParallel: true},
			Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
				return state.Update{
					id + "_out":      id,
					"workflow_stage": "gathering",
				}, nil
			},
		}
	}
	agents := newTestRegistry(t, mk("weather_agent"), mk("price_agent"))
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "weather", AgentID: "weather_agent", Required: true, ParallelGroup: &group},
		&plan.Stage{StageID: "price", AgentID: "price_agent", Required: true, ParallelGroup: &group},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.State.Has("weather_agent_out"))
	assert.True(t, res.State.Has("price_agent_out"))
	assert.Equal(t, "gathering", res.State["workflow_stage"])
}

func TestExecute_ParallelConflictFailsRequiredStage(t *testing.T) {
	group := 1
	mk := func(id, value string) *agent.Definition {
		return &agent.Definition{
			ID: id, Name: id, Type: agent.TypeSpecialist,
			Execution: agent.ExecutionHints{CanRunInParallel: true},
			Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
				return state.Update{"fuel_prices": value}, nil
			},
		}
	}
	agents := newTestRegistry(t, mk("price_agent", "a"), mk("alt_price_agent", "b"))
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "price", AgentID: "price_agent", Required: true, ParallelGroup: &group},
		&plan.Stage{StageID: "alt_price", AgentID: "alt_price_agent", Required: true, ParallelGroup: &group},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, []string{"alt_price"}, res.StagesFailed)
	assert.Contains(t, res.Errors["alt_price"], "conflicting concurrent writes")
	assert.Equal(t, "a", res.State["fuel_prices"], "first writer in stage order wins")
}

func TestExecute_RetrySucceedsOnSecondAttempt(t *testing.T) {
	var attempts atomic.Int32
	flaky := &agent.Definition{
		ID: "price_agent", Name: "price_agent", Type: agent.TypeSpecialist,
		Execution: agent.ExecutionHints{
			Retry: agent.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond},
		},
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("transient upstream error")
			}
			return state.Update{"fuel_prices": "ok"}, nil
		},
	}
	exec := newTestExecutor(newTestRegistry(t, flaky))

	p := testPlan(&plan.Stage{StageID: "price", AgentID: "price_agent", Required: true})
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, 2, res.ResultFor("price").Attempts)
}

func TestExecute_StageTimeout(t *testing.T) {
	slow := &agent.Definition{
		ID: "route_agent", Name: "route_agent", Type: agent.TypeSpecialist,
		Execution: agent.ExecutionHints{MaxExecutionTime: 20 * time.Millisecond},
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			select {
			case <-time.After(5 * time.Second):
				return state.Update{"route_data": "late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	exec := newTestExecutor(newTestRegistry(t, slow))

	p := testPlan(&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true})
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, StageTimeout, res.ResultFor("route").Status)
	assert.False(t, res.State.Has("route_data"))
}

func TestExecute_ClarificationStopsExecution(t *testing.T) {
	extractor := &agent.Definition{
		ID: "entity_extractor", Name: "entity_extractor", Type: agent.TypeCoordinator,
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			return state.Update{
				"needs_clarification":    true,
				"clarification_question": "Which vessel did you mean?",
			}, nil
		},
	}
	agents := newTestRegistry(t, extractor,
		staticAgent("route_agent", map[string]any{"route_data": "r"}))
	exec := newTestExecutor(agents)

	p := testPlan(
		&plan.Stage{StageID: "extract", AgentID: "entity_extractor", Required: true},
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
	)
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.NeedsClarification)
	assert.Equal(t, []string{"extract"}, res.StagesCompleted)
	assert.Nil(t, res.ResultFor("route"), "stages after the clarification never run")
}

func TestExecute_SafetyValidatorRewritesAgent(t *testing.T) {
	var order []string
	mk := func(id string, u state.Update) *agent.Definition {
		return &agent.Definition{
			ID: id, Name: id, Type: agent.TypeSpecialist,
			Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
				order = append(order, id)
				return u, nil
			},
		}
	}
	agents := newTestRegistry(t,
		mk("route_agent", state.Update{"route_data": "r"}),
		mk("bunker_agent", state.Update{"bunker_analysis": "a"}),
	)
	exec := New(agents, tool.NewRegistry(), safety.DefaultSet(), nil, config.ExecutorConfig{})

	// The plan routes straight to the bunker agent without route data; the
	// safety validator must substitute the route agent.
	p := testPlan(&plan.Stage{StageID: "bunker", AgentID: "bunker_agent", Required: true})
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"route_agent"}, order)
	sr := res.ResultFor("bunker")
	assert.Equal(t, "route_agent", sr.EscalatedTo)
	assert.True(t, res.State.Has("route_data"))
}

func TestExecute_CircuitBreakerEscalatesToSupervisor(t *testing.T) {
	var supervisorRuns atomic.Int32
	supervisor := &agent.Definition{
		ID: "supervisor_agent", Name: "supervisor_agent", Type: agent.TypeSupervisor,
		Handler: func(ctx context.Context, inv *agent.Invocation) (state.Update, error) {
			supervisorRuns.Add(1)
			return state.Update{"agent_status": map[string]any{"price_agent": "recovered"}}, nil
		},
	}
	agents := newTestRegistry(t, failingAgent("price_agent"), supervisor)
	exec := New(agents, tool.NewRegistry(), nil, nil, config.ExecutorConfig{ContinueOnError: true})

	var stages []*plan.Stage
	// Three consecutive failures trip the breaker; the fourth stage must
	// escalate instead of invoking the broken agent.
	for i := 0; i < 4; i++ {
		stages = append(stages, &plan.Stage{
			StageID: fmt.Sprintf("price_%d", i), AgentID: "price_agent", Required: true,
		})
	}
	stages = append(stages, &plan.Stage{StageID: "supervise", AgentID: "supervisor_agent"})
	p := testPlan(stages...)
	p.SupervisorStage = "supervise"

	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	escalated := res.ResultFor("price_3")
	require.NotNil(t, escalated)
	assert.Equal(t, "supervisor_agent", escalated.EscalatedTo)
	assert.Equal(t, StageSuccess, escalated.Status)
	assert.GreaterOrEqual(t, supervisorRuns.Load(), int32(1))
}

func TestExecute_InvalidPlanRefused(t *testing.T) {
	exec := newTestExecutor(newTestRegistry(t))

	p := testPlan(&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true})
	p.Validation = plan.Validation{IsValid: false, InvalidAgents: []string{"route_agent"}}

	res, err := exec.Execute(context.Background(), p, state.New())
	require.Error(t, err)
	assert.Equal(t, oerr.CodePlanInvalid, oerr.CodeOf(err))
	assert.Nil(t, res)
}

func TestExecute_CancelledContext(t *testing.T) {
	agents := newTestRegistry(t,
		staticAgent("route_agent", map[string]any{"route_data": "r"}),
		staticAgent("finalizer_agent", map[string]any{"analysis": "done"}),
	)
	exec := newTestExecutor(agents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := testPlan(
		&plan.Stage{StageID: "route", AgentID: "route_agent", Required: true},
		&plan.Stage{StageID: "finalize", AgentID: "finalizer_agent", Required: true},
	)
	res, err := exec.Execute(ctx, p, state.New())
	require.Error(t, err)
	assert.Equal(t, oerr.CodeCancelled, oerr.CodeOf(err))
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	assert.False(t, res.Success)
}

func TestExecute_UnknownAgentFailsStage(t *testing.T) {
	exec := newTestExecutor(newTestRegistry(t))

	p := testPlan(&plan.Stage{StageID: "route", AgentID: "ghost_agent", Required: true})
	res, err := exec.Execute(context.Background(), p, state.New())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Errors["route"], "not found")
}

func TestBatchStages(t *testing.T) {
	g1, g2 := 1, 2
	p := testPlan(
		&plan.Stage{StageID: "a"},
		&plan.Stage{StageID: "b", ParallelGroup: &g1},
		&plan.Stage{StageID: "c", ParallelGroup: &g1},
		&plan.Stage{StageID: "d", ParallelGroup: &g2},
		&plan.Stage{StageID: "e"},
	)
	batches := batchStages(p)
	require.Len(t, batches, 4)
	assert.Len(t, batches[0], 1)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
	assert.Len(t, batches[3], 1)
}
