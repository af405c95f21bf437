package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harborlabs/bunkerplan/pkg/bunker"
	"github.com/harborlabs/bunkerplan/pkg/config"
	"github.com/harborlabs/bunkerplan/pkg/orchestrator"
	"github.com/harborlabs/bunkerplan/pkg/plan"
	"github.com/harborlabs/bunkerplan/pkg/state"
)

// buildOrchestrator assembles the engine over the default catalog, with any
// extra workflow file merged in.
func buildOrchestrator(ctx context.Context, cli *CLI, cfg *config.Config) (*orchestrator.Orchestrator, error) {
	catalog, err := bunker.NewCatalog(bunker.Providers{})
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}
	if cli.Workflows != "" {
		data, err := os.ReadFile(cli.Workflows)
		if err != nil {
			return nil, fmt.Errorf("reading workflow file: %w", err)
		}
		if err := catalog.Workflows.LoadYAML(data); err != nil {
			return nil, fmt.Errorf("loading workflows from %s: %w", cli.Workflows, err)
		}
	}
	return orchestrator.New(ctx, cfg, &orchestrator.Options{Catalog: catalog})
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// PlanCmd classifies a query and prints the generated plan without
// executing it.
type PlanCmd struct {
	Query    []string `arg:"" help:"The planning query."`
	Optional bool     `help:"Include optional coordinator agents in the plan."`
}

func (c *PlanCmd) Run(cli *CLI, cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	o, err := buildOrchestrator(ctx, cli, cfg)
	if err != nil {
		return err
	}
	defer o.Close()

	p, err := o.GeneratePlan(ctx, strings.Join(c.Query, " "), state.New(),
		&plan.Options{IncludeOptionalAgents: c.Optional})
	if err != nil {
		return err
	}
	return printJSON(p)
}

// RunCmd is the end-to-end path: plan, execute, synthesize, print.
type RunCmd struct {
	Query  []string `arg:"" help:"The planning query."`
	Thread string   `help:"Thread id for checkpointing. Empty generates one."`
}

func (c *RunCmd) Run(cli *CLI, cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	o, err := buildOrchestrator(ctx, cli, cfg)
	if err != nil {
		return err
	}
	defer o.Close()

	s := state.New()
	p, err := o.GeneratePlan(ctx, strings.Join(c.Query, " "), s,
		&plan.Options{CorrelationID: c.Thread})
	if err != nil {
		return err
	}

	res, execErr := o.ExecutePlan(ctx, p, s)
	if res == nil && execErr != nil {
		return execErr
	}

	payload, err := o.Synthesize(ctx, res)
	if err != nil {
		return err
	}
	if err := printJSON(payload); err != nil {
		return err
	}
	return execErr
}

// ResumeCmd prints the latest checkpointed state for a thread.
type ResumeCmd struct {
	Thread string `arg:"" help:"Thread id to resume."`
}

func (c *ResumeCmd) Run(cli *CLI, cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	o, err := buildOrchestrator(ctx, cli, cfg)
	if err != nil {
		return err
	}
	defer o.Close()

	s, err := o.Resume(ctx, c.Thread)
	if err != nil {
		return err
	}
	return printJSON(s)
}

// CatalogCmd lists the registered tools, agents and workflows.
type CatalogCmd struct{}

func (c *CatalogCmd) Run(cli *CLI, cfg *config.Config) error {
	ctx := context.Background()

	o, err := buildOrchestrator(ctx, cli, cfg)
	if err != nil {
		return err
	}
	defer o.Close()
	cat := o.Catalog()

	fmt.Println("Tools:")
	for _, id := range cat.Tools.IDs() {
		def, err := cat.Tools.GetTool(id)
		if err != nil {
			continue
		}
		fmt.Printf("  - %-22s %-12s cost=%s\n", def.ID, def.Category, def.Cost)
	}

	fmt.Println("\nAgents:")
	for _, id := range cat.Agents.IDs() {
		def, err := cat.Agents.GetAgent(id)
		if err != nil {
			continue
		}
		produces := strings.Join(def.Produces.StateFields, ", ")
		if produces == "" {
			produces = "(nothing)"
		}
		fmt.Printf("  - %-22s %-12s produces: %s\n", def.ID, def.Type, produces)
	}

	fmt.Println("\nWorkflows:")
	for _, id := range cat.Workflows.IDs() {
		w, err := cat.Workflows.GetWorkflow(id)
		if err != nil {
			continue
		}
		stages := make([]string, 0, len(w.Stages))
		for _, st := range w.Stages {
			stages = append(stages, st.StageID)
		}
		fmt.Printf("  - %-22s %s\n", w.ID, strings.Join(stages, " -> "))
	}
	return nil
}

// HealthCmd probes the checkpoint backend.
type HealthCmd struct{}

func (c *HealthCmd) Run(cli *CLI, cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	o, err := buildOrchestrator(ctx, cli, cfg)
	if err != nil {
		return err
	}
	defer o.Close()

	h := o.Health(ctx)
	if err := printJSON(h); err != nil {
		return err
	}
	if !h.Healthy {
		return fmt.Errorf("checkpoint backend '%s' unhealthy: %s", h.Backend, h.Error)
	}
	return nil
}
