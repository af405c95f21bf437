// Command bunkerplan runs the bunker-planning orchestration engine from the
// command line.
//
// Usage:
//
//	bunkerplan plan "cheapest VLSFO from Singapore to Rotterdam, 1500 MT"
//	bunkerplan run --thread voyage-42 "bunker plan Singapore to Rotterdam"
//	bunkerplan resume voyage-42
//	bunkerplan catalog
//	bunkerplan health
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/harborlabs/bunkerplan/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Plan    PlanCmd    `cmd:"" help:"Classify a query and print the generated execution plan."`
	Run     RunCmd     `cmd:"" help:"Plan, execute and synthesize a query end to end."`
	Resume  ResumeCmd  `cmd:"" help:"Print the latest checkpointed state for a thread."`
	Catalog CatalogCmd `cmd:"" help:"List registered tools, agents and workflows."`
	Health  HealthCmd  `cmd:"" help:"Probe the checkpoint backend."`

	Workflows     string `help:"Extra workflow definitions to register (YAML file)." type:"path"`
	CheckpointURL string `name:"checkpoint-url" help:"Checkpoint backend URL (redis://...). Empty = in-memory."`
	LogLevel      string `help:"Log level (debug, info, warn, error)." default:""`
	LogFormat     string `help:"Log format (text or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("bunkerplan %s\n", version)
	return nil
}

// loadConfig builds the engine configuration from the environment with CLI
// flag overrides applied on top.
func (cli *CLI) loadConfig() *config.Config {
	cfg := config.FromEnv()
	if cli.CheckpointURL != "" {
		cfg.Checkpoint.BackendURL = cli.CheckpointURL
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	return cfg
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("bunkerplan"),
		kong.Description("bunkerplan - deterministic multi-agent bunker planning engine"),
		kong.UsageOnError(),
	)

	cfg := cli.loadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logging.NewLogger())

	err := ctx.Run(&cli, cfg)
	ctx.FatalIfErrorf(err)
}
