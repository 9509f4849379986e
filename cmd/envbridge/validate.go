package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlanticdynamic/envbridge/internal/config"
	"github.com/urfave/cli/v3"
)

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"lint"},
		Usage:     "Validate a configuration file",
		ArgsUsage: "[config file]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "tree",
				Aliases: []string{"t"},
				Usage:   "Show detailed tree view of the validated configuration",
			},
		},
		Suggest: true,
		Action:  validateAction,
	}
}

func validateAction(_ context.Context, cmd *cli.Command) error {
	// The root --config flag is the fallback for the positional argument.
	configPath := cmd.Args().First()
	if configPath == "" {
		configPath = cmd.String("config")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	w := cmd.Root().Writer
	if configPath == "" {
		fmt.Fprintln(w, "Built-in configuration is valid")
	} else {
		fmt.Fprintf(w, "Configuration file %s is valid\n", configPath)
	}

	if cmd.Bool("tree") {
		fmt.Fprintln(w, config.ConfigTree(cfg))
		return nil
	}

	fmt.Fprintln(w, renderConfigSummary(configPath, cfg))
	return nil
}

// renderConfigSummary creates a formatted summary string for the configuration
func renderConfigSummary(path string, cfg *config.Config) string {
	var summary strings.Builder

	summary.WriteString("\nConfig Summary:\n")
	if path != "" {
		summary.WriteString(fmt.Sprintf("- Path: %s\n", path))
	}
	summary.WriteString(fmt.Sprintf("- Dependencies: %d\n", len(cfg.Dependencies)))
	summary.WriteString(fmt.Sprintf("- Asset: %s\n", cfg.Asset.URL))
	summary.WriteString(fmt.Sprintf("- Activation: %s\n", cfg.Bridge.Activation))
	summary.WriteString("\nUse --tree for a more detailed view of the config.")

	return summary.String()
}
