package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archivist-project/archivist-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg := mustCLIContext(cmd.Context()).Holder.Config()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cfg)
	}

	return config.RenderEffective(cfg, os.Stdout)
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the resolved configuration without starting anything",
		// loadConfig already runs Validate as part of config.Load; reaching
		// this RunE at all means validation passed.
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := mustCLIContext(cmd.Context()).Holder.Path()

			fmt.Printf("configuration valid (%s)\n", path)

			return nil
		},
	}
}
