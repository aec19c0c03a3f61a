package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/archivist-project/archivist-sync/internal/app"
)

const sourcePIDFileName = "source.pid"

func newSourceCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "source",
		Short: "Run this node's source role (folder watch, manifest authoring, discovery server)",
		Long: `Starts the node supervisor plus the sync engine, manifest discovery server,
and backup notifier for every folder configured in [[folder]].`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !flagWatch {
				return fmt.Errorf("--watch is required: source has no one-shot mode")
			}

			return runSource(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously until a shutdown signal")

	return cmd
}

func runSource(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	cleanup, err := writePIDFile(filepath.Join(cc.Holder.Config().Node.DataDir, sourcePIDFileName))
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := app.New(ctx, cc.Holder, cc.Logger)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	runCtx := shutdownContext(ctx, cc.Holder, cc.Logger)

	statusf("source peer starting (%d folder(s))\n", len(cc.Holder.Config().Folders))

	return a.Run(runCtx, app.RoleSource)
}
