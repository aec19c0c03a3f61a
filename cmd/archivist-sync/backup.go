package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/archivist-project/archivist-sync/internal/app"
)

const backupPIDFileName = "backup.pid"

func newBackupCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run this node's backup role (manifest discovery loop, trigger server)",
		Long: `Starts the node supervisor plus the backup daemon's poll loop and trigger
HTTP server, backing up every source peer configured in [[peer]].`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !flagWatch {
				return fmt.Errorf("--watch is required: backup has no one-shot mode")
			}

			return runBackup(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously until a shutdown signal")

	cmd.AddCommand(newBackupRetryCmd())

	return cmd
}

func newBackupRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <manifest-cid>",
		Short: "Manually retry one failed manifest, bypassing its retry-count limit",
		Long: `Drops the given manifest CID from the failed partition and re-enters the
processing state machine, resetting its retry count. Requires 'backup --watch' to already be running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupRetry(cmd.Context(), args[0])
		},
	}
}

func runBackupRetry(ctx context.Context, cid string) error {
	cc := mustCLIContext(ctx)
	port := cc.Holder.Config().Backup.TriggerPort

	retryURL := fmt.Sprintf("http://127.0.0.1:%d/retry/%s", port, url.PathEscape(cid))

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, retryURL, nil)
	if err != nil {
		return fmt.Errorf("building retry request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching backup daemon on port %d (is 'backup --watch' running?): %w", port, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("manifest %s is not in the failed partition", cid)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backup daemon rejected retry: %s", resp.Status)
	}

	statusf("retrying manifest %s\n", cid)

	return nil
}

func runBackup(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	cleanup, err := writePIDFile(filepath.Join(cc.Holder.Config().Node.DataDir, backupPIDFileName))
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := app.New(ctx, cc.Holder, cc.Logger)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	runCtx := shutdownContext(ctx, cc.Holder, cc.Logger)

	statusf("backup peer starting (%d configured source(s))\n", len(cc.Holder.Config().Peers))

	return a.Run(runCtx, app.RoleBackup)
}
