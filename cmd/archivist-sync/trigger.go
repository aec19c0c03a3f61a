package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const triggerRequestTimeout = 10 * time.Second

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Force an immediate poll cycle on this node's running backup daemon",
		Long: `Sends a request to the backup daemon's trigger HTTP server,
the same endpoint a source peer's notifier calls after authoring a new
manifest. Requires 'backup --watch' to already be running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrigger(cmd.Context())
		},
	}
}

func runTrigger(ctx context.Context) error {
	cc := mustCLIContext(ctx)
	port := cc.Holder.Config().Backup.TriggerPort

	url := fmt.Sprintf("http://127.0.0.1:%d/trigger", port)

	reqCtx, cancel := context.WithTimeout(ctx, triggerRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("building trigger request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching backup daemon on port %d (is 'backup --watch' running?): %w", port, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backup daemon rejected trigger: %s", resp.Status)
	}

	statusf("triggered immediate poll cycle\n")

	return nil
}
