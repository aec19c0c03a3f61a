package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/supervisor"
)

const nodePIDFileName = "node.pid"

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage the storage-node child process directly, without the sync engine",
	}

	cmd.AddCommand(newNodeStartCmd())
	cmd.AddCommand(newNodeStopCmd())
	cmd.AddCommand(newNodeStatusCmd())

	return cmd
}

func newNodeStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Spawn and supervise the node child process in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNodeStart(cmd.Context())
		},
	}
}

func runNodeStart(ctx context.Context) error {
	cc := mustCLIContext(ctx)
	cfg := cc.Holder.Config()

	cleanup, err := writePIDFile(filepath.Join(cfg.Node.DataDir, nodePIDFileName))
	if err != nil {
		return err
	}
	defer cleanup()

	client := nodeapi.New(cfg.Node.APIPort, nil, cc.Logger)
	sup := supervisor.New(supervisor.Config{
		BinaryPath:    cfg.Node.BinaryPath,
		DataDir:       cfg.Node.DataDir,
		APIPort:       cfg.Node.APIPort,
		DiscoveryPort: cfg.Node.DiscoveryPort,
		ListenPort:    cfg.Node.ListenPort,
		MaxRestarts:   cfg.Node.MaxRestarts,
	}, client, cc.Logger)

	runCtx := shutdownContext(ctx, cc.Holder, cc.Logger)

	if err := sup.Start(runCtx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	statusf("node running (pid file at %s)\n", filepath.Join(cfg.Node.DataDir, nodePIDFileName))

	<-runCtx.Done()

	return sup.Stop(context.Background())
}

func newNodeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a node started with 'node start'",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNodeStop(cmd.Context())
		},
	}
}

func runNodeStop(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	pidPath := filepath.Join(cc.Holder.Config().Node.DataDir, nodePIDFileName)

	pid, err := readPIDFile(pidPath)
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stopping node (pid %d): %w", pid, err)
	}

	statusf("sent stop signal to node (pid %d)\n", pid)

	return nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("no running node found (no PID file at %s)", path)
		}

		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

func newNodeStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the node's health and identity over its REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNodeStatus(cmd.Context())
		},
	}
}

func runNodeStatus(ctx context.Context) error {
	cc := mustCLIContext(ctx)
	cfg := cc.Holder.Config()

	client := nodeapi.New(cfg.Node.APIPort, nil, cc.Logger)

	if !client.Health(ctx) {
		return fmt.Errorf("node is not responding on port %d", cfg.Node.APIPort)
	}

	info, err := client.Info(ctx)
	if err != nil {
		return fmt.Errorf("fetching node info: %w", err)
	}

	statusf("node healthy\n  peer id: %s\n  version: %s\n", info.PeerID, info.Archivist.Version)

	return nil
}
