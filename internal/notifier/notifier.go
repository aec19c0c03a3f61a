// Package notifier implements the Backup Notifier: after a
// source peer authors a manifest, it ensures P2P connectivity to the
// configured backup peer and sends a low-latency HTTP trigger so the
// remote Backup Daemon polls immediately instead of waiting out its poll
// interval.
package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/archivist-project/archivist-sync/internal/config"
	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/syncengine"
)

const (
	triggerTimeout = 10 * time.Second
	retryInterval  = 30 * time.Second
)

// Target is one folder's configured backup destination.
type Target struct {
	FolderID    string
	PeerID      string
	MultiAddr   string
	TriggerPort int
}

// Notifier sends HTTP triggers to backup peers and retries folders still
// carrying pending_retry on a fixed schedule.
type Notifier struct {
	client *nodeapi.Client
	http   *http.Client
	engine *syncengine.Engine
	holder *config.Holder
	logger *slog.Logger
}

// New builds a Notifier. client is used to ensure P2P connectivity via
// connect_peer; httpClient sends the trigger POST itself and may be nil.
func New(client *nodeapi.Client, httpClient *http.Client, engine *syncengine.Engine, holder *config.Holder, logger *slog.Logger) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{client: client, http: httpClient, engine: engine, holder: holder, logger: logger}
}

// Run retries folders with a pending backup notification every 30 seconds
// until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	n.retryPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.retryPending(ctx)
		}
	}
}

func (n *Notifier) retryPending(ctx context.Context) {
	for _, target := range n.pendingTargets() {
		if err := n.Notify(ctx, target); err != nil {
			n.logger.Warn("backup notification retry failed",
				slog.String("folder_id", target.FolderID), slog.String("error", err.Error()))
		}
	}
}

// pendingTargets resolves every folder configured for auto-notify whose
// in-memory state still carries pending_retry into a concrete Target.
func (n *Notifier) pendingTargets() []Target {
	cfg := n.holder.Config()

	peersByNick := make(map[string]config.PeerConfig, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peersByNick[p.Nickname] = p
	}

	var targets []Target

	for _, f := range cfg.Folders {
		if f.BackupPeer == "" || !f.AutoNotify {
			continue
		}

		state, ok := n.engine.Status(f.ID)
		if !ok || !state.PendingRetry {
			continue
		}

		peer, ok := peersByNick[f.BackupPeer]
		if !ok || !peer.Enabled {
			continue
		}

		targets = append(targets, Target{
			FolderID:    f.ID,
			PeerID:      peer.PeerID,
			MultiAddr:   peer.MultiAddr,
			TriggerPort: peer.TriggerPort,
		})
	}

	return targets
}

// Notify performs the full notification sequence for one folder:
// ensure peer connectivity, extract the backup peer's
// host from its multi-address, POST /trigger, and on success clear the
// folder's pending_retry and stamp backup_synced_at.
func (n *Notifier) Notify(ctx context.Context, target Target) error {
	n.logger.Info("notifying backup peer",
		slog.String("folder_id", target.FolderID), slog.String("multiaddr", target.MultiAddr))

	if target.MultiAddr != "" {
		if err := n.client.ConnectPeer(ctx, target.PeerID, target.MultiAddr); err != nil {
			return fmt.Errorf("notifier: connecting to backup peer: %w", err)
		}
	}

	host, err := hostFromMultiAddr(target.MultiAddr)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	if err := n.postTrigger(ctx, host, target.TriggerPort); err != nil {
		return err
	}

	n.engine.MarkBackupSynced(target.FolderID, time.Now().UTC())

	n.logger.Info("backup peer triggered successfully", slog.String("folder_id", target.FolderID))

	return nil
}

func (n *Notifier) postTrigger(ctx context.Context, host string, port int) error {
	ctx, cancel := context.WithTimeout(ctx, triggerTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/trigger", host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("notifier: building trigger request: %w", err)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: sending trigger to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("notifier: backup peer trigger failed with status %d: %s", resp.StatusCode, body)
	}

	return nil
}

// hostFromMultiAddr extracts the host component from a multi-address,
// handling ip4, ip6, and dns4/dns6/dns encodings.
func hostFromMultiAddr(addr string) (string, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("parsing multiaddr %q: %w", addr, err)
	}

	for _, proto := range []int{multiaddr.P_IP4, multiaddr.P_IP6, multiaddr.P_DNS4, multiaddr.P_DNS6, multiaddr.P_DNS} {
		if value, err := ma.ValueForProtocol(proto); err == nil {
			return value, nil
		}
	}

	return "", fmt.Errorf("could not extract host from multiaddr %q: expected an ip4, ip6, or dns component", addr)
}
