package backupdaemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/archivist-project/archivist-sync/internal/config"
)

// discoveredManifest is one manifest descriptor flattened out of a source
// peer's discovery response.
type discoveredManifest struct {
	ManifestCID  string
	FolderID     string
	Sequence     uint64
	SourcePeerID string
	SourceHost   string
	MultiAddr    string
}

// ErrAllSourcesUnreachable is the infrastructure error for a cycle in
// which every enabled source peer failed to answer.
var ErrAllSourcesUnreachable = errors.New("backupdaemon: all source peers unreachable")

// discover polls every enabled source peer and flattens the results. A
// single source's failure is logged and does not abort the cycle.
func (d *Daemon) discover(ctx context.Context, peers []config.PeerConfig) ([]discoveredManifest, error) {
	var (
		discovered []discoveredManifest
		errs       error
		enabled    int
		failures   int
	)

	for _, peer := range peers {
		if !peer.Enabled {
			continue
		}

		enabled++

		resp, err := d.discoveryClient.FetchManifests(ctx, peer.Host, peer.ManifestPort)
		if err != nil {
			failures++

			d.logger.Warn("polling source peer failed",
				slog.String("peer", peer.Nickname), slog.String("host", peer.Host), slog.String("error", err.Error()))

			errs = multierr.Append(errs, fmt.Errorf("peer %s: %w", peer.Nickname, err))

			continue
		}

		for _, m := range resp.Manifests {
			discovered = append(discovered, discoveredManifest{
				ManifestCID:  m.ManifestCID,
				FolderID:     m.FolderID,
				Sequence:     m.SequenceNumber,
				SourcePeerID: resp.PeerID,
				SourceHost:   peer.Host,
				MultiAddr:    peer.MultiAddr,
			})
		}
	}

	if enabled > 0 && failures == enabled {
		return discovered, fmt.Errorf("%w: %w", ErrAllSourcesUnreachable, errs)
	}

	return discovered, nil
}

// filterUnprocessed drops any CID already accounted for in the processed
// or in-progress partitions.
func filterUnprocessed(manifests []discoveredManifest, st State) []discoveredManifest {
	out := manifests[:0:0]

	for _, m := range manifests {
		if st.isProcessed(m.ManifestCID) {
			continue
		}

		out = append(out, m)
	}

	return out
}
