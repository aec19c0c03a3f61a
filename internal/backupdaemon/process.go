package backupdaemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
)

// downloadResult tallies one manifest's file-download phase.
type downloadResult struct {
	downloaded      int
	failed          int
	skippedExisting int
}

// deletionResult tallies one manifest's deletion-enforcement phase.
type deletionResult struct {
	deleted  int
	failed   int
	notFound int
}

// processManifest walks one manifest CID through the full state machine:
// fetch (local, then network), decode, sequence-gap check, mark
// in-progress, download files, enforce deletions, finalize.
func (d *Daemon) processManifest(ctx context.Context, cid string) error {
	d.logger.Info("processing manifest", slog.String("manifest_cid", cid))

	manifest, err := d.fetchManifest(ctx, cid)
	if err != nil {
		wrapped := fmt.Errorf("backupdaemon: fetching manifest %s: %w", cid, err)
		d.finalizeFailed(cid, "", wrapped)

		return wrapped
	}

	st := d.state.snapshot()
	if highest, ok := st.highestProcessedSequence(manifest.SourcePeerID, manifest.FolderID); ok {
		if manifest.SequenceNumber <= highest {
			// Stale manifest: marked processed without further work,
			// keeping the audit trail instead of dropping it silently.
			return d.markStaleProcessed(cid, manifest)
		}

		if manifest.SequenceNumber > highest+1 {
			d.logger.Warn("sequence gap detected",
				slog.String("source_peer_id", manifest.SourcePeerID),
				slog.String("folder_id", manifest.FolderID),
				slog.Uint64("expected", highest+1),
				slog.Uint64("got", manifest.SequenceNumber),
				slog.Uint64("gap", manifest.SequenceNumber-highest-1),
			)
		}
	}

	if err := d.markInProgress(cid, manifest); err != nil {
		wrapped := fmt.Errorf("backupdaemon: marking manifest in-progress: %w", err)
		d.finalizeFailed(cid, manifest.SourcePeerID, wrapped)

		return wrapped
	}

	presence, err := loadLocalPresence(ctx, d.client)
	if err != nil {
		d.finalizeFailed(cid, manifest.SourcePeerID, err)

		return err
	}

	dl := d.downloadManifestFiles(ctx, cid, manifest, presence)

	var del deletionResult
	if d.cfg.AutoDeleteTombstones {
		del = d.enforceDeletions(ctx, manifest, presence)
	}

	d.finalizeProcessed(cid, manifest, dl, del)

	return nil
}

func (d *Daemon) fetchManifest(ctx context.Context, cid string) (manifestfmt.Manifest, error) {
	tmp, err := tempManifestPath(d.cfg.StatePath, cid)
	if err != nil {
		return manifestfmt.Manifest{}, err
	}

	defer removeQuiet(tmp)

	if err := d.client.DownloadToPath(ctx, cid, tmp); err != nil {
		d.logger.Info("manifest not available locally, requesting network fetch",
			slog.String("manifest_cid", cid), slog.String("error", err.Error()))

		if ferr := d.client.RequestNetworkFetch(ctx, cid); ferr != nil {
			return manifestfmt.Manifest{}, fmt.Errorf("requesting network fetch: %w", ferr)
		}

		if derr := d.client.DownloadToPath(ctx, cid, tmp); derr != nil {
			return manifestfmt.Manifest{}, fmt.Errorf("downloading manifest after network fetch: %w", derr)
		}
	}

	data, err := readFile(tmp)
	if err != nil {
		return manifestfmt.Manifest{}, err
	}

	return manifestfmt.Decode(data)
}

func (d *Daemon) markInProgress(cid string, manifest manifestfmt.Manifest) error {
	return d.state.mutate(func(s *State) {
		s.InProgress[cid] = InProgressManifest{
			ManifestCID:  cid,
			SourcePeerID: manifest.SourcePeerID,
			Sequence:     manifest.SequenceNumber,
			StartedAt:    time.Now().UTC(),
			TotalFiles:   len(manifest.Files),
			Status:       "downloading files",
		}
	})
}

func (d *Daemon) markStaleProcessed(cid string, manifest manifestfmt.Manifest) error {
	d.logger.Info("manifest sequence already processed, skipping fetch",
		slog.String("manifest_cid", cid), slog.Uint64("sequence", manifest.SequenceNumber))

	return d.state.mutate(func(s *State) {
		delete(s.Failed, cid)

		s.Processed[cid] = ProcessedManifest{
			ManifestCID:  cid,
			SourcePeerID: manifest.SourcePeerID,
			Sequence:     manifest.SequenceNumber,
			FolderID:     manifest.FolderID,
			ProcessedAt:  time.Now().UTC(),
		}
	})
}

// downloadManifestFiles downloads files in batches of
// max_concurrent_downloads, updating the in-progress record after every
// batch.
func (d *Daemon) downloadManifestFiles(ctx context.Context, cid string, manifest manifestfmt.Manifest, presence *localPresence) downloadResult {
	var result downloadResult

	batchSize := d.cfg.MaxConcurrentDownloads
	if batchSize < 1 {
		batchSize = 1
	}

	files := manifest.Files

	for start := 0; start < len(files); start += batchSize {
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}

		batch := files[start:end]

		g, gctx := errgroup.WithContext(ctx)
		outcomes := make([]string, len(batch))

		for i, f := range batch {
			i, f := i, f

			g.Go(func() error {
				if presence.has(f.CID) {
					outcomes[i] = "skipped"

					return nil
				}

				if err := d.client.RequestNetworkFetch(gctx, f.CID); err != nil {
					d.logger.Warn("file download failed",
						slog.String("path", f.Path), slog.String("cid", f.CID), slog.String("error", err.Error()))
					outcomes[i] = "failed"

					return nil
				}

				outcomes[i] = "downloaded"

				return nil
			})
		}

		_ = g.Wait()

		for _, outcome := range outcomes {
			switch outcome {
			case "downloaded":
				result.downloaded++
			case "skipped":
				result.skippedExisting++
			case "failed":
				result.failed++
			}
		}

		d.updateProgress(cid, result)
	}

	return result
}

func (d *Daemon) updateProgress(cid string, result downloadResult) {
	_ = d.state.mutate(func(s *State) {
		p, ok := s.InProgress[cid]
		if !ok {
			return
		}

		p.FilesDone = result.downloaded + result.skippedExisting
		p.FilesFailed = result.failed
		s.InProgress[cid] = p
	})
}

// enforceDeletions applies every tombstone in manifest against local
// storage.
func (d *Daemon) enforceDeletions(ctx context.Context, manifest manifestfmt.Manifest, presence *localPresence) deletionResult {
	var result deletionResult

	for _, t := range manifest.DeletedFiles {
		if !presence.has(t.CID) {
			result.notFound++

			continue
		}

		if err := d.client.Delete(ctx, t.CID); err != nil {
			d.logger.Warn("tombstone deletion failed",
				slog.String("path", t.Path), slog.String("cid", t.CID), slog.String("error", err.Error()))
			result.failed++

			continue
		}

		result.deleted++
	}

	return result
}

func (d *Daemon) finalizeProcessed(cid string, manifest manifestfmt.Manifest, dl downloadResult, del deletionResult) {
	d.logger.Info("manifest processed",
		slog.String("manifest_cid", cid),
		slog.Int("downloaded", dl.downloaded),
		slog.Int("skipped_existing", dl.skippedExisting),
		slog.Int("failed", dl.failed),
		slog.Int("deleted", del.deleted),
	)

	_ = d.state.mutate(func(s *State) {
		delete(s.InProgress, cid)
		delete(s.Failed, cid)

		s.Processed[cid] = ProcessedManifest{
			ManifestCID:    cid,
			SourcePeerID:   manifest.SourcePeerID,
			Sequence:       manifest.SequenceNumber,
			FolderID:       manifest.FolderID,
			ProcessedAt:    time.Now().UTC(),
			FileCount:      dl.downloaded + dl.skippedExisting,
			BytesApplied:   manifest.Stats.TotalSizeBytes,
			DeletionsCount: del.deleted,
		}

		s.Counters.ManifestsProcessed++
		s.Counters.FilesDownloaded += uint64(dl.downloaded)
		s.Counters.BytesDownloaded += manifest.Stats.TotalSizeBytes
		s.Counters.FilesDeleted += uint64(del.deleted)
	})
}

func (d *Daemon) finalizeFailed(cid, sourcePeerID string, cause error) {
	d.logger.Error("manifest processing failed", slog.String("manifest_cid", cid), slog.String("error", cause.Error()))

	_ = d.state.mutate(func(s *State) {
		delete(s.InProgress, cid)

		existing, retried := s.Failed[cid]
		retryCount := 0

		if retried {
			retryCount = existing.RetryCount

			if sourcePeerID == "" {
				sourcePeerID = existing.SourcePeerID
			}
		}

		s.Failed[cid] = FailedManifest{
			ManifestCID:  cid,
			SourcePeerID: sourcePeerID,
			FailedAt:     time.Now().UTC(),
			LastError:    cause.Error(),
			RetryCount:   retryCount,
		}
	})
}
