package backupdaemon

import (
	"context"
	"errors"
	"log/slog"
)

// retryFailedManifests re-attempts every failed manifest with
// retry_count < max_retries at the end of a cycle. Manifests that have exhausted their retry budget are left in
// the failed partition untouched.
func (d *Daemon) retryFailedManifests(ctx context.Context) {
	st := d.state.snapshot()

	var toRetry []FailedManifest

	for cid, f := range st.Failed {
		if f.RetryCount >= d.cfg.MaxRetries {
			d.logger.Warn("manifest exceeded max retries, giving up",
				slog.String("manifest_cid", cid), slog.Int("max_retries", d.cfg.MaxRetries))

			continue
		}

		toRetry = append(toRetry, f)
	}

	if len(toRetry) == 0 {
		return
	}

	d.logger.Info("retrying failed manifests", slog.Int("count", len(toRetry)))

	for _, f := range toRetry {
		d.logger.Info("retrying failed manifest",
			slog.String("manifest_cid", f.ManifestCID), slog.Int("attempt", f.RetryCount+1), slog.Int("max_retries", d.cfg.MaxRetries))

		if err := d.processManifest(ctx, f.ManifestCID); err != nil {
			d.bumpRetryCount(f.ManifestCID, err)

			continue
		}

		d.logger.Info("retry succeeded", slog.String("manifest_cid", f.ManifestCID))
	}
}

func (d *Daemon) bumpRetryCount(cid string, cause error) {
	_ = d.state.mutate(func(s *State) {
		f, ok := s.Failed[cid]
		if !ok {
			return
		}

		f.RetryCount++
		f.LastError = cause.Error()
		s.Failed[cid] = f
	})
}

// ErrManifestNotFailed is returned by RetryManifest when the given CID is
// not currently in the failed partition.
var ErrManifestNotFailed = errors.New("backupdaemon: manifest is not in the failed partition")

// RetryManifest manually retries one failed manifest regardless of its
// retry count. The entry leaves the failed partition before processing, so
// a retry that fails again is recorded afresh with a retry count of 0.
func (d *Daemon) RetryManifest(ctx context.Context, cid string) error {
	st := d.state.snapshot()
	if _, ok := st.Failed[cid]; !ok {
		return ErrManifestNotFailed
	}

	d.logger.Info("manual retry requested", slog.String("manifest_cid", cid))

	_ = d.state.mutate(func(s *State) {
		delete(s.Failed, cid)
	})

	return d.processManifest(ctx, cid)
}
