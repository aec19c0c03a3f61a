package backupdaemon

import (
	"context"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/archivist-project/archivist-sync/internal/nodeapi"
)

// presenceEstimatedItems and presenceFalsePositiveRate size the per-cycle
// bloom filter — generous enough that a node holding a few hundred
// thousand blobs still keeps a low false-positive rate.
const (
	presenceEstimatedItems    = 200_000
	presenceFalsePositiveRate = 0.01
)

// localPresence answers "is this CID stored locally" for one daemon cycle
// without re-listing the node's data per file. The bloom filter is a fast,
// never a
// false-negative pre-check; a positive is always confirmed against the
// exact set fetched alongside it, so filter false positives never affect
// correctness.
type localPresence struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// loadLocalPresence fetches the node's full local data listing once and
// builds both the exact set and the bloom pre-check from it.
func loadLocalPresence(ctx context.Context, client *nodeapi.Client) (*localPresence, error) {
	items, err := client.ListData(ctx)
	if err != nil {
		return nil, fmt.Errorf("backupdaemon: listing local data: %w", err)
	}

	lp := &localPresence{
		filter: bloom.NewWithEstimates(presenceEstimatedItems, presenceFalsePositiveRate),
		exact:  make(map[string]struct{}, len(items)),
	}

	for _, item := range items {
		lp.filter.AddString(item.CID)
		lp.exact[item.CID] = struct{}{}
	}

	return lp, nil
}

// has reports whether cid is present locally as of this cycle's snapshot.
func (lp *localPresence) has(cid string) bool {
	if !lp.filter.TestString(cid) {
		return false
	}

	_, ok := lp.exact[cid]

	return ok
}
