// Package registry implements the Manifest Registry and Discovery Server
//: an in-memory, last-writer-wins map from folder id to the
// latest manifest descriptor, exposed over HTTP to polling backup peers
// behind an IP allow-list, plus the polling client the Backup Daemon uses
// to consume it.
package registry

import (
	"sync"

	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
)

// Registry is the process-wide map from folder id to the latest manifest
// descriptor. It also carries the local peer id, set once
// the node's info() call first succeeds.
type Registry struct {
	mu        sync.RWMutex
	peerID    string
	manifests map[string]manifestfmt.Descriptor
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{manifests: make(map[string]manifestfmt.Descriptor)}
}

// SetPeerID records this node's peer id, surfaced in the discovery
// response envelope.
func (r *Registry) SetPeerID(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peerID = peerID
}

// PeerID returns the locally recorded peer id, or "" if it has not been
// set yet.
func (r *Registry) PeerID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.peerID
}

// Register inserts or updates the descriptor for folderID. Insertion is
// last-writer-wins by sequence number: a descriptor whose sequence is not
// strictly greater than what's already registered never overwrites it.
func (r *Registry) Register(folderID string, descriptor manifestfmt.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.manifests[folderID]
	if ok && existing.SequenceNumber >= descriptor.SequenceNumber {
		return
	}

	r.manifests[folderID] = descriptor
}

// All returns every registered descriptor. The order is unspecified.
func (r *Registry) All() []manifestfmt.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]manifestfmt.Descriptor, 0, len(r.manifests))
	for _, d := range r.manifests {
		out = append(out, d)
	}

	return out
}

// Get returns the descriptor registered for folderID, if any.
func (r *Registry) Get(folderID string) (manifestfmt.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.manifests[folderID]

	return d, ok
}
