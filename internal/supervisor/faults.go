package supervisor

import "strings"

// Fault patterns scanned from the node child's stdout/stderr.
const (
	faultCorruptedDatastore = "Should create discovery datastore!"
	faultPortConflict       = "Address already in use"
)

// faultKind classifies a recoverable or terminal fault observed in the
// node's output.
type faultKind int

const (
	faultNone faultKind = iota
	faultDatastoreCorrupted
	faultPortInUse
)

// classifyLine inspects one line of node stdout/stderr for a known fault
// signature.
func classifyLine(line string) faultKind {
	switch {
	case strings.Contains(line, faultCorruptedDatastore):
		return faultDatastoreCorrupted
	case strings.Contains(line, faultPortConflict):
		return faultPortInUse
	default:
		return faultNone
	}
}
