package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLineDetectsCorruptedDatastore(t *testing.T) {
	assert.Equal(t, faultDatastoreCorrupted, classifyLine("ERROR: Should create discovery datastore! failed"))
}

func TestClassifyLineDetectsPortConflict(t *testing.T) {
	assert.Equal(t, faultPortInUse, classifyLine("listen tcp :8080: bind: Address already in use"))
}

func TestClassifyLineIgnoresBenignOutput(t *testing.T) {
	assert.Equal(t, faultNone, classifyLine("node started successfully"))
}
