package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUploadQueueDedupsSamePath(t *testing.T) {
	q := NewUploadQueue()
	now := time.Now()

	assert.True(t, q.Push("f1", "a.txt", now))
	assert.False(t, q.Push("f1", "a.txt", now))
	assert.Equal(t, 1, q.Len())
}

func TestUploadQueueDrainIsFIFOAndBatchBounded(t *testing.T) {
	q := NewUploadQueue()
	now := time.Now()

	for _, p := range []string{"a", "b", "c", "d"} {
		q.Push("f1", p, now)
	}

	batch := q.Drain(2)
	assert.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Path)
	assert.Equal(t, "b", batch[1].Path)
	assert.Equal(t, 2, q.Len())
}

func TestUploadQueueDrainAllowsReenqueueAfterDrain(t *testing.T) {
	q := NewUploadQueue()
	now := time.Now()

	q.Push("f1", "a.txt", now)
	q.Drain(10)

	assert.True(t, q.Push("f1", "a.txt", now))
}
