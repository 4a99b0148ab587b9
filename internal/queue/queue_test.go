package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueDequeue_FIFO(t *testing.T) {
	q := New()
	assert.True(t, q.Enqueue("t1"))
	assert.True(t, q.Enqueue("t2"))

	id, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "t1", id)

	id, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "t2", id)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestEnqueue_DedupWhileQueued(t *testing.T) {
	q := New()
	assert.True(t, q.Enqueue("t1"))
	assert.False(t, q.Enqueue("t1"))
	assert.Equal(t, 1, q.Len())
}

func TestEnqueue_AllowedAgainAfterDequeue(t *testing.T) {
	q := New()
	q.Enqueue("t1")
	q.Dequeue()
	assert.True(t, q.Enqueue("t1"))
}
