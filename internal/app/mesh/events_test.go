package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventQueueKeepsOrderAndWakes(t *testing.T) {
	q := newEventQueue()
	for i := range 3 {
		assert.True(t, q.push(i))
	}
	select {
	case <-q.wake:
	default:
		t.Fatal("no wake signal")
	}
	assert.Equal(t, []event{0, 1, 2}, q.drain())
	assert.Empty(t, q.drain())
}

func TestEventQueueRejectsAfterClose(t *testing.T) {
	q := newEventQueue()
	q.push("pending")
	q.close()
	assert.False(t, q.push("late"))
	assert.Empty(t, q.drain())
}
