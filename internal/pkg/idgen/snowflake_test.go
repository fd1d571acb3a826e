package idgen

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorProducesUniqueOrderIDs(t *testing.T) {
	g, err := NewGenerator(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := g.NextOrderID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestGeneratorRejectsOutOfRangeNode(t *testing.T) {
	_, err := NewGenerator(4096)
	assert.Error(t, err)
}

func TestReservationIDIsUUID(t *testing.T) {
	g, err := NewGenerator(1)
	require.NoError(t, err)
	_, err = uuid.Parse(g.NextReservationID())
	assert.NoError(t, err)
}
