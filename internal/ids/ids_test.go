package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7_ValidVersion(t *testing.T) {
	id := UUIDv7{}.New()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
}

func TestUUIDv7_ConcurrentUnique(t *testing.T) {
	gen := UUIDv7{}
	const goroutines = 100

	out := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- gen.New()
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[string]bool)
	for id := range out {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines)
}

func TestFixed_InOrderThenPanics(t *testing.T) {
	gen := NewFixed("a", "b")

	assert.Equal(t, 2, gen.Remaining())
	assert.Equal(t, "a", gen.New())
	assert.Equal(t, "b", gen.New())
	assert.Equal(t, 0, gen.Remaining())
	assert.Panics(t, func() { gen.New() })
}
