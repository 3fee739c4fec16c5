package concurrent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_LoadStore(t *testing.T) {
	m := NewMap[string, int]()

	_, ok := m.Load("missing")
	assert.False(t, ok)

	m.Store("a", 1)
	m.Store("b", 2)

	val, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, val)
	assert.Equal(t, 2, m.Length())
}

func TestMap_LoadOrStore(t *testing.T) {
	m := NewMap[string, string]()

	val, loaded := m.LoadOrStore("key", "first")
	assert.False(t, loaded)
	assert.Equal(t, "first", val)

	val, loaded = m.LoadOrStore("key", "second")
	assert.True(t, loaded)
	assert.Equal(t, "first", val)
}

func TestMap_Delete(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)

	m.Delete("a")

	_, ok := m.Load("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Length())
}

func TestMap_Keys(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	keys := m.Keys()

	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestMap_Range(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	seen := make(map[string]int)
	m.Range(func(key string, value int) bool {
		seen[key] = value
		return true
	})

	assert.Len(t, seen, 3)
}

func TestMap_ConcurrentAccess(t *testing.T) {
	m := NewMap[int, int]()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Store(i, i*2)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, m.Length())
}
