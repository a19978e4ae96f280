package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle struct{ id int }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New[*handle]()
	a, b := &handle{1}, &handle{1}

	r.Register(a, "base")

	assert.True(t, r.IsTainted(a))
	assert.False(t, r.IsTainted(b), "membership is by identity, not structure")

	label, ok := r.LabelOf(a)
	require.True(t, ok)
	assert.Equal(t, "base", label)

	_, ok = r.LabelOf(b)
	assert.False(t, ok)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := New[*handle]()
	a := &handle{}

	r.Register(a, "first")
	r.Register(a, "second")

	label, _ := r.LabelOf(a)
	assert.Equal(t, "first", label)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_AllLabelsOrderAndDedup(t *testing.T) {
	r := New[*handle]()
	r.Register(&handle{}, "tainted_input")
	r.Register(&handle{}, "tainted_input.value")
	r.Register(&handle{}, "tainted_input.value")
	r.Register(&handle{}, "tainted_input.value.apply()")
	r.Register(&handle{}, "tainted_input")

	want := []string{"tainted_input", "tainted_input.value", "tainted_input.value.apply()"}
	if diff := cmp.Diff(want, r.AllLabels()); diff != "" {
		t.Errorf("AllLabels() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, r.Len())
}

func TestRegistry_Clear(t *testing.T) {
	r := New[*handle]()
	a := &handle{}
	r.Register(a, "base")

	r.Clear()

	assert.False(t, r.IsTainted(a))
	assert.Empty(t, r.AllLabels())
	assert.Zero(t, r.Len())

	// Re-registration after a clear starts a fresh order.
	r.Register(a, "again")
	assert.Equal(t, []string{"again"}, r.AllLabels())
}

func TestRegistry_ComparableKeys(t *testing.T) {
	r := New[string]()
	r.Register("k", "label")
	assert.True(t, r.IsTainted("k"))
	assert.False(t, r.IsTainted("other"))
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.Register(i, fmt.Sprintf("label-%d", i%50))
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = r.AllLabels()
				_ = r.IsTainted(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, r.Len())
	assert.Len(t, r.AllLabels(), 50)
}
