package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID   string
	Name string
}

func TestBaseRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "register valid item", id: "tool-1", wantErr: false},
		{name: "register with empty id", id: "", wantErr: true},
		{name: "register duplicate id", id: "tool-1", wantErr: true},
	}

	r := NewBaseRegistry[testItem]()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.id, testItem{ID: tt.id})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBaseRegistry_ListIsOrderedByID(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	for _, id := range []string{"zeta", "alpha", "mike"} {
		require.NoError(t, r.Register(id, testItem{ID: id}))
	}

	assert.Equal(t, []string{"alpha", "mike", "zeta"}, r.IDs())

	items := r.List()
	require.Len(t, items, 3)
	assert.Equal(t, "alpha", items[0].ID)
	assert.Equal(t, "zeta", items[2].ID)
}

func TestBaseRegistry_GetHasRemove(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	require.NoError(t, r.Register("a", testItem{ID: "a", Name: "A"}))

	item, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A", item.Name)

	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("b"))

	assert.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())
}

func TestBaseRegistry_Replace(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	require.NoError(t, r.Register("a", testItem{ID: "a", Name: "old"}))
	require.NoError(t, r.Replace("a", testItem{ID: "a", Name: "new"}))

	item, _ := r.Get("a")
	assert.Equal(t, "new", item.Name)
}

func TestBaseRegistry_ConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("item-%d-%d", n, j)
				_ = r.Register(id, testItem{ID: id})
				_, _ = r.Get(id)
				_ = r.IDs()
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 800, r.Count())
}
