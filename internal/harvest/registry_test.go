package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThreeSourceRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(newFakeSource("banks", 3))
	reg.Register(newFakeSource("police", 0))
	reg.Register(newFakeSource("cors", 0))
	return reg
}

func TestRegistry_GetUnknownListsValid(t *testing.T) {
	reg := newThreeSourceRegistry()

	_, err := reg.Get("atms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source "atms"`)
	assert.Contains(t, err.Error(), "banks, police, cors")
}

func TestRegistry_SelectEmptyReturnsAllInOrder(t *testing.T) {
	reg := newThreeSourceRegistry()

	selected, err := reg.Select(nil)
	require.NoError(t, err)
	require.Len(t, selected, 3)
	assert.Equal(t, "banks", selected[0].Name())
	assert.Equal(t, "police", selected[1].Name())
	assert.Equal(t, "cors", selected[2].Name())
}

func TestRegistry_SelectPreservesRequestOrder(t *testing.T) {
	reg := newThreeSourceRegistry()

	selected, err := reg.Select([]string{"cors", "banks"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "cors", selected[0].Name())
	assert.Equal(t, "banks", selected[1].Name())
}

func TestRegistry_SelectUnknownFails(t *testing.T) {
	reg := newThreeSourceRegistry()

	_, err := reg.Select([]string{"police", "atms"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source "atms"`)
}

func TestRegistry_AllNames(t *testing.T) {
	reg := newThreeSourceRegistry()
	assert.Equal(t, []string{"banks", "police", "cors"}, reg.AllNames())

	// Mutating the returned slice must not corrupt registration order.
	names := reg.AllNames()
	names[0] = "clobbered"
	assert.Equal(t, []string{"banks", "police", "cors"}, reg.AllNames())
}
