package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortPoolAllocatesLowestFirst(t *testing.T) {
	p := NewPortPool(27015, 3)

	a, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 27015, a)

	b, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 27016, b)

	p.Release(a)
	c, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 27015, c)
}

func TestPortPoolExhaustion(t *testing.T) {
	p := NewPortPool(27015, 2)
	_, err := p.Allocate()
	require.NoError(t, err)
	_, err = p.Allocate()
	require.NoError(t, err)

	_, err = p.Allocate()
	require.Error(t, err)
	assert.Equal(t, 2, p.InUse())

	p.Release(27016)
	port, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 27016, port)
}

func TestPortPoolReleaseUnallocatedNoOp(t *testing.T) {
	p := NewPortPool(27015, 2)
	p.Release(27015)
	p.Release(99999)
	assert.Equal(t, 0, p.InUse())
}
