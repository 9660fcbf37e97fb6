package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalsCacheFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	c := NewDecimalsCache()

	_, ok := c.Get(ctx, "MEX-455c57")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "MEX-455c57", 18))
	require.NoError(t, c.Set(ctx, "MEX-455c57", 6))

	d, ok := c.Get(ctx, "MEX-455c57")
	assert.True(t, ok)
	assert.Equal(t, 18, d)
	assert.Equal(t, 1, c.Len())
}

func TestDecimalsCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewDecimalsCache()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set(ctx, "TKN-000001", i%2+6)
			_, _ = c.Get(ctx, "TKN-000001")
		}(i)
	}
	wg.Wait()

	d, ok := c.Get(ctx, "TKN-000001")
	assert.True(t, ok)
	assert.Contains(t, []int{6, 7}, d)
}
