package bufpool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/transport/bufpool"
)

func TestGetRoundsUpToSizeClass(t *testing.T) {
	p := bufpool.New()
	buf := p.Get(100)
	require.GreaterOrEqual(t, cap(buf), 100)
	require.Len(t, buf, 0)
}

func TestPutGetReusesCapacity(t *testing.T) {
	p := bufpool.New()
	buf := p.Get(4096)
	require.Equal(t, 4096, cap(buf))
	p.Put(buf)

	again := p.Get(4096)
	require.Equal(t, 4096, cap(again))
}

func TestOversizeBypassesPool(t *testing.T) {
	p := bufpool.New()
	buf := p.Get(64 << 20)
	require.GreaterOrEqual(t, cap(buf), 64<<20)
}
