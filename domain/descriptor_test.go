package domain_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/message"
)

func float64bytes(vs ...float64) []byte {
	out := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func bytesToFloat64(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(b[i*8:]))
	}
	return out
}

// TestUnstructuredScatter mirrors spec §8 scenario 1: two clients with
// interleaved index sets scatter into one global field.
func TestUnstructuredScatter(t *testing.T) {
	global := make([]byte, 8*8)

	d0, err := domain.NewUnstructured([]int32{0, 2, 4, 6}, 8)
	require.NoError(t, err)
	require.NoError(t, d0.ToGlobal(float64bytes(0, 2, 4, 6), message.PrecisionDouble, 1, global))

	d1, err := domain.NewUnstructured([]int32{1, 3, 5, 7}, 8)
	require.NoError(t, err)
	require.NoError(t, d1.ToGlobal(float64bytes(1, 3, 5, 7), message.PrecisionDouble, 1, global))

	require.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7}, bytesToFloat64(global))
}

func TestUnstructuredRejectsOutOfRangeIndex(t *testing.T) {
	_, err := domain.NewUnstructured([]int32{0, 8}, 8)
	require.Error(t, err)
}

func TestUnstructuredRejectsDuplicateIndex(t *testing.T) {
	_, err := domain.NewUnstructured([]int32{0, 0}, 8)
	require.Error(t, err)
}

func TestStructuredScatterInteriorOnly(t *testing.T) {
	// 4x2 global grid split into two 2x2 halves; both partitions use the same
	// local halo frame (data_ibegin=-1, data_ni=4), only ibegin/jbegin shift
	// each partition's interior into the global grid.
	left, err := domain.NewStructured([11]int32{4, 2, 0, 2, 0, 2, 1, -1, 4, 0, 2})
	require.NoError(t, err)
	right, err := domain.NewStructured([11]int32{4, 2, 2, 2, 0, 2, 1, -1, 4, 0, 2})
	require.NoError(t, err)

	global := make([]byte, 8*8)

	// local patch spans i in [-1,3), j in [0,2): 4 cols x 2 rows; halo
	// columns (i=-1,2) are discarded, interior columns (i=0,1) carry data.
	leftVals := []float64{-1, 0, 1, -1, -1, 0, 1, -1}
	require.NoError(t, left.ToGlobal(float64bytes(leftVals...), message.PrecisionDouble, 1, global))

	rightVals := []float64{-1, 2, 3, -1, -1, 2, 3, -1}
	require.NoError(t, right.ToGlobal(float64bytes(rightVals...), message.PrecisionDouble, 1, global))

	got := bytesToFloat64(global)
	want := []float64{0, 1, 2, 3, 0, 1, 2, 3}
	require.Equal(t, want, got)
}

func TestDomainEqualByteComparison(t *testing.T) {
	a, _ := domain.NewUnstructured([]int32{0, 1}, 4)
	b, _ := domain.NewUnstructured([]int32{0, 1}, 4)
	c, _ := domain.NewUnstructured([]int32{0, 2}, 4)
	require.True(t, domain.Equal(a, b))
	require.False(t, domain.Equal(a, c))
}

func TestSpectralIsRecognizedButNotImplemented(t *testing.T) {
	md := message.NewMetadata().SetString("representation", "spectral")
	desc, err := domain.Parse(md, []byte{0, 0, 0, 1})
	require.NoError(t, err)
	require.Equal(t, domain.KindSpectral, desc.Kind())
	err = desc.ToGlobal(nil, message.PrecisionDouble, 1, nil)
	require.Error(t, err)
}
