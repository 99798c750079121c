package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse/value"
)

func TestCompareIntegers(t *testing.T) {
	require.Equal(t, -1, value.Compare(value.Int64(1), value.Int64(2)))
	require.Equal(t, 1, value.Compare(value.Uint64(5), value.Uint64(1)))
	require.Equal(t, 0, value.Compare(value.Int32(7), value.Int32(7)))
}

func TestCompareStringsLexicographic(t *testing.T) {
	require.True(t, value.Compare(value.String("A"), value.String("B")) < 0)
	require.True(t, value.Compare(value.String("AB"), value.String("A")) > 0)
}

func TestCompareUuidBigEndian(t *testing.T) {
	a := value.Uuid([16]byte{0x00, 0x01})
	b := value.Uuid([16]byte{0x00, 0x02})
	require.True(t, value.Compare(a, b) < 0)
}

func TestNullNeverEqual(t *testing.T) {
	n1 := value.NullValue(value.TypeString)
	n2 := value.NullValue(value.TypeString)
	require.False(t, value.Equal(n1, n2))
	require.False(t, value.Equal(n1, value.String("x")))
}

func TestCompareForSortOrdersNullsFirst(t *testing.T) {
	n := value.NullValue(value.TypeInt64)
	v := value.Int64(1)
	require.Equal(t, -1, value.CompareForSort(n, v))
	require.Equal(t, 1, value.CompareForSort(v, n))
	require.Equal(t, 0, value.CompareForSort(n, value.NullValue(value.TypeInt64)))
}

func TestComparablePanicsAcrossTypes(t *testing.T) {
	require.False(t, value.Comparable(value.Int64(1), value.String("1")))
	require.Panics(t, func() {
		value.Compare(value.Int64(1), value.String("1"))
	})
}
