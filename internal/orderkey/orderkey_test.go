package orderkey

import (
	"math/rand"
	"sort"
	"testing"

	"flowtrack/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(r *rand.Rand) string {
	n := 1 + r.Intn(6)
	b := make([]byte, n)
	for i := range b {
		b[i] = digits[r.Intn(base)]
	}
	b[n-1] = digits[1+r.Intn(base-1)]
	return string(b)
}

func TestBetween_StrictlyBetween(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		a, b := randomKey(r), randomKey(r)
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		k, err := Between(a, b)
		require.NoError(t, err, "a=%q b=%q", a, b)
		assert.Less(t, a, k, "a=%q b=%q", a, b)
		assert.Less(t, k, b, "a=%q b=%q", a, b)
		assert.NoError(t, Validate(k))
	}
}

func TestBetween_EqualKeys(t *testing.T) {
	for _, k := range []string{"i", "a1", "zz", "00i"} {
		_, err := Between(k, k)
		assert.True(t, apperr.IsInvalidArgument(err), "key %q", k)
	}
}

func TestBetween_Reversed(t *testing.T) {
	_, err := Between("r", "i")
	assert.True(t, apperr.IsInvalidArgument(err))
}

func TestBetween_Examples(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"a", "b", "ai"},
		{"a", "c", "b"},
		{"az", "b", "azi"},
		{"a", "a1", "a0i"},
		{"a", "bz", "b"},
	}
	for _, tt := range tests {
		got, err := Between(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Between(%q, %q)", tt.a, tt.b)
	}
}

func TestNextPrevious(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		k := randomKey(r)

		next, err := Next(k)
		require.NoError(t, err)
		assert.Less(t, k, next)
		assert.NoError(t, Validate(next))

		prev, err := Previous(k)
		require.NoError(t, err)
		assert.Less(t, prev, k)
		assert.NoError(t, Validate(prev))
	}
}

func TestInitial(t *testing.T) {
	k := Initial()
	require.NoError(t, Validate(k))

	prev, err := Previous(k)
	require.NoError(t, err)
	next, err := Next(k)
	require.NoError(t, err)
	assert.Len(t, prev, 1)
	assert.Len(t, next, 1)
}

func TestRepeatedInsertAtSameBoundary(t *testing.T) {
	// Inserting at the front over and over must keep working as keys grow.
	first := Initial()
	lo := first
	for i := 0; i < 500; i++ {
		k, err := Previous(lo)
		require.NoError(t, err)
		require.Less(t, k, lo)
		lo = k
	}
	assert.Greater(t, len(lo), 10)

	// Same for always inserting right after a fixed key.
	a, b := "i", "j"
	for i := 0; i < 500; i++ {
		k, err := Between(a, b)
		require.NoError(t, err)
		require.Less(t, a, k)
		require.Less(t, k, b)
		b = k
	}
}

func TestForPosition(t *testing.T) {
	keys := []string{"c", "i", "r"}

	first, err := ForPosition(keys, 0)
	require.NoError(t, err)
	assert.Less(t, first, "c")

	mid, err := ForPosition(keys, 2)
	require.NoError(t, err)
	assert.Less(t, "i", mid)
	assert.Less(t, mid, "r")

	last, err := ForPosition(keys, 3)
	require.NoError(t, err)
	assert.Less(t, "r", last)

	clamped, err := ForPosition(keys, 99)
	require.NoError(t, err)
	assert.Equal(t, last, clamped)

	empty, err := ForPosition(nil, 5)
	require.NoError(t, err)
	assert.Equal(t, Initial(), empty)
}

func TestForPosition_KeepsSortOrder(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	keys := []string{Initial()}
	for i := 0; i < 300; i++ {
		idx := r.Intn(len(keys) + 1)
		k, err := ForPosition(keys, idx)
		require.NoError(t, err)
		keys = append(keys, "")
		copy(keys[idx+1:], keys[idx:])
		keys[idx] = k
		require.True(t, sort.StringsAreSorted(keys), "insert at %d broke order", idx)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("a1"))
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("a0"))
	assert.Error(t, Validate("A"))
	assert.Error(t, Validate("a-b"))
}
