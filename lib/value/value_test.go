package value

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func mixedIDs() []any {
	ids := []any{}
	for i := 0; i < 10; i++ {
		ids = append(ids, i)
	}
	return append(ids, "1", map[string]any{"bar": 1}, nil)
}

func TestCompareKindOrder(t *testing.T) {
	ordered := []any{
		math.NaN(), math.Inf(-1), -3.5, 0, 2, math.Inf(1),
		"", "1", "a", "a\x00", "ab",
		map[string]any{}, map[string]any{"a": 1}, map[string]any{"a": 1, "b": 0}, map[string]any{"bar": 1},
		[]any{}, []any{1}, []any{1, "x"}, []any{2},
		false, true,
		nil,
	}
	for i := range ordered {
		for j := range ordered {
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			require.Equal(t, want, Compare(ordered[i], ordered[j]), "Compare(%v, %v)", ordered[i], ordered[j])
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 7, 7.0},
		{"uint8", uint8(3), 3.0},
		{"negative zero", math.Copysign(0, -1), 0.0},
		{"bytes", []byte("x"), "x"},
		{"nested", map[string]any{"a": []any{int64(1), map[any]any{"b": int32(2)}}},
			map[string]any{"a": []any{1.0, map[string]any{"b": 2.0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := Normalize(struct{}{})
	require.Error(t, err)
}

func TestKeyEncodingPreservesOrder(t *testing.T) {
	vals := append(mixedIDs(),
		-1.5, math.Inf(-1), "", "a\x00b", "a", true, false,
		[]any{"x", nil}, map[string]any{"a": map[string]any{"b": nil}},
	)

	for _, desc := range []bool{false, true} {
		byValue := append([]any(nil), vals...)
		sort.SliceStable(byValue, func(i, j int) bool {
			c := Compare(byValue[i], byValue[j])
			if desc {
				return c > 0
			}
			return c < 0
		})

		byKey := append([]any(nil), vals...)
		sort.SliceStable(byKey, func(i, j int) bool {
			return bytes.Compare(EncodeKey(byKey[i], desc), EncodeKey(byKey[j], desc)) < 0
		})

		require.Len(t, byKey, len(byValue))
		for i := range byKey {
			require.True(t, Equal(byValue[i], byKey[i]), "desc=%v position %d: %v != %v", desc, i, byValue[i], byKey[i])
		}
	}
}

func TestDecodeKey(t *testing.T) {
	for _, v := range mixedIDs() {
		for _, desc := range []bool{false, true} {
			enc := append(EncodeKey(v, desc), 0xAB)
			got, rest, err := DecodeKey(enc, desc)
			require.NoError(t, err)
			require.True(t, Equal(MustNormalize(v), got), "roundtrip %v", v)
			require.Equal(t, []byte{0xAB}, rest)
		}
	}

	_, _, err := DecodeKey([]byte{tagString, 'a'}, false)
	require.ErrorIs(t, err, ErrCorruptKey)
}

func TestTuple(t *testing.T) {
	dirs := []int{1, -1}
	a := AppendTuple(nil, []any{1, "b"}, dirs)
	b := AppendTuple(nil, []any{1, "a"}, dirs)
	c := AppendTuple(nil, []any{2, "z"}, dirs)

	// second component is descending
	require.Equal(t, -1, bytes.Compare(a, b))
	require.Equal(t, -1, bytes.Compare(b, c))

	vals, rest, err := DecodeTuple(a, dirs)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, []any{1.0, "b"}, vals)
}

func TestKindBounds(t *testing.T) {
	for _, v := range mixedIDs() {
		k := KindOf(v)
		enc := EncodeKey(v, false)
		require.GreaterOrEqual(t, bytes.Compare(enc, KindLowerBound(k)), 0)
		require.Less(t, bytes.Compare(enc, KindUpperBound(k)), 0)
	}
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte{0x01, 0x03}, PrefixEnd([]byte{0x01, 0x02}))
	require.Equal(t, []byte{0x02}, PrefixEnd([]byte{0x01, 0xFF}))
	require.Nil(t, PrefixEnd([]byte{0xFF, 0xFF}))

	five := EncodeKey(5, false)
	withID := AppendKey(append([]byte(nil), five...), "some-id", false)
	require.Less(t, bytes.Compare(withID, PrefixEnd(five)), 0)
	require.Less(t, bytes.Compare(PrefixEnd(five), EncodeKey(6, false)), 0)
}

func TestPath(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": 1.0}, "c": nil}

	v, ok := Lookup(doc, "a.b")
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	_, ok = Lookup(doc, "a.x")
	require.False(t, ok)
	require.Nil(t, Get(doc, "a.b.c"))

	Set(doc, "x.y", "z")
	require.Equal(t, "z", Get(doc, "x.y"))
}

func TestMarshalSortsKeys(t *testing.T) {
	doc := map[string]any{"_id": 1.0, "x": 2.0, "a": map[string]any{"z": 1.0, "b": nil}}
	first, err := Marshal(doc)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(map[string]any{"x": 2.0, "a": map[string]any{"b": nil, "z": 1.0}, "_id": 1.0})
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Less(t, bytes.Index(first, []byte("_id")), bytes.Index(first, []byte("x")))
}
