package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTemporary(t *testing.T) {
	tests := []struct {
		in      any
		want    bool
		wantErr bool
	}{
		{true, true, false},
		{false, false, false},
		{1, true, false},
		{0, false, false},
		{1.0, true, false},
		{int64(0), false, false},
		{nil, false, false},
		{2, false, true},
		{"true", false, true},
	}
	for _, tt := range tests {
		got, err := ParseTemporary(tt.in)
		if tt.wantErr {
			require.Error(t, err, "input %v", tt.in)
			continue
		}
		require.NoError(t, err, "input %v", tt.in)
		require.Equal(t, tt.want, got, "input %v", tt.in)
	}
}

func TestParseCreateOptions(t *testing.T) {
	opts, err := ParseCreateOptions(map[string]any{"temp": 1})
	require.NoError(t, err)
	require.True(t, opts.Temporary)

	opts, err = ParseCreateOptions(map[string]any{"temporary": false})
	require.NoError(t, err)
	require.False(t, opts.Temporary)

	opts, err = ParseCreateOptions(nil)
	require.NoError(t, err)
	require.False(t, opts.Temporary)

	_, err = ParseCreateOptions(map[string]any{"capped": true})
	require.Error(t, err)
}

func TestKeySpec(t *testing.T) {
	ks, err := ParseKeySpec("{a:1, b:-1}")
	require.NoError(t, err)
	require.Equal(t, KeySpec{{"a", 1}, {"b", -1}}, ks)
	require.Equal(t, "a_1_b_-1", ks.Name())
	require.Equal(t, "_id_", IDKeySpec.Name())
	require.True(t, ks.Equal(KeySpec{{"a", 1}, {"b", -1}}))
	require.False(t, ks.Equal(ks.Reverse()))
	require.Equal(t, 1, ks.Position("b"))
	require.Equal(t, -1, ks.Position("c"))

	x, err := ParseKeySpec("x")
	require.NoError(t, err)
	require.Equal(t, "x_1", x.Name())

	for _, bad := range []string{"", "a:2", "a:1,a:-1", "$a:1"} {
		_, err := ParseKeySpec(bad)
		require.Error(t, err, "key spec %q", bad)
	}
}

func TestNames(t *testing.T) {
	for _, ok := range []string{"temp1", "a.b", "A_9"} {
		require.NoError(t, ValidateCollectionName(ok))
	}
	for _, bad := range []string{"", ".a", "a.", "a..b", "a$b", "a b"} {
		require.Error(t, ValidateCollectionName(bad), "name %q", bad)
	}

	name := IndexNamespace("temp1", "x_1")
	require.Equal(t, "temp1.$x_1", name)
	coll, idx, ok := SplitIndexNamespace(name)
	require.True(t, ok)
	require.Equal(t, "temp1", coll)
	require.Equal(t, "x_1", idx)

	_, _, ok = SplitIndexNamespace("temp1")
	require.False(t, ok)
	require.Equal(t, "temp1.$_id_", IDIndexNamespace("temp1"))
}

func TestPattern(t *testing.T) {
	nss := []Namespace{
		{Name: "keep1", Kind: KindCollection},
		{Name: "keep1.$_id_", Kind: KindIndex, Owner: "keep1", KeySpec: IDKeySpec},
		{Name: "temp1", Kind: KindCollection, Temporary: true},
		{Name: "temp1.$_id_", Kind: KindIndex, Owner: "temp1", Temporary: true, KeySpec: IDKeySpec},
		{Name: "temp1.$x_1", Kind: KindIndex, Owner: "temp1", Temporary: true, KeySpec: KeySpec{{"x", 1}}},
	}

	require.Len(t, Pattern{}.Filter(nss), 5)
	require.Len(t, Collections().Filter(nss), 2)
	require.Len(t, Indexes().WithTemporary(true).Filter(nss), 2)
	require.Len(t, Collections().WithTemporary(false).Filter(nss), 1)
	require.Len(t, IndexesOf("temp1").Filter(nss), 2)
	require.Len(t, Pattern{NamePrefix: "temp"}.Filter(nss), 3)
	require.Len(t, Pattern{NameSuffix: "$_id_"}.Filter(nss), 2)
	require.Len(t, Pattern{OwnerPrefix: "te"}.Filter(nss), 2)

	unsorted := []Namespace{nss[4], nss[0], nss[2]}
	SortByName(unsorted)
	require.Equal(t, "keep1", unsorted[0].Name)
	require.Equal(t, "temp1.$x_1", unsorted[2].Name)
}

func TestPosition(t *testing.T) {
	require.True(t, Position{Term: 1, Seq: 9}.Less(Position{Term: 2, Seq: 1}))
	require.True(t, Position{Term: 2, Seq: 1}.Less(Position{Term: 2, Seq: 2}))
	require.Equal(t, 0, Position{Term: 3, Seq: 3}.Compare(Position{Term: 3, Seq: 3}))
	require.True(t, Position{}.IsZero())
}
