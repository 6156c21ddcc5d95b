package util

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		require.LessOrEqual(t, len(line), Wrap)
	}
}

func TestReplicaID(t *testing.T) {
	require.Equal(t, uint64(3), ReplicaID("3"))
	require.Equal(t, ReplicaID("node-1"), ReplicaID("node-1"))
	require.NotEqual(t, ReplicaID("node-1"), ReplicaID("node-2"))
	require.NotZero(t, ReplicaID("0"))
}

func TestParseJSON(t *testing.T) {
	obj, err := ParseJSONObject(`{"_id": 1, "x": {"a": "b"}}`)
	require.NoError(t, err)
	require.Equal(t, float64(1), obj["_id"])

	obj, err = ParseJSONObject("")
	require.NoError(t, err)
	require.Empty(t, obj)

	_, err = ParseJSONObject("[1]")
	require.Error(t, err)

	require.Equal(t, float64(3), ParseJSONValue("3"))
	require.Equal(t, "3", ParseJSONValue(`"3"`))
	require.Equal(t, "abc", ParseJSONValue("abc"))
}

func TestClientConfig(t *testing.T) {
	viper.Set("endpoints", "http://a:8080, http://b:8080,")
	viper.Set("serializer", "msgpack")
	t.Cleanup(viper.Reset)

	conf := GetClientConfig()
	require.Equal(t, []string{"http://a:8080", "http://b:8080"}, conf.Endpoints)

	_, err := GetSerializer()
	require.NoError(t, err)

	viper.Set("serializer", "gob")
	_, err = GetSerializer()
	require.Error(t, err)
}
