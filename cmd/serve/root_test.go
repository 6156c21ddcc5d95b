package serve

import (
	"testing"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/require"
)

func TestParseShards(t *testing.T) {
	shards, err := parseShards("100=lstore, 200=DStore")
	require.NoError(t, err)
	require.Equal(t, []common.ServerShard{
		{ShardID: 100, Type: common.ShardTypeLStore},
		{ShardID: 200, Type: common.ShardTypeDStore},
	}, shards)

	for _, bad := range []string{"100", "x=lstore", "100=kv", "1=lstore,1=dstore"} {
		_, err := parseShards(bad)
		require.Error(t, err, bad)
	}
}

func TestParseMembers(t *testing.T) {
	members, err := parseMembers("node-1=localhost:63001,2=localhost:63002")
	require.NoError(t, err)
	require.Equal(t, "localhost:63001", members[cmdUtil.ReplicaID("node-1")])
	require.Equal(t, "localhost:63002", members[2])

	_, err = parseMembers("node-1")
	require.Error(t, err)
}
