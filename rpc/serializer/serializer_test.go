package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":    NewJSONSerializer,
	"Msgpack": NewMsgpackSerializer,
}

// testMessages creates a set of test messages with different fields filled.
// Numbers inside documents are float64, the type both encodings decode to.
func testMessages() []common.Message {
	temporary := true
	collection := catalog.KindCollection
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Create request
		{
			MsgType: common.MsgTCreateNamespace,
			Name:    "temp1",
			Options: map[string]any{"temp": true},
		},

		// Ensure index request
		{
			MsgType: common.MsgTEnsureIndex,
			Name:    "temp1",
			KeySpec: catalog.KeySpec{{Field: "x", Direction: 1}, {Field: "y", Direction: -1}},
		},

		// Insert request with a nested document
		{
			MsgType: common.MsgTInsert,
			Name:    "c",
			Doc:     map[string]any{"_id": map[string]any{"bar": 1.0}, "tags": []any{"a", "b"}, "n": nil},
		},

		// Find request and response
		{
			MsgType: common.MsgTFind,
			Query: &query.Query{
				Collection: "c",
				Filter:     map[string]any{"x": map[string]any{"$gte": 2.0}},
				Projection: map[string]any{"_id": 1.0},
				Sort:       catalog.KeySpec{{Field: "_id", Direction: -1}},
				Hint:       "_id_",
			},
		},
		{
			MsgType: common.MsgTFind,
			Docs:    []map[string]any{{"_id": 9.0}, {"_id": "1"}},
			Explain: &query.Explain{Plan: query.PlanCovered, Index: "_id_", IndexOnly: true, KeysExamined: 2, Returned: 2, Direction: "backward"},
		},

		// List namespaces request and response
		{
			MsgType: common.MsgTListNamespaces,
			Pattern: &catalog.Pattern{Kind: &collection, NamePrefix: "temp", Temporary: &temporary},
		},
		{
			MsgType: common.MsgTListNamespaces,
			Namespaces: []catalog.Namespace{
				{Name: "temp1", Kind: catalog.KindCollection, Temporary: true, CreatedAt: catalog.Position{Term: 2, Seq: 7}},
			},
		},

		// Role status and step down
		{
			MsgType: common.MsgTGetRoleStatus,
			Status:  &repl.RoleStatus{ReplicaID: 2, Role: repl.RolePrimary, Term: 4, KnownPrimary: 2, Writable: true},
		},
		{
			MsgType:        common.MsgTStepDown,
			TimeoutSeconds: 50,
			Force:          true,
		},

		// Engine info
		{
			MsgType: common.MsgTGetDBInfo,
			Info:    &db.DatabaseInfo{DbType: db.ImplBolt, Collections: 3, Applied: catalog.Position{Term: 1, Seq: 12}},
		},

		// Error response
		{
			MsgType: common.MsgTDrop,
			Code:    store.RetCNotPrimary,
			Err:     "test error message",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTGetDBInfo; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestInvalidData tests how the serializers handle corrupt or invalid data
func TestInvalidData(t *testing.T) {
	testCases := []struct {
		name       string
		serializer IRPCSerializer
		data       []byte
	}{
		{"JSON empty data", NewJSONSerializer(), []byte{}},
		{"JSON unknown type", NewJSONSerializer(), []byte(`{"msg_type":"frobnicate"}`)},
		{"Msgpack empty data", NewMsgpackSerializer(), []byte{}},
		{"Msgpack truncated map", NewMsgpackSerializer(), []byte{0x82, 0xa8}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			if err := tc.serializer.Deserialize(tc.data, &msg); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		if _, ok := ByName(name); !ok {
			t.Errorf("serializer %s not found", name)
		}
	}
	if _, ok := ByName("gob"); ok {
		t.Errorf("unexpected serializer gob")
	}
}
