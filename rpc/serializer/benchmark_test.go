package serializer

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	docs := make([]map[string]any, 101)
	for i := range docs {
		docs[i] = map[string]any{"_id": float64(i), "x": float64(i % 7)}
	}
	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTSuccess,
		},
		"Drop": {
			MsgType: common.MsgTDrop,
			Name:    "temp1",
		},
		"SmallDocument": {
			MsgType: common.MsgTInsert,
			Name:    "c",
			Doc:     map[string]any{"_id": 1.0, "x": "a"},
		},
		"LargeDocument": {
			MsgType: common.MsgTInsert,
			Name:    "c",
			Doc:     map[string]any{"_id": 1.0, "payload": strings.Repeat("x", 16*1024)},
		},
		"FindRequest": {
			MsgType: common.MsgTFind,
			Query: &query.Query{
				Collection: "c",
				Filter:     map[string]any{"x": map[string]any{"$gte": 2.0, "$lt": 5.0}},
				Projection: map[string]any{"x": 1.0, "_id": 0.0},
				Sort:       catalog.KeySpec{{Field: "x", Direction: 1}},
			},
		},
		"FindResponse": {
			MsgType: common.MsgTFind,
			Docs:    docs,
			Explain: &query.Explain{Plan: query.PlanCovered, Index: "x_1", IndexOnly: true, Returned: len(docs)},
		},
		"ErrorMessage": {
			MsgType: common.MsgTInsert,
			Err:     "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		},
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.Serialize(msg)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()
	serializedData := make(map[string]map[string][]byte)

	// Pre-serialize all messages with all serializers
	for name, factory := range testSerializers {
		serializer := factory()
		serializedData[name] = make(map[string][]byte)

		for msgName, msg := range messages {
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}
			serializedData[name][msgName] = data
		}
	}

	// Benchmark deserialization
	for name, factory := range testSerializers {
		for msgName := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				data := serializedData[name][msgName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var msg common.Message
					err := serializer.Deserialize(data, &msg)
					if err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the serialized size for each message type
func BenchmarkSize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		serializer := factory()

		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				data, err := serializer.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				// Report the size as a custom metric
				b.ReportMetric(float64(len(data)), "bytes")

				// Minimal loop to satisfy benchmark requirements
				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
