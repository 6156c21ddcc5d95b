package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
)

// RunEngineBenchmarks runs all benchmarks for an Engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory db.Factory) {

	b.Run("Insert", func(b *testing.B) {
		benchmarkInsert(b, open(b, factory, b.TempDir()), nil)
	})

	b.Run("InsertIndexed", func(b *testing.B) {
		benchmarkInsert(b, open(b, factory, b.TempDir()), catalog.KeySpec{{Field: "x", Direction: 1}, {Field: "y", Direction: -1}})
	})

	b.Run("ScanIndex", func(b *testing.B) {
		benchmarkScanIndex(b, open(b, factory, b.TempDir()))
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func fill(b *testing.B, engine db.Engine, n int) *applier {
	a := newApplier(b, engine)
	a.mustApply(oplog.EnsureIndex(1, "bench", catalog.KeySpec{{Field: "x", Direction: 1}}))
	for i := 0; i < n; i++ {
		a.mustApply(oplog.Insert(1, "bench", map[string]any{"_id": i, "x": fmt.Sprintf("value-%d", i%100)}))
	}
	return a
}

// Benchmark for applying inserts, optionally with a secondary index
func benchmarkInsert(b *testing.B, engine db.Engine, ks catalog.KeySpec) {
	a := newApplier(b, engine)
	if ks != nil {
		a.mustApply(oplog.EnsureIndex(1, "bench", ks))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.mustApply(oplog.Insert(1, "bench", map[string]any{"_id": i, "x": i % 13, "y": fmt.Sprintf("y-%d", i)}))
	}
}

// Benchmark for full index scans
func benchmarkScanIndex(b *testing.B, engine db.Engine) {
	fill(b, engine, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n := 0
		_ = engine.ScanIndex("bench.$x_1", db.FullRange(), func([]byte) bool {
			n++
			return true
		})
		if n != 1000 {
			b.Fatalf("scanned %d entries", n)
		}
	}
}

// Benchmark for snapshot round trips
func benchmarkSaveLoad(b *testing.B, factory db.Factory) {
	src := open(b, factory, b.TempDir())
	dst := open(b, factory, b.TempDir())
	fill(b, src, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := src.Save(&buf); err != nil {
			b.Fatal(err)
		}
		if err := dst.Load(&buf); err != nil {
			b.Fatal(err)
		}
	}
}
