package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/oplog"
	"github.com/ValentinKolb/dDoc/lib/value"
)

// RunEngineTests runs a conformance test suite for an Engine implementation.
// Every test opens its engines in a fresh temporary directory.
func RunEngineTests(t *testing.T, name string, factory db.Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("CreateAndList", func(t *testing.T) {
			testCreateAndList(t, open(t, factory, t.TempDir()))
		})

		t.Run("EnsureIndex", func(t *testing.T) {
			testEnsureIndex(t, open(t, factory, t.TempDir()))
		})

		t.Run("Drop", func(t *testing.T) {
			testDrop(t, open(t, factory, t.TempDir()))
		})

		t.Run("InsertRemove", func(t *testing.T) {
			testInsertRemove(t, open(t, factory, t.TempDir()))
		})

		t.Run("IndexOrder", func(t *testing.T) {
			testIndexOrder(t, open(t, factory, t.TempDir()))
		})

		t.Run("Watermark", func(t *testing.T) {
			testWatermark(t, open(t, factory, t.TempDir()))
		})

		t.Run("Reopen", func(t *testing.T) {
			testReopen(t, factory)
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("LogStore", func(t *testing.T) {
			testLogStore(t, open(t, factory, t.TempDir()))
		})

		t.Run("ReplayZeroIDs", func(t *testing.T) {
			testReplayZeroIDs(t, open(t, factory, t.TempDir()))
		})

		t.Run("DeterministicSnapshot", func(t *testing.T) {
			testDeterministicSnapshot(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func open(t testing.TB, factory db.Factory, dir string) db.Engine {
	t.Helper()
	engine, err := factory(dir, 1)
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// applier applies ops with increasing sequence numbers.
type applier struct {
	t      testing.TB
	engine db.Engine
	seq    uint64
}

func newApplier(t testing.TB, engine db.Engine) *applier {
	return &applier{t: t, engine: engine, seq: engine.Applied().Seq}
}

func (a *applier) apply(op oplog.Op) oplog.Result {
	a.t.Helper()
	a.seq++
	res, err := a.engine.Apply(oplog.Entry{Term: 1, Seq: a.seq, Op: op})
	if err != nil {
		a.t.Fatalf("Apply(%s) failed: %v", op, err)
	}
	return res
}

func (a *applier) mustApply(op oplog.Op) {
	a.t.Helper()
	if res := a.apply(op); res.Code != oplog.ResultOK {
		a.t.Fatalf("Apply(%s) = %s (%s), want OK", op, res.Code, res.Msg)
	}
}

func names(t testing.TB, engine db.Engine, p catalog.Pattern) []string {
	t.Helper()
	nss, err := engine.ListNamespaces(p)
	if err != nil {
		t.Fatalf("ListNamespaces failed: %v", err)
	}
	out := make([]string, len(nss))
	for i, ns := range nss {
		out[i] = ns.Name
	}
	return out
}

func expectNames(t testing.TB, got []string, want ...string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("namespaces = %v, want %v", got, want)
	}
}

func verify(t testing.TB, engine db.Engine) {
	t.Helper()
	if err := engine.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateAndList(t *testing.T, engine db.Engine) {
	a := newApplier(t, engine)
	a.mustApply(oplog.Create(1, "temp1", true))
	a.mustApply(oplog.Create(1, "keep1", false))

	expectNames(t, names(t, engine, catalog.Pattern{}), "keep1", "keep1.$_id_", "temp1", "temp1.$_id_")
	expectNames(t, names(t, engine, catalog.Pattern{}.WithTemporary(true)), "temp1", "temp1.$_id_")

	ns, ok, err := engine.GetNamespace("temp1.$_id_")
	if err != nil || !ok {
		t.Fatalf("GetNamespace = %v, %v", ok, err)
	}
	if !ns.Temporary || ns.Owner != "temp1" || !ns.KeySpec.IsID() {
		t.Errorf("identity index = %+v", ns)
	}

	if res := a.apply(oplog.Create(1, "temp1", false)); res.Code != oplog.ResultAlreadyExists {
		t.Errorf("duplicate create = %s, want AlreadyExists", res.Code)
	}
	if res := a.apply(oplog.Create(1, "bad$name", false)); res.Code != oplog.ResultInvalid {
		t.Errorf("invalid create = %s, want Invalid", res.Code)
	}
	verify(t, engine)
}

func testEnsureIndex(t *testing.T, engine db.Engine) {
	a := newApplier(t, engine)
	for i := 0; i < 5; i++ {
		a.mustApply(oplog.Insert(1, "c", map[string]any{"_id": i, "x": 10 - i}))
	}
	ks := catalog.KeySpec{{Field: "x", Direction: 1}}
	a.mustApply(oplog.EnsureIndex(1, "c", ks))
	a.mustApply(oplog.EnsureIndex(1, "c", ks))

	expectNames(t, names(t, engine, catalog.IndexesOf("c")), "c.$_id_", "c.$x_1")
	if n, _ := engine.Count("c.$x_1"); n != 5 {
		t.Errorf("index entries = %d, want 5", n)
	}

	// implicit collection inherits nothing and is not temporary
	a.mustApply(oplog.EnsureIndex(1, "implicit", ks))
	ns, ok, _ := engine.GetNamespace("implicit")
	if !ok || ns.Temporary || !ns.IsCollection() {
		t.Errorf("implicit collection = %+v, %v", ns, ok)
	}

	// indexes of temporary collections are temporary
	a.mustApply(oplog.Create(1, "temp", true))
	a.mustApply(oplog.EnsureIndex(1, "temp", ks))
	ns, _, _ = engine.GetNamespace("temp.$x_1")
	if !ns.Temporary {
		t.Errorf("index of temporary collection is not temporary")
	}

	if res := a.apply(oplog.EnsureIndex(1, "c", catalog.KeySpec{{Field: "x", Direction: 3}})); res.Code != oplog.ResultInvalid {
		t.Errorf("invalid key spec = %s, want Invalid", res.Code)
	}
	verify(t, engine)
}

func testDrop(t *testing.T, engine db.Engine) {
	a := newApplier(t, engine)
	ks := catalog.KeySpec{{Field: "x", Direction: 1}}
	a.mustApply(oplog.Create(1, "a", false))
	a.mustApply(oplog.Create(1, "ab", false))
	a.mustApply(oplog.EnsureIndex(1, "a", ks))
	a.mustApply(oplog.Insert(1, "a", map[string]any{"_id": 1, "x": 1}))

	if res := a.apply(oplog.Drop(1, "a.$_id_")); res.Code != oplog.ResultInvalid {
		t.Errorf("drop identity index = %s, want Invalid", res.Code)
	}

	a.mustApply(oplog.Drop(1, "a.$x_1"))
	expectNames(t, names(t, engine, catalog.IndexesOf("a")), "a.$_id_")

	a.mustApply(oplog.Drop(1, "a"))
	a.mustApply(oplog.Drop(1, "a")) // absent: no-op
	a.mustApply(oplog.Drop(1, "never-existed"))
	expectNames(t, names(t, engine, catalog.Pattern{}), "ab", "ab.$_id_")

	if n, _ := engine.Count("a"); n != 0 {
		t.Errorf("documents of dropped collection = %d", n)
	}
	verify(t, engine)
}

func testInsertRemove(t *testing.T, engine db.Engine) {
	a := newApplier(t, engine)
	a.mustApply(oplog.EnsureIndex(1, "c", catalog.KeySpec{{Field: "name", Direction: -1}}))
	a.mustApply(oplog.Insert(1, "c", map[string]any{"_id": "x", "name": "n1"}))
	a.mustApply(oplog.Insert(1, "c", map[string]any{"_id": 1, "other": true}))

	if res := a.apply(oplog.Insert(1, "c", map[string]any{"_id": "x"})); res.Code != oplog.ResultDuplicateKey {
		t.Errorf("duplicate insert = %s, want DuplicateKey", res.Code)
	}
	if res := a.apply(oplog.Insert(1, "c", map[string]any{"name": "no id"})); res.Code != oplog.ResultInvalid {
		t.Errorf("insert without id = %s, want Invalid", res.Code)
	}

	doc, ok, err := engine.GetDocument("c", "x")
	if err != nil || !ok || doc["name"] != "n1" {
		t.Errorf("GetDocument = %v, %v, %v", doc, ok, err)
	}
	// numbers are normalized, 1 and 1.0 are the same identity
	if _, ok, _ := engine.GetDocument("c", 1.0); !ok {
		t.Errorf("document with numeric id not found")
	}
	verify(t, engine)

	a.mustApply(oplog.Remove(1, "c", "x"))
	a.mustApply(oplog.Remove(1, "c", "x"))
	a.mustApply(oplog.Remove(1, "missing", "x"))
	if n, _ := engine.Count("c.$name_-1"); n != 1 {
		t.Errorf("index entries after remove = %d, want 1", n)
	}
	verify(t, engine)
}

func testIndexOrder(t *testing.T, engine db.Engine) {
	a := newApplier(t, engine)
	ids := []any{"1", nil, map[string]any{"bar": 1}}
	for i := 9; i >= 0; i-- {
		ids = append(ids, i)
	}
	for _, id := range ids {
		a.mustApply(oplog.Insert(1, "c", map[string]any{"_id": id}))
	}

	for _, reverse := range []bool{false, true} {
		r := db.FullRange()
		if reverse {
			r = r.Reversed()
		}
		var got []any
		err := engine.ScanIndex(catalog.IDIndexNamespace("c"), r, func(key []byte) bool {
			vals, _, err := value.DecodeTuple(key, []int{1})
			if err != nil {
				t.Fatalf("DecodeTuple failed: %v", err)
			}
			got = append(got, vals[0])
			return true
		})
		if err != nil {
			t.Fatalf("ScanIndex failed: %v", err)
		}
		if len(got) != 13 {
			t.Fatalf("reverse=%v: %d entries, want 13", reverse, len(got))
		}
		for i := 1; i < len(got); i++ {
			c := value.Compare(got[i-1], got[i])
			if (!reverse && c >= 0) || (reverse && c <= 0) {
				t.Errorf("reverse=%v: %v before %v", reverse, got[i-1], got[i])
			}
		}
	}

	// resume after a key in both directions
	var first []byte
	_ = engine.ScanDocuments("c", db.FullRange(), func(key []byte, _ map[string]any) bool {
		first = append([]byte(nil), key...)
		return false
	})
	n := 0
	_ = engine.ScanDocuments("c", db.FullRange().After(first), func([]byte, map[string]any) bool {
		n++
		return true
	})
	if n != 12 {
		t.Errorf("documents after first = %d, want 12", n)
	}
}

func testWatermark(t *testing.T, engine db.Engine) {
	res, err := engine.Apply(oplog.Entry{Term: 1, Seq: 5, Op: oplog.Create(1, "c", false)})
	if err != nil || res.Code != oplog.ResultOK {
		t.Fatalf("Apply = %v, %v", res, err)
	}
	if got := engine.Applied(); got != (oplog.Position{Term: 1, Seq: 5}) {
		t.Errorf("Applied = %v", got)
	}

	// replay of an applied entry is skipped instead of reporting AlreadyExists
	res, err = engine.Apply(oplog.Entry{Term: 1, Seq: 5, Op: oplog.Create(1, "c", false)})
	if err != nil || res.Code != oplog.ResultSkipped {
		t.Errorf("replay = %v, %v, want Skipped", res, err)
	}
	res, _ = engine.Apply(oplog.Entry{Term: 1, Seq: 3, Op: oplog.Drop(1, "c")})
	if res.Code != oplog.ResultSkipped {
		t.Errorf("stale entry = %v, want Skipped", res)
	}
	if _, ok, _ := engine.GetNamespace("c"); !ok {
		t.Errorf("stale drop was applied")
	}
}

func testReopen(t *testing.T, factory db.Factory) {
	dir := t.TempDir()
	engine, err := factory(dir, 1)
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	a := newApplier(t, engine)
	a.mustApply(oplog.Create(1, "temp1", true))
	a.mustApply(oplog.EnsureIndex(1, "temp1", catalog.KeySpec{{Field: "x", Direction: 1}}))
	a.mustApply(oplog.Insert(1, "temp1", map[string]any{"_id": 1, "x": "y"}))
	a.mustApply(oplog.Drop(1, "gone"))
	before := names(t, engine, catalog.Pattern{})
	applied := engine.Applied()
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := open(t, factory, dir)
	expectNames(t, names(t, reopened, catalog.Pattern{}), before...)
	if got := reopened.Applied(); got != applied {
		t.Errorf("Applied after reopen = %v, want %v", got, applied)
	}
	if _, ok, _ := reopened.GetDocument("temp1", 1); !ok {
		t.Errorf("document lost after reopen")
	}
	verify(t, reopened)
}

func testSaveLoad(t *testing.T, factory db.Factory) {
	src := open(t, factory, t.TempDir())
	dst := open(t, factory, t.TempDir())

	a := newApplier(t, src)
	a.mustApply(oplog.Create(1, "keep1", false))
	a.mustApply(oplog.Create(1, "empty", true))
	a.mustApply(oplog.EnsureIndex(1, "keep1", catalog.KeySpec{{Field: "x", Direction: -1}}))
	for i := 0; i < 100; i++ {
		a.mustApply(oplog.Insert(1, "keep1", map[string]any{"_id": i, "x": i % 7}))
	}

	// dst has state of its own which must be replaced
	b := newApplier(t, dst)
	b.mustApply(oplog.Create(1, "other", false))

	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	saved := buf.Bytes()
	if err := dst.Load(bytes.NewReader(saved)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	expectNames(t, names(t, dst, catalog.Pattern{}), names(t, src, catalog.Pattern{})...)
	if dst.Applied() != src.Applied() {
		t.Errorf("Applied = %v, want %v", dst.Applied(), src.Applied())
	}
	if n, _ := dst.Count("keep1.$x_-1"); n != 100 {
		t.Errorf("index entries after load = %d, want 100", n)
	}
	verify(t, dst)

	var again bytes.Buffer
	if err := dst.Save(&again); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !bytes.Equal(saved, again.Bytes()) {
		t.Errorf("snapshot of loaded engine differs from source snapshot")
	}
}

func testLogStore(t *testing.T, engine db.Engine) {
	if pos, err := engine.LastLog(); err != nil || !pos.IsZero() {
		t.Errorf("LastLog of empty log = %v, %v", pos, err)
	}

	entries := []oplog.Entry{
		{Term: 1, Seq: 1, Op: oplog.Noop(1)},
		{Term: 1, Seq: 2, Op: oplog.Create(1, "a", false)},
		{Term: 1, Seq: 3, Op: oplog.Create(1, "b", false)},
	}
	if err := engine.AppendLog(entries...); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}

	// a new leader overwrites the conflicting suffix
	if err := engine.AppendLog(oplog.Entry{Term: 2, Seq: 2, Op: oplog.Noop(2)}); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}
	if pos, _ := engine.LastLog(); pos != (oplog.Position{Term: 2, Seq: 2}) {
		t.Errorf("LastLog = %v, want (2,2)", pos)
	}
	if _, ok, _ := engine.LogEntry(3); ok {
		t.Errorf("entry 3 survived truncation")
	}
	got, err := engine.LogEntries(1, 0)
	if err != nil || len(got) != 2 || got[1].Term != 2 {
		t.Errorf("LogEntries = %v, %v", got, err)
	}
	if got, _ := engine.LogEntries(1, 1); len(got) != 1 {
		t.Errorf("LogEntries with max = %d entries, want 1", len(got))
	}

	if err := engine.AppendLog(oplog.Entry{Term: 2, Seq: 3}, oplog.Entry{Term: 2, Seq: 5}); err == nil {
		t.Errorf("AppendLog accepted a gap")
	}

	if err := engine.SetHardState(db.HardState{Term: 2, VotedFor: 3}); err != nil {
		t.Fatalf("SetHardState failed: %v", err)
	}
	if hs, _ := engine.HardState(); hs != (db.HardState{Term: 2, VotedFor: 3}) {
		t.Errorf("HardState = %+v", hs)
	}
}

// testReplayZeroIDs removes documents whose identity is a zero value by
// replaying entries read back from the log. The null document must survive.
func testReplayZeroIDs(t *testing.T, engine db.Engine) {
	ops := []oplog.Op{
		oplog.Create(1, "c", false),
		oplog.Insert(1, "c", map[string]any{"_id": 0}),
		oplog.Insert(1, "c", map[string]any{"_id": ""}),
		oplog.Insert(1, "c", map[string]any{"_id": false}),
		oplog.Insert(1, "c", map[string]any{"_id": nil}),
		oplog.Remove(1, "c", 0),
		oplog.Remove(1, "c", ""),
		oplog.Remove(1, "c", false),
	}
	entries := make([]oplog.Entry, len(ops))
	for i, op := range ops {
		entries[i] = oplog.Entry{Term: 1, Seq: uint64(i + 1), Op: op}
	}
	if err := engine.AppendLog(entries...); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}

	logged, err := engine.LogEntries(1, 0)
	if err != nil || len(logged) != len(ops) {
		t.Fatalf("LogEntries = %d entries, %v", len(logged), err)
	}
	for _, e := range logged {
		if res, err := engine.Apply(e); err != nil || res.Code != oplog.ResultOK {
			t.Fatalf("Apply(%s) = %v, %v", e.Op, res, err)
		}
	}

	for _, id := range []any{0, "", false} {
		if _, ok, _ := engine.GetDocument("c", id); ok {
			t.Errorf("document %#v survived its replayed remove", id)
		}
	}
	if _, ok, _ := engine.GetDocument("c", nil); !ok {
		t.Errorf("document null was removed by a zero id remove")
	}
	if n, _ := engine.Count("c"); n != 1 {
		t.Errorf("documents after replay = %d, want 1", n)
	}
	verify(t, engine)
}

// testDeterministicSnapshot applies the same entries to two engines and
// expects byte equal snapshots.
func testDeterministicSnapshot(t *testing.T, factory db.Factory) {
	engines := []db.Engine{
		open(t, factory, t.TempDir()),
		open(t, factory, t.TempDir()),
	}
	var snapshots [][]byte
	for _, engine := range engines {
		a := newApplier(t, engine)
		a.mustApply(oplog.Create(1, "keep1", false))
		a.mustApply(oplog.EnsureIndex(1, "keep1", catalog.KeySpec{{Field: "a.b", Direction: 1}}))
		for i := 0; i < 50; i++ {
			a.mustApply(oplog.Insert(1, "keep1", map[string]any{
				"_id": i, "x": i % 7, "y": "v", "z": true,
				"a": map[string]any{"b": i % 3, "c": nil, "d": []any{1, "two"}},
			}))
		}
		var buf bytes.Buffer
		if err := engine.Save(&buf); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		snapshots = append(snapshots, buf.Bytes())
	}
	if !bytes.Equal(snapshots[0], snapshots[1]) {
		t.Errorf("snapshots of engines with equal state differ")
	}
}
