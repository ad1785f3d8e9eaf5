package tablet

import (
	"testing"

	"tabletdb/internal/status"
	"tabletdb/internal/util/arena"
)

func insertOp(entryType uint8, id, metadata string) RowOp {
	return RowOp{Type: OpInsert, Cells: map[int][]byte{
		0: EncodeUint8(entryType),
		1: []byte(id),
		2: []byte(metadata),
	}}
}

func TestApplyBatchInsertAndScan(t *testing.T) {
	s := NewStore(testSchema(t))

	errs := s.ApplyBatch([]RowOp{
		insertOp(1, "p2", "m2"),
		insertOp(0, "t1", "m0"),
		insertOp(1, "p1", "m1"),
	})
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 rows, have %d", s.Len())
	}

	a := arena.New(32*1024, 256*1024)
	it := s.NewBlockIter(nil, nil, 512, a)
	rows, ok := it.NextBlock()
	if !ok || len(rows) != 3 {
		t.Fatalf("expected one block of 3 rows, ok=%v len=%d", ok, len(rows))
	}
	// Ascending key order: (0,t1), (1,p1), (1,p2).
	if string(rows[0].Cells[1]) != "t1" ||
		string(rows[1].Cells[1]) != "p1" ||
		string(rows[2].Cells[1]) != "p2" {
		t.Fatalf("rows out of order: %q %q %q",
			rows[0].Cells[1], rows[1].Cells[1], rows[2].Cells[1])
	}
	if _, ok := it.NextBlock(); ok {
		t.Fatalf("iterator should be exhausted")
	}
}

func TestApplyBatchIsAtomic(t *testing.T) {
	s := NewStore(testSchema(t))
	if errs := s.ApplyBatch([]RowOp{insertOp(0, "t1", "m")}); errs != nil {
		t.Fatalf("seed: %v", errs)
	}

	// Second row collides; the first must not be applied either.
	errs := s.ApplyBatch([]RowOp{
		insertOp(0, "t2", "m"),
		insertOp(0, "t1", "m"),
	})
	if len(errs) != 1 {
		t.Fatalf("expected exactly one row error, got %v", errs)
	}
	if errs[0].RowIndex != 1 || errs[0].Code != status.CodeAlreadyPresent.String() {
		t.Fatalf("unexpected error %+v", errs[0])
	}
	if s.Len() != 1 {
		t.Fatalf("failed batch must not apply partially: %d rows", s.Len())
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := NewStore(testSchema(t))
	if errs := s.ApplyBatch([]RowOp{insertOp(0, "t1", "v1")}); errs != nil {
		t.Fatalf("seed: %v", errs)
	}

	up := insertOp(0, "t1", "v2")
	up.Type = OpUpdate
	if errs := s.ApplyBatch([]RowOp{up}); errs != nil {
		t.Fatalf("update: %v", errs)
	}

	a := arena.New(1024, 4096)
	rows, _ := s.NewBlockIter(nil, nil, 16, a).NextBlock()
	if string(rows[0].Cells[2]) != "v2" {
		t.Fatalf("update not applied: %q", rows[0].Cells[2])
	}

	del := RowOp{Type: OpDelete, Cells: map[int][]byte{
		0: EncodeUint8(0), 1: []byte("t1"),
	}}
	if errs := s.ApplyBatch([]RowOp{del}); errs != nil {
		t.Fatalf("delete: %v", errs)
	}
	if s.Len() != 0 {
		t.Fatalf("row not deleted")
	}

	if errs := s.ApplyBatch([]RowOp{del}); len(errs) != 1 ||
		errs[0].Code != status.CodeNotFound.String() {
		t.Fatalf("delete of missing row must report NotFound, got %v", errs)
	}
}

func TestBlockIterRange(t *testing.T) {
	s := NewStore(testSchema(t))
	var ops []RowOp
	ops = append(ops, insertOp(0, "t1", "m"))
	for _, id := range []string{"p1", "p2", "p3"} {
		ops = append(ops, insertOp(1, id, "m"))
	}
	if errs := s.ApplyBatch(ops); errs != nil {
		t.Fatalf("seed: %v", errs)
	}

	// Scan only the TABLETS range: [ {1}, {2} ).
	lower, _ := s.Schema().EncodeKey(map[int][]byte{0: EncodeUint8(1), 1: nil})
	upper, _ := s.Schema().EncodeKey(map[int][]byte{0: EncodeUint8(2), 1: nil})

	a := arena.New(1024, 4096)
	it := s.NewBlockIter(lower, upper, 2, a)

	var got []string
	for {
		rows, ok := it.NextBlock()
		if !ok {
			break
		}
		for _, r := range rows {
			got = append(got, string(r.Cells[1]))
		}
	}
	if len(got) != 3 || got[0] != "p1" || got[2] != "p3" {
		t.Fatalf("unexpected range scan result %v", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := NewStore(testSchema(t))
	if errs := s.ApplyBatch([]RowOp{insertOp(0, "t1", "m0"), insertOp(1, "p1", "m1")}); errs != nil {
		t.Fatalf("seed: %v", errs)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := NewStore(testSchema(t))
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("expected 2 rows after restore, have %d", restored.Len())
	}
}
