package tablet

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/google/btree"

	"tabletdb/internal/status"
	"tabletdb/internal/util/arena"
)

type OpType string

const (
	OpInsert OpType = "INSERT"
	OpUpdate OpType = "UPDATE"
	OpDelete OpType = "DELETE"
)

// RowOp is one row mutation: cells indexed by column position. DELETE
// carries key cells only.
type RowOp struct {
	Type  OpType         `json:"type"`
	Cells map[int][]byte `json:"cells"`
}

// RowError reports a failed row within a batch.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

type storedRow struct {
	key   []byte
	cells map[int][]byte
}

func rowLess(a, b *storedRow) bool { return bytes.Compare(a.key, b.key) < 0 }

// Store is the in-memory replica of one tablet, ordered by encoded
// compound key. Batches apply all-or-nothing: every op is validated
// against the current state before any row is touched, so correlated
// updates in one batch never half-commit.
type Store struct {
	schema Schema

	mu   sync.RWMutex
	tree *btree.BTreeG[*storedRow]
}

func NewStore(schema Schema) *Store {
	return &Store{
		schema: schema,
		tree:   btree.NewG[*storedRow](16, rowLess),
	}
}

func (s *Store) Schema() Schema { return s.schema }

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// ApplyBatch validates then applies a batch. On any validation failure the
// store is untouched and the offending rows are reported.
func (s *Store) ApplyBatch(ops []RowOp) []RowError {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []RowError
	keys := make([][]byte, len(ops))
	for i, op := range ops {
		key, err := s.schema.EncodeKey(op.Cells)
		if err != nil {
			errs = append(errs, RowError{RowIndex: i,
				Code: status.CodeInvalidArgument.String(), Message: err.Error()})
			continue
		}
		keys[i] = key

		_, exists := s.tree.Get(&storedRow{key: key})
		switch op.Type {
		case OpInsert:
			if exists {
				errs = append(errs, RowError{RowIndex: i,
					Code: status.CodeAlreadyPresent.String(), Message: "key already present"})
			}
		case OpUpdate, OpDelete:
			if !exists {
				errs = append(errs, RowError{RowIndex: i,
					Code: status.CodeNotFound.String(), Message: "key not found"})
			}
		default:
			errs = append(errs, RowError{RowIndex: i,
				Code: status.CodeInvalidArgument.String(),
				Message: "unknown op type " + string(op.Type)})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	// Ops within one batch may touch the same key; later ops win.
	for i, op := range ops {
		switch op.Type {
		case OpInsert, OpUpdate:
			cells := make(map[int][]byte, len(op.Cells))
			for col, cell := range op.Cells {
				cells[col] = append([]byte(nil), cell...)
			}
			s.tree.ReplaceOrInsert(&storedRow{key: keys[i], cells: cells})
		case OpDelete:
			s.tree.Delete(&storedRow{key: keys[i]})
		}
	}
	return nil
}

// ScanRow is one materialized row handed to a scan consumer. Cell slices
// point into the iterator's arena and are only valid until the next block.
type ScanRow struct {
	Cells map[int][]byte
}

// BlockIter iterates rows in ascending key order over [lower, upper) in
// fixed-size blocks, copying cells through a bump arena.
type BlockIter struct {
	store     *Store
	next      []byte
	upper     []byte
	blockRows int
	arena     *arena.Arena
	done      bool
}

// NewBlockIter scans [lower, upper); a nil upper bound scans to the end.
func (s *Store) NewBlockIter(lower, upper []byte, blockRows int, a *arena.Arena) *BlockIter {
	return &BlockIter{
		store:     s,
		next:      append([]byte(nil), lower...),
		upper:     upper,
		blockRows: blockRows,
		arena:     a,
	}
}

// NextBlock returns the next block of rows, or false when the scan is
// exhausted. The arena is reset on every call.
func (it *BlockIter) NextBlock() ([]ScanRow, bool) {
	if it.done {
		return nil, false
	}
	it.arena.Reset()

	it.store.mu.RLock()
	defer it.store.mu.RUnlock()

	rows := make([]ScanRow, 0, it.blockRows)
	var resumeKey []byte
	it.store.tree.AscendGreaterOrEqual(&storedRow{key: it.next}, func(r *storedRow) bool {
		if it.upper != nil && bytes.Compare(r.key, it.upper) >= 0 {
			it.done = true
			return false
		}
		if len(rows) == it.blockRows {
			resumeKey = append([]byte(nil), r.key...)
			return false
		}
		cells := make(map[int][]byte, len(r.cells))
		for col, cell := range r.cells {
			cells[col] = it.arena.AddBytes(cell)
		}
		rows = append(rows, ScanRow{Cells: cells})
		return true
	})

	if resumeKey != nil {
		it.next = resumeKey
	} else {
		it.done = true
	}
	if len(rows) == 0 {
		return nil, false
	}
	return rows, true
}

type snapshotRow struct {
	Key   []byte         `json:"key"`
	Cells map[int][]byte `json:"cells"`
}

// Snapshot serializes the full row set for consensus snapshots.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]snapshotRow, 0, s.tree.Len())
	s.tree.Ascend(func(r *storedRow) bool {
		rows = append(rows, snapshotRow{Key: r.key, Cells: r.cells})
		return true
	})
	return json.Marshal(rows)
}

// Restore replaces the row set from a snapshot.
func (s *Store) Restore(data []byte) error {
	var rows []snapshotRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return status.Wrap(status.CodeCorruption, err, "decoding store snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Clear(false)
	for _, r := range rows {
		s.tree.ReplaceOrInsert(&storedRow{key: r.Key, cells: r.Cells})
	}
	return nil
}
