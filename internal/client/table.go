package client

import (
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
)

// Table is a handle on one table of the cluster, bound to the client it
// was opened through. Thread-safe.
type Table struct {
	client *Client
	name   string
	schema tablet.Schema
}

func (t *Table) Name() string          { return t.name }
func (t *Table) Schema() tablet.Schema { return t.schema }

// NewInsert starts an INSERT against this table.
func (t *Table) NewInsert() *Op { return t.newOp(tablet.OpInsert) }

// NewUpdate starts an UPDATE against this table.
func (t *Table) NewUpdate() *Op { return t.newOp(tablet.OpUpdate) }

// NewDelete starts a DELETE against this table; only key columns may be set.
func (t *Table) NewDelete() *Op { return t.newOp(tablet.OpDelete) }

func (t *Table) newOp(opType tablet.OpType) *Op {
	return &Op{
		table:  t,
		opType: opType,
		cells:  make(map[int][]byte),
	}
}

// Op is a single row mutation under construction. Ownership transfers to
// the session on a successful Apply; after a failed Apply the caller still
// holds it.
type Op struct {
	table  *Table
	opType tablet.OpType
	cells  map[int][]byte
}

func (o *Op) Table() *Table { return o.table }

func (o *Op) Type() tablet.OpType { return o.opType }

func (o *Op) setCell(col string, want tablet.DataType, cell []byte) error {
	idx := o.table.schema.ColumnIndex(col)
	if idx < 0 {
		return status.InvalidArgument("table %s has no column %q", o.table.name, col)
	}
	if have := o.table.schema.Columns[idx].Type; have != want {
		return status.InvalidArgument("column %q is %s, not %s", col, have, want)
	}
	o.cells[idx] = cell
	return nil
}

func (o *Op) SetUint8(col string, v uint8) error {
	return o.setCell(col, tablet.TypeUint8, tablet.EncodeUint8(v))
}

func (o *Op) SetInt64(col string, v int64) error {
	return o.setCell(col, tablet.TypeInt64, tablet.EncodeInt64(v))
}

func (o *Op) SetString(col string, v string) error {
	return o.setCell(col, tablet.TypeString, tablet.EncodeString(v))
}

func (o *Op) SetBytes(col string, v []byte) error {
	return o.setCell(col, tablet.TypeBytes, append([]byte(nil), v...))
}

// sizeBytes approximates the buffered footprint of this operation.
func (o *Op) sizeBytes() int {
	n := 16
	for _, cell := range o.cells {
		n += len(cell) + 8
	}
	return n
}

// validate checks the op against its table's schema: every key column must
// be set, and non-DELETE ops must not be empty beyond the key.
func (o *Op) validate() error {
	s := o.table.schema
	for i := 0; i < s.NumKeyColumns; i++ {
		if _, ok := o.cells[i]; !ok {
			return status.InvalidArgument("key column %q is not set", s.Columns[i].Name)
		}
	}
	if o.opType == tablet.OpDelete {
		for idx := range o.cells {
			if idx >= s.NumKeyColumns {
				return status.InvalidArgument("DELETE may only set key columns, %q is a value column",
					s.Columns[idx].Name)
			}
		}
	} else if len(s.Columns) > s.NumKeyColumns && len(o.cells) <= s.NumKeyColumns {
		return status.InvalidArgument("operation sets no value column beyond the key")
	}
	return nil
}

// encodedKey returns the op's compound row key.
func (o *Op) encodedKey() ([]byte, error) {
	return o.table.schema.EncodeKey(o.cells)
}

func (o *Op) rowOp() tablet.RowOp {
	return tablet.RowOp{Type: o.opType, Cells: o.cells}
}
