// Package tablet holds the tablet-level building blocks: typed schemas,
// the durable tablet descriptor, the in-memory replica row store and the
// consensus-replicated peer contract.
package tablet

import (
	"bytes"
	"encoding/binary"

	"tabletdb/internal/status"
)

type DataType string

const (
	TypeUint8  DataType = "uint8"
	TypeInt64  DataType = "int64"
	TypeString DataType = "string"
	TypeBytes  DataType = "bytes"
)

func (t DataType) fixedWidth() int {
	switch t {
	case TypeUint8:
		return 1
	case TypeInt64:
		return 8
	default:
		return -1
	}
}

type ColumnSchema struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// Schema is an ordered column list; the first NumKeyColumns columns form
// the compound row key.
type Schema struct {
	Columns       []ColumnSchema `json:"columns"`
	NumKeyColumns int            `json:"num_key_columns"`
}

func NewSchema(columns []ColumnSchema, numKeyColumns int) (Schema, error) {
	if numKeyColumns <= 0 || numKeyColumns > len(columns) {
		return Schema{}, status.InvalidArgument("schema needs 1..%d key columns, have %d",
			len(columns), numKeyColumns)
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return Schema{}, status.InvalidArgument("column with empty name")
		}
		if _, dup := seen[c.Name]; dup {
			return Schema{}, status.InvalidArgument("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		switch c.Type {
		case TypeUint8, TypeInt64, TypeString, TypeBytes:
		default:
			return Schema{}, status.InvalidArgument("column %q has unknown type %q", c.Name, c.Type)
		}
	}
	return Schema{Columns: columns, NumKeyColumns: numKeyColumns}, nil
}

func (s Schema) Equals(other Schema) bool {
	if s.NumKeyColumns != other.NumKeyColumns || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}

// ColumnIndex returns the position of the named column, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// EncodeKey builds the sortable compound key from per-column encoded cells.
// Fixed-width columns contribute their raw encoding; variable-length key
// columns are length-prefixed except in the terminal position, preserving
// prefix-scan ordering on the leading columns.
func (s Schema) EncodeKey(cells map[int][]byte) ([]byte, error) {
	var buf bytes.Buffer
	for i := 0; i < s.NumKeyColumns; i++ {
		cell, ok := cells[i]
		if !ok {
			return nil, status.InvalidArgument("key column %q is not set", s.Columns[i].Name)
		}
		if w := s.Columns[i].Type.fixedWidth(); w >= 0 {
			if len(cell) != w {
				return nil, status.InvalidArgument("key column %q: want %d bytes, have %d",
					s.Columns[i].Name, w, len(cell))
			}
			buf.Write(cell)
			continue
		}
		if i == s.NumKeyColumns-1 {
			buf.Write(cell)
			continue
		}
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(cell)))
		buf.Write(lenPrefix[:])
		buf.Write(cell)
	}
	return buf.Bytes(), nil
}

// EncodeUint8 and friends produce the canonical cell encoding per type.
func EncodeUint8(v uint8) []byte { return []byte{v} }

func EncodeInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func EncodeString(v string) []byte { return []byte(v) }

func DecodeUint8(cell []byte) (uint8, error) {
	if len(cell) != 1 {
		return 0, status.Corruption("uint8 cell has %d bytes", len(cell))
	}
	return cell[0], nil
}

func DecodeInt64(cell []byte) (int64, error) {
	if len(cell) != 8 {
		return 0, status.Corruption("int64 cell has %d bytes", len(cell))
	}
	return int64(binary.BigEndian.Uint64(cell)), nil
}
