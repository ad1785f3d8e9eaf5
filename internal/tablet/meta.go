package tablet

import (
	"encoding/json"
	"log/slog"
	"os"

	"tabletdb/internal/fs"
	"tabletdb/internal/status"
)

type BootstrapState string

const (
	StateNew                 BootstrapState = "NEW"
	StateBootstrapping       BootstrapState = "BOOTSTRAPPING"
	StateRemoteBootstrapDone BootstrapState = "REMOTE_BOOTSTRAP_DONE"
	StateFailed              BootstrapState = "FAILED"
)

// Meta is the durable descriptor for one tablet: its schema, data block
// ids and bootstrap state. The persisted schema is the single source of
// truth; callers expecting a different schema must treat a mismatch as
// fatal.
type Meta struct {
	fsm *fs.Manager

	TabletID  string         `json:"tablet_id"`
	TableName string         `json:"table_name"`
	Schema    Schema         `json:"schema"`
	BlockIDs  []string       `json:"block_ids"`
	State     BootstrapState `json:"state"`
}

// CreateNewMeta initializes and persists the descriptor for a new tablet.
func CreateNewMeta(fsm *fs.Manager, tabletID, tableName string, schema Schema,
	blockIDs []string, state BootstrapState) (*Meta, error) {
	m := &Meta{
		fsm:       fsm,
		TabletID:  tabletID,
		TableName: tableName,
		Schema:    schema,
		BlockIDs:  blockIDs,
		State:     state,
	}
	if err := m.Flush(); err != nil {
		return nil, err
	}
	slog.Info("created tablet meta", "tablet", tabletID, "table", tableName, "state", state)
	return m, nil
}

// LoadMeta reads an existing descriptor.
func LoadMeta(fsm *fs.Manager, tabletID string) (*Meta, error) {
	path := fsm.TabletMetaPath(tabletID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.NotFound("tablet meta for %s", tabletID)
		}
		return nil, status.Wrap(status.CodeIOError, err, "reading tablet meta %s", path)
	}
	m := &Meta{fsm: fsm}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, status.Wrap(status.CodeCorruption, err, "decoding tablet meta %s", path)
	}
	if m.TabletID != tabletID {
		return nil, status.Corruption("tablet meta %s names tablet %q", path, m.TabletID)
	}
	return m, nil
}

// Flush persists the descriptor atomically.
func (m *Meta) Flush() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return status.Wrap(status.CodeCorruption, err, "encoding tablet meta %s", m.TabletID)
	}
	return m.fsm.WriteAtomic(m.fsm.TabletMetaPath(m.TabletID), data)
}
