package catalog

import (
	"sync"

	"github.com/jinzhu/copier"

	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
)

// TableState tracks a table's catalog-visible lifecycle.
type TableState string

const (
	TablePreparing TableState = "PREPARING"
	TableRunning   TableState = "RUNNING"
	TableRemoved   TableState = "REMOVED"
)

// TableMetadata is the serialized descriptor stored in a TABLES row.
type TableMetadata struct {
	Name    string        `json:"name"`
	Schema  tablet.Schema `json:"schema"`
	Version int64         `json:"version"`
	State   TableState    `json:"state"`
}

// TabletState tracks a tablet's catalog-visible lifecycle.
type TabletState string

const (
	TabletCreating TabletState = "CREATING"
	TabletRunning  TabletState = "RUNNING"
	TabletReplaced TabletState = "REPLACED"
	TabletDeleted  TabletState = "DELETED"
)

// TabletMetadata is the serialized descriptor stored in a TABLETS row. The
// parent table id lives here rather than in the row key.
type TabletMetadata struct {
	TableID  string            `json:"table_id"`
	StartKey []byte            `json:"start_key,omitempty"`
	EndKey   []byte            `json:"end_key,omitempty"`
	State    TabletState       `json:"state"`
	Replicas []quorum.HostPort `json:"replicas,omitempty"`
}

// TableInfo pairs a table id with a committed descriptor and a staged dirty
// one. Mutators stage into the dirty side; after the catalog write commits,
// CommitDirty atomically publishes it.
type TableInfo struct {
	id string

	mu        sync.RWMutex
	committed *TableMetadata
	dirty     *TableMetadata
}

func NewTableInfo(id string, md *TableMetadata) *TableInfo {
	return &TableInfo{id: id, dirty: md}
}

func (t *TableInfo) ID() string { return t.id }

// Committed returns a copy of the committed descriptor, or nil before the
// first commit.
func (t *TableInfo) Committed() *TableMetadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.committed == nil {
		return nil
	}
	out := &TableMetadata{}
	if err := copier.CopyWithOption(out, t.committed, copier.Option{DeepCopy: true}); err != nil {
		return nil
	}
	return out
}

// StartMutation stages a deep copy of the committed descriptor as the new
// dirty side and returns it for editing.
func (t *TableInfo) StartMutation() (*TableMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed == nil {
		return nil, status.IllegalState("table %s has no committed metadata", t.id)
	}
	staged := &TableMetadata{}
	if err := copier.CopyWithOption(staged, t.committed, copier.Option{DeepCopy: true}); err != nil {
		return nil, status.Wrap(status.CodeCorruption, err, "staging metadata for table %s", t.id)
	}
	t.dirty = staged
	return staged, nil
}

// Dirty returns the staged descriptor.
func (t *TableInfo) Dirty() *TableMetadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dirty
}

// CommitDirty publishes the staged descriptor as committed.
func (t *TableInfo) CommitDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty != nil {
		t.committed = t.dirty
		t.dirty = nil
	}
}

// AbortDirty drops the staged descriptor.
func (t *TableInfo) AbortDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = nil
}

// TabletInfo is the tablet-side analogue of TableInfo. Tablet ids are
// globally unique and never reused.
type TabletInfo struct {
	tabletID string

	mu        sync.RWMutex
	committed *TabletMetadata
	dirty     *TabletMetadata
}

func NewTabletInfo(tabletID string, md *TabletMetadata) *TabletInfo {
	return &TabletInfo{tabletID: tabletID, dirty: md}
}

func (t *TabletInfo) TabletID() string { return t.tabletID }

func (t *TabletInfo) Committed() *TabletMetadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.committed == nil {
		return nil
	}
	out := &TabletMetadata{}
	if err := copier.CopyWithOption(out, t.committed, copier.Option{DeepCopy: true}); err != nil {
		return nil
	}
	return out
}

func (t *TabletInfo) StartMutation() (*TabletMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed == nil {
		return nil, status.IllegalState("tablet %s has no committed metadata", t.tabletID)
	}
	staged := &TabletMetadata{}
	if err := copier.CopyWithOption(staged, t.committed, copier.Option{DeepCopy: true}); err != nil {
		return nil, status.Wrap(status.CodeCorruption, err, "staging metadata for tablet %s", t.tabletID)
	}
	t.dirty = staged
	return staged, nil
}

func (t *TabletInfo) Dirty() *TabletMetadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dirty
}

func (t *TabletInfo) CommitDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty != nil {
		t.committed = t.dirty
		t.dirty = nil
	}
}

func (t *TabletInfo) AbortDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = nil
}
