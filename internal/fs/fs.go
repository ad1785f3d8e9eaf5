// Package fs owns the on-disk layout under a single root: the instance
// file carrying this server's permanent uuid, per-tablet metadata and
// consensus records, and named data blocks.
package fs

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tabletdb/internal/status"
)

const (
	instanceFile = "instance"
	blocksDir    = "blocks"
	tabletsDir   = "tablet-meta"
	consensusDir = "consensus-meta"
	walsDir      = "wals"
)

// Manager hands out paths and durable-write primitives for one fs root.
type Manager struct {
	root string
	uuid string
}

// Open initializes the root, creating it and a fresh instance uuid when
// missing.
func Open(root string) (*Manager, error) {
	for _, dir := range []string{root,
		filepath.Join(root, blocksDir),
		filepath.Join(root, tabletsDir),
		filepath.Join(root, consensusDir),
		filepath.Join(root, walsDir),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, status.Wrap(status.CodeIOError, err, "creating fs root %s", dir)
		}
	}

	m := &Manager{root: root}
	instPath := filepath.Join(root, instanceFile)
	data, err := os.ReadFile(instPath)
	switch {
	case err == nil:
		m.uuid = strings.TrimSpace(string(data))
		if m.uuid == "" {
			return nil, status.Corruption("instance file %s is empty", instPath)
		}
	case os.IsNotExist(err):
		m.uuid = strings.ReplaceAll(uuid.NewString(), "-", "")
		if err := m.WriteAtomic(instPath, []byte(m.uuid+"\n")); err != nil {
			return nil, err
		}
		slog.Info("initialized new fs root", "root", root, "uuid", m.uuid)
	default:
		return nil, status.Wrap(status.CodeIOError, err, "reading instance file %s", instPath)
	}
	return m, nil
}

// UUID returns this server's permanent uuid.
func (m *Manager) UUID() string { return m.uuid }

func (m *Manager) Root() string { return m.root }

// TabletMetaPath is where a tablet's durable descriptor lives.
func (m *Manager) TabletMetaPath(tabletID string) string {
	return filepath.Join(m.root, tabletsDir, tabletID)
}

// ConsensusMetaPath is where a tablet's committed quorum record lives.
func (m *Manager) ConsensusMetaPath(tabletID string) string {
	return filepath.Join(m.root, consensusDir, tabletID)
}

// WALDir is the replicated-log directory for a tablet.
func (m *Manager) WALDir(tabletID string) string {
	return filepath.Join(m.root, walsDir, tabletID)
}

// BlockPath addresses a named data block.
func (m *Manager) BlockPath(blockID string) string {
	return filepath.Join(m.root, blocksDir, blockID)
}

// OpenBlock returns a reader for a named block.
func (m *Manager) OpenBlock(blockID string) (*os.File, error) {
	f, err := os.Open(m.BlockPath(blockID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.NotFound("block %s", blockID)
		}
		return nil, status.Wrap(status.CodeIOError, err, "opening block %s", blockID)
	}
	return f, nil
}

// CreateBlock returns a writer for a named block, truncating any previous
// contents.
func (m *Manager) CreateBlock(blockID string) (*os.File, error) {
	f, err := os.OpenFile(m.BlockPath(blockID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, status.Wrap(status.CodeIOError, err, "creating block %s", blockID)
	}
	return f, nil
}

// WriteAtomic publishes data at path without ever exposing a torn record:
// write to a temp file in the same directory, fsync it, rename over the
// target, fsync the directory.
func (m *Manager) WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return status.Wrap(status.CodeIOError, err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return status.Wrap(status.CodeIOError, err, "writing %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return status.Wrap(status.CodeIOError, err, "syncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return status.Wrap(status.CodeIOError, err, "closing %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return status.Wrap(status.CodeIOError, err, "renaming %s over %s", tmpName, path)
	}
	return m.FsyncDir(dir)
}

// FsyncDir makes a directory entry durable.
func (m *Manager) FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return status.Wrap(status.CodeIOError, err, "opening dir %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return status.Wrap(status.CodeIOError, err, "fsync dir %s", dir)
	}
	return nil
}
