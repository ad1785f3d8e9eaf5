// Package raftpeer implements the tablet.Peer contract on an etcd raft
// node with a write-ahead log. The catalog tablet runs on one of these.
package raftpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/tidwall/wal"
	"go.etcd.io/etcd/pkg/v3/pbutil"
	etcdraft "go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

const (
	recordTypeEntry     byte = 1
	recordTypeHardState byte = 2
	recordTypeSnapshot  byte = 3
	recordTypeConfState byte = 4
)

// Storage layers a durable record log under an etcd MemoryStorage. Every
// raft Ready is persisted before the in-memory view advances, so a restart
// replays to exactly the pre-crash state.
type Storage struct {
	mu sync.Mutex

	log *wal.Log
	ms  *etcdraft.MemoryStorage

	hs        raftpb.HardState
	snap      raftpb.Snapshot
	confState raftpb.ConfState

	nextWALIdx uint64
}

// OpenStorage opens (or creates) the log in dir and replays it. The second
// return value is the highest index known committed before the crash.
func OpenStorage(dir string, noSync bool) (*Storage, uint64, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, 0, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	opts := *wal.DefaultOptions
	opts.NoSync = noSync
	log, err := wal.Open(dir, &opts)
	if err != nil {
		return nil, 0, fmt.Errorf("wal.Open: %w", err)
	}

	s := &Storage{
		log:        log,
		ms:         etcdraft.NewMemoryStorage(),
		nextWALIdx: 1,
	}
	applied, err := s.replay()
	if err != nil {
		log.Close()
		return nil, 0, err
	}
	return s, applied, nil
}

func (s *Storage) replay() (uint64, error) {
	empty, err := s.log.IsEmpty()
	if err != nil {
		return 0, fmt.Errorf("wal.IsEmpty: %w", err)
	}
	if empty {
		return 0, nil
	}

	first, err := s.log.FirstIndex()
	if err != nil {
		return 0, fmt.Errorf("wal.FirstIndex: %w", err)
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return 0, fmt.Errorf("wal.LastIndex: %w", err)
	}

	var allEntries []raftpb.Entry
	for idx := first; idx <= last; idx++ {
		data, err := s.log.Read(idx)
		if err != nil {
			return 0, fmt.Errorf("wal.Read(%d): %w", idx, err)
		}
		if len(data) == 0 {
			return 0, fmt.Errorf("empty wal record at %d", idx)
		}
		recType, payload := data[0], data[1:]

		switch recType {
		case recordTypeEntry:
			var e raftpb.Entry
			pbutil.MustUnmarshal(&e, payload)
			allEntries = append(allEntries, e)

		case recordTypeHardState:
			s.hs = raftpb.HardState{}
			pbutil.MustUnmarshal(&s.hs, payload)

		case recordTypeConfState:
			s.confState = raftpb.ConfState{}
			pbutil.MustUnmarshal(&s.confState, payload)

		case recordTypeSnapshot:
			s.snap = raftpb.Snapshot{}
			pbutil.MustUnmarshal(&s.snap, payload)
			s.confState = s.snap.Metadata.ConfState
		}
		s.nextWALIdx = idx + 1
	}

	snapIndex := s.snap.Metadata.Index
	var entries []raftpb.Entry
	for _, e := range allEntries {
		if e.Index > snapIndex {
			entries = append(entries, e)
		}
	}

	if !etcdraft.IsEmptySnap(s.snap) {
		if err := s.ms.ApplySnapshot(s.snap); err != nil &&
			!errors.Is(err, etcdraft.ErrSnapOutOfDate) {
			return 0, fmt.Errorf("apply snapshot: %w", err)
		}
	}

	if !etcdraft.IsEmptyHardState(s.hs) {
		if err := s.ms.SetHardState(s.hs); err != nil {
			return 0, fmt.Errorf("set hardstate: %w", err)
		}
	}
	if len(entries) > 0 {
		if err := s.ms.Append(entries); err != nil {
			return 0, fmt.Errorf("append entries: %w", err)
		}
	}

	// Without a real snapshot, the persisted configuration is recorded as
	// snapshot metadata at the commit index. CreateSnapshot keeps the log
	// entries in memory, so committed batches stay readable for replay.
	if etcdraft.IsEmptySnap(s.snap) && len(s.confState.Voters) > 0 {
		cs := s.confState
		if _, err := s.ms.CreateSnapshot(s.hs.Commit, &cs, nil); err != nil &&
			!errors.Is(err, etcdraft.ErrSnapOutOfDate) {
			return 0, fmt.Errorf("record confState: %w", err)
		}
	}

	applied := snapIndex
	if s.hs.Commit > applied {
		applied = s.hs.Commit
	}

	slog.Info("replayed consensus log",
		"wal_first", first,
		"wal_last", last,
		"entries", len(entries),
		"snap_index", snapIndex,
		"hs_commit", s.hs.Commit,
		"voters", s.confState.Voters,
	)
	return applied, nil
}

// RaftStorage exposes the view etcd raft reads from.
func (s *Storage) RaftStorage() etcdraft.Storage { return s.ms }

func (s *Storage) ConfState() raftpb.ConfState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confState
}

func (s *Storage) SnapshotIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Metadata.Index
}

func (s *Storage) SnapshotData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Data
}

// EntriesAfter returns the committed entries with index > after, bounded
// by the current commit index.
func (s *Storage) EntriesAfter(after uint64) ([]raftpb.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hs.Commit <= after {
		return nil, nil
	}
	first, err := s.ms.FirstIndex()
	if err != nil {
		return nil, err
	}
	lo := after + 1
	if lo < first {
		lo = first
	}
	if lo > s.hs.Commit {
		return nil, nil
	}
	entries, err := s.ms.Entries(lo, s.hs.Commit+1, ^uint64(0))
	if err != nil {
		if errors.Is(err, etcdraft.ErrCompacted) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

func (s *Storage) IsEmpty() (bool, error) {
	return s.log.IsEmpty()
}

func (s *Storage) appendRecordLocked(recType byte, msg pbutil.Marshaler) error {
	payload := pbutil.MustMarshal(msg)
	data := make([]byte, 1+len(payload))
	data[0] = recType
	copy(data[1:], payload)
	if err := s.log.Write(s.nextWALIdx, data); err != nil {
		return fmt.Errorf("wal.Write(%d): %w", s.nextWALIdx, err)
	}
	s.nextWALIdx++
	return nil
}

// SaveReady persists everything in a Ready that must be durable before
// messages are sent or entries applied.
func (s *Storage) SaveReady(rd etcdraft.Ready) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !etcdraft.IsEmptySnap(rd.Snapshot) {
		if err := s.saveSnapshotLocked(rd.Snapshot); err != nil {
			return err
		}
	}

	for i := range rd.Entries {
		if err := s.appendRecordLocked(recordTypeEntry, &rd.Entries[i]); err != nil {
			return err
		}
	}
	if len(rd.Entries) > 0 {
		if err := s.ms.Append(rd.Entries); err != nil {
			return fmt.Errorf("MemoryStorage.Append: %w", err)
		}
	}

	if !etcdraft.IsEmptyHardState(rd.HardState) && !isHardStateEqual(s.hs, rd.HardState) {
		if err := s.appendRecordLocked(recordTypeHardState, &rd.HardState); err != nil {
			return err
		}
		s.hs = rd.HardState
		if err := s.ms.SetHardState(rd.HardState); err != nil {
			return fmt.Errorf("MemoryStorage.SetHardState: %w", err)
		}
	}

	if rd.MustSync {
		if err := s.log.Sync(); err != nil {
			return fmt.Errorf("wal.Sync: %w", err)
		}
	}
	return nil
}

func (s *Storage) saveSnapshotLocked(snap raftpb.Snapshot) error {
	if err := s.appendRecordLocked(recordTypeSnapshot, &snap); err != nil {
		return err
	}
	if err := s.log.Sync(); err != nil {
		return fmt.Errorf("wal.Sync: %w", err)
	}
	if err := s.ms.ApplySnapshot(snap); err != nil &&
		!errors.Is(err, etcdraft.ErrSnapOutOfDate) {
		return fmt.Errorf("ApplySnapshot: %w", err)
	}
	s.snap = snap
	s.confState = snap.Metadata.ConfState
	return nil
}

// SaveConfState durably records a newly applied configuration.
func (s *Storage) SaveConfState(cs raftpb.ConfState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendRecordLocked(recordTypeConfState, &cs); err != nil {
		return err
	}
	if err := s.log.Sync(); err != nil {
		return fmt.Errorf("wal.Sync: %w", err)
	}
	s.confState = cs
	return nil
}

func isHardStateEqual(a, b raftpb.HardState) bool {
	return a.Term == b.Term && a.Vote == b.Vote && a.Commit == b.Commit
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}
