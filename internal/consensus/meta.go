// Package consensus holds the durable consensus state for a tablet: the
// committed quorum and the current term.
package consensus

import (
	"encoding/json"
	"log/slog"
	"os"

	"tabletdb/internal/fs"
	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
)

// MinimumTerm is the term assigned at first bootstrap.
const MinimumTerm int64 = 0

type metaRecord struct {
	TabletID        string        `json:"tablet_id"`
	CurrentTerm     int64         `json:"current_term"`
	CommittedQuorum quorum.Quorum `json:"committed_quorum"`
}

// Meta is the persistent consensus record for one tablet. Mutations stage
// in memory and become durable only on Flush; Flush is atomic so readers
// see either the prior record or the new one, never a torn write.
type Meta struct {
	fsm *fs.Manager
	rec metaRecord
}

// Create initializes and flushes a fresh record.
func Create(fsm *fs.Manager, tabletID string, q quorum.Quorum, term int64) (*Meta, error) {
	m := &Meta{
		fsm: fsm,
		rec: metaRecord{TabletID: tabletID, CurrentTerm: term, CommittedQuorum: q},
	}
	if err := m.Flush(); err != nil {
		return nil, err
	}
	slog.Info("created consensus meta", "tablet", tabletID, "seqno", q.SeqNo, "term", term)
	return m, nil
}

// Load reads the existing record for a tablet. Returns NotFound when the
// record was never created and Corruption when it cannot be decoded.
func Load(fsm *fs.Manager, tabletID string) (*Meta, error) {
	path := fsm.ConsensusMetaPath(tabletID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.NotFound("consensus meta for tablet %s", tabletID)
		}
		return nil, status.Wrap(status.CodeIOError, err, "reading consensus meta %s", path)
	}

	var rec metaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, status.Wrap(status.CodeCorruption, err, "decoding consensus meta %s", path)
	}
	if rec.TabletID != tabletID {
		return nil, status.Corruption("consensus meta %s names tablet %q", path, rec.TabletID)
	}
	return &Meta{fsm: fsm, rec: rec}, nil
}

// CommittedQuorum returns the in-memory committed quorum.
func (m *Meta) CommittedQuorum() quorum.Quorum { return m.rec.CommittedQuorum }

// CurrentTerm returns the in-memory term.
func (m *Meta) CurrentTerm() int64 { return m.rec.CurrentTerm }

// SetCommittedQuorum replaces the in-memory quorum. Not durable until Flush.
func (m *Meta) SetCommittedQuorum(q quorum.Quorum) { m.rec.CommittedQuorum = q }

// SetCurrentTerm replaces the in-memory term. Not durable until Flush.
func (m *Meta) SetCurrentTerm(term int64) { m.rec.CurrentTerm = term }

// Flush writes the record durably via write-to-temp, fsync, rename.
func (m *Meta) Flush() error {
	data, err := json.MarshalIndent(&m.rec, "", "  ")
	if err != nil {
		return status.Wrap(status.CodeCorruption, err, "encoding consensus meta for tablet %s",
			m.rec.TabletID)
	}
	path := m.fsm.ConsensusMetaPath(m.rec.TabletID)
	if err := m.fsm.WriteAtomic(path, data); err != nil {
		return status.Wrap(status.CodeIOError, err, "flushing consensus meta for tablet %s",
			m.rec.TabletID)
	}
	return nil
}
