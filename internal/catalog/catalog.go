// Package catalog implements the system catalog: a self-hosted tablet owned
// by the master that persists every table and tablet descriptor as rows of
// the form (entry_type, entry_id) -> metadata, replicated through the same
// write path it describes.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"tabletdb/internal/consensus"
	"tabletdb/internal/fs"
	"tabletdb/internal/metrics"
	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/util/arena"
	"tabletdb/internal/util/threadpool"
)

const (
	// TabletID is the well-known id of the catalog tablet, fixed across
	// the cluster.
	TabletID = "00000000000000000000000000000000"

	blockA = "00000000000000000000000000000000"
	blockB = "11111111111111111111111111111111"

	tableName = "tabletdb.system.catalog"

	colEntryType = "entry_type"
	colEntryID   = "entry_id"
	colMetadata  = "metadata"
)

// EntryType is the leading key column: all entries of one kind form a
// contiguous scan range.
type EntryType uint8

const (
	TablesEntry  EntryType = 0
	TabletsEntry EntryType = 1
)

// Schema returns the compiled-in catalog schema.
func Schema() tablet.Schema {
	s, err := tablet.NewSchema([]tablet.ColumnSchema{
		{Name: colEntryType, Type: tablet.TypeUint8},
		{Name: colEntryID, Type: tablet.TypeBytes},
		{Name: colMetadata, Type: tablet.TypeBytes},
	}, 2)
	if err != nil {
		panic(err)
	}
	return s
}

// Options is the quorum-relevant slice of the master configuration.
type Options struct {
	Distributed       bool
	Leader            bool
	FollowerAddresses []quorum.HostPort
	LeaderAddress     quorum.HostPort
	LocalAddress      quorum.HostPort
}

func (o Options) IsDistributed() bool { return o.Distributed }

func (o Options) distributedQuorumOptions() quorum.DistributedOptions {
	return quorum.DistributedOptions{
		Leader:            o.Leader,
		FollowerAddresses: o.FollowerAddresses,
		LeaderAddress:     o.LeaderAddress,
		LocalAddress:      o.LocalAddress,
	}
}

// PeerFactory brings the catalog tablet online over its committed quorum.
// Production wires the raft-backed peer; tests substitute fakes.
type PeerFactory func(meta *tablet.Meta, q quorum.Quorum, store *tablet.Store,
	leaderApply, replicaApply *threadpool.Pool) (tablet.Peer, error)

// Config assembles a Catalog.
type Config struct {
	FS          *fs.Manager
	Options     Options
	Resolver    quorum.UUIDResolver
	PeerFactory PeerFactory

	// WriteTimeout bounds each replicated catalog write.
	WriteTimeout time.Duration
}

// Catalog owns the catalog tablet's peer and exposes typed mutation and
// visitation methods over its rows.
type Catalog struct {
	cfg    Config
	schema tablet.Schema

	leaderApply  *threadpool.Pool
	replicaApply *threadpool.Pool

	store *tablet.Store
	peer  tablet.Peer

	// fatalf aborts master startup; overridable in tests.
	fatalf func(format string, args ...any)
}

func newCatalog(cfg Config) (*Catalog, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	leaderApply, err := threadpool.NewBuilder("ldr-apply").Build()
	if err != nil {
		return nil, err
	}
	replicaApply, err := threadpool.NewBuilder("repl-apply").Build()
	if err != nil {
		leaderApply.Shutdown()
		return nil, err
	}
	return &Catalog{
		cfg:          cfg,
		schema:       Schema(),
		leaderApply:  leaderApply,
		replicaApply: replicaApply,
		fatalf: func(format string, args ...any) {
			slog.Error("aborting master startup", "reason", status.IllegalState(format, args...))
			os.Exit(1)
		},
	}, nil
}

// CreateNew initializes the catalog tablet on an empty fs root: persists
// the tablet descriptor with the fixed schema, builds and flushes the
// initial quorum, then brings the tablet online.
func CreateNew(ctx context.Context, cfg Config) (*Catalog, error) {
	c, err := newCatalog(cfg)
	if err != nil {
		return nil, err
	}

	meta, err := tablet.CreateNewMeta(cfg.FS, TabletID, tableName, c.schema,
		[]string{blockA, blockB}, tablet.StateRemoteBootstrapDone)
	if err != nil {
		c.shutdownPools()
		return nil, err
	}

	const initialSeqno = 0
	var q quorum.Quorum
	if cfg.Options.IsDistributed() {
		q, err = quorum.SetupDistributed(ctx, cfg.Options.distributedQuorumOptions(),
			initialSeqno, cfg.Resolver)
		if err != nil {
			c.shutdownPools()
			return nil, status.Wrap(status.CodeOf(err), err, "failed to initialize distributed quorum")
		}
	} else {
		q = quorum.NewLocal(initialSeqno, cfg.FS.UUID())
	}

	if _, err := consensus.Create(cfg.FS, TabletID, q, consensus.MinimumTerm); err != nil {
		c.shutdownPools()
		return nil, status.Wrap(status.CodeOf(err), err,
			"unable to persist consensus metadata for tablet %s", TabletID)
	}

	if err := c.setupTablet(meta, q); err != nil {
		c.shutdownPools()
		return nil, err
	}
	return c, nil
}

// Load brings up the catalog tablet from an existing fs root. The persisted
// schema must match the compiled-in one; in distributed mode the quorum is
// re-resolved from current options under a bumped seqno and re-flushed
// before bring-up.
func Load(ctx context.Context, cfg Config) (*Catalog, error) {
	c, err := newCatalog(cfg)
	if err != nil {
		return nil, err
	}

	meta, err := tablet.LoadMeta(cfg.FS, TabletID)
	if err != nil {
		c.shutdownPools()
		return nil, err
	}
	if !meta.Schema.Equals(c.schema) {
		c.shutdownPools()
		return nil, status.Corruption("unexpected catalog schema on tablet %s", TabletID)
	}

	cmeta, err := consensus.Load(cfg.FS, TabletID)
	if err != nil {
		c.shutdownPools()
		return nil, status.Wrap(status.CodeOf(err), err,
			"unable to load consensus metadata for tablet %s", TabletID)
	}

	q := cmeta.CommittedQuorum()
	if cfg.Options.IsDistributed() {
		slog.Info("configuring the quorum for distributed operation", "tablet", TabletID)
		oldSeqno := q.SeqNo
		q, err = quorum.SetupDistributed(ctx, cfg.Options.distributedQuorumOptions(),
			oldSeqno+1, cfg.Resolver)
		if err != nil {
			c.shutdownPools()
			return nil, err
		}
		cmeta.SetCommittedQuorum(q)
		if err := cmeta.Flush(); err != nil {
			c.shutdownPools()
			return nil, status.Wrap(status.CodeOf(err), err,
				"unable to persist consensus metadata for tablet %s", TabletID)
		}
	}

	if err := c.setupTablet(meta, q); err != nil {
		c.shutdownPools()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) setupTablet(meta *tablet.Meta, q quorum.Quorum) error {
	c.store = tablet.NewStore(c.schema)
	peer, err := c.cfg.PeerFactory(meta, q, c.store, c.leaderApply, c.replicaApply)
	if err != nil {
		return status.Wrap(status.CodeOf(err), err, "failed to start catalog tablet peer")
	}
	c.peer = peer
	peer.RegisterQuorumChangeCallback(c.stateChanged)
	return nil
}

// WaitUntilRunning polls until the underlying consensus is serving,
// logging a warning every second it is not. Any error other than a timeout
// is fatal to startup.
func (c *Catalog) WaitUntilRunning() error {
	secondsWaited := 0
	for {
		err := c.peer.WaitUntilConsensusRunning(time.Second)
		secondsWaited++
		if err == nil {
			slog.Info("catalog tablet configured and running, proceeding with master startup",
				"tablet", TabletID)
			return nil
		}
		if status.IsTimedOut(err) {
			slog.Warn("catalog tablet not online yet",
				"tablet", TabletID, "seconds_waiting", secondsWaited)
			continue
		}
		return err
	}
}

// stateChanged runs on every quorum-configuration change of the catalog
// peer. At bootstrap the configured role must match the elected one;
// anything else aborts startup.
func (c *Catalog) stateChanged(ev tablet.QuorumChangeEvent) {
	slog.Info("catalog tablet state changed",
		"tablet", ev.TabletID, "role", string(ev.Role),
		"quorum_seqno", ev.Quorum.SeqNo, "quorum_peers", len(ev.Quorum.Peers))

	if !c.cfg.Options.IsDistributed() {
		return
	}
	if c.cfg.Options.Leader {
		if ev.Role != quorum.RoleLeader {
			c.fatalf("this peer could not be set as LEADER of the catalog quorum (role %s)", ev.Role)
		}
	} else {
		if ev.Role != quorum.RoleFollower {
			c.fatalf("this peer could not be set as FOLLOWER of the catalog quorum (role %s)", ev.Role)
		}
	}
}

// Peer exposes the catalog tablet peer to the master's RPC surface.
func (c *Catalog) Peer() tablet.Peer { return c.peer }

// Shutdown stops the tablet peer, then the apply pools in reverse creation
// order.
func (c *Catalog) Shutdown() {
	if c.peer != nil {
		c.peer.Shutdown()
	}
	c.shutdownPools()
}

func (c *Catalog) shutdownPools() {
	c.replicaApply.Shutdown()
	c.leaderApply.Shutdown()
}

// ---------------------------------------------------------------------
// Mutations. Every mutation builds one replicated write batch against the
// catalog tablet; the batch commits atomically or not at all, so callers
// may correlate updates (a table plus its initial tablets) in one call.
// ---------------------------------------------------------------------

func (c *Catalog) syncWrite(op string, ops []tablet.RowOp) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	res, err := c.peer.SubmitWrite(ctx, ops)
	metrics.CatalogWriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CatalogWritesTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	if len(res.RowErrors) > 0 {
		for _, re := range res.RowErrors {
			slog.Warn("catalog row write failed", "op", op,
				"row", re.RowIndex, "code", re.Code, "message", re.Message)
		}
		metrics.CatalogWritesTotal.WithLabelValues(op, "row_error").Inc()
		return status.Corruption("one or more rows failed to write")
	}
	metrics.CatalogWritesTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *Catalog) tableRowOp(opType tablet.OpType, table *TableInfo) (tablet.RowOp, error) {
	cells := map[int][]byte{
		0: tablet.EncodeUint8(uint8(TablesEntry)),
		1: []byte(table.ID()),
	}
	if opType == tablet.OpDelete {
		return tablet.RowOp{Type: opType, Cells: cells}, nil
	}

	md := table.Dirty()
	if md == nil {
		return tablet.RowOp{}, status.IllegalState("table %s has no staged metadata", table.ID())
	}
	buf, err := json.Marshal(md)
	if err != nil {
		return tablet.RowOp{}, status.Wrap(status.CodeCorruption, err,
			"unable to serialize metadata for table %s", table.ID())
	}
	cells[2] = buf
	return tablet.RowOp{Type: opType, Cells: cells}, nil
}

func (c *Catalog) tabletRowOps(opType tablet.OpType, tablets []*TabletInfo) ([]tablet.RowOp, error) {
	ops := make([]tablet.RowOp, 0, len(tablets))
	for _, ti := range tablets {
		cells := map[int][]byte{
			0: tablet.EncodeUint8(uint8(TabletsEntry)),
			1: []byte(ti.TabletID()),
		}
		if opType != tablet.OpDelete {
			md := ti.Dirty()
			if md == nil {
				return nil, status.IllegalState("tablet %s has no staged metadata", ti.TabletID())
			}
			buf, err := json.Marshal(md)
			if err != nil {
				return nil, status.Wrap(status.CodeCorruption, err,
					"unable to serialize metadata for tablet %s", ti.TabletID())
			}
			cells[2] = buf
		}
		ops = append(ops, tablet.RowOp{Type: opType, Cells: cells})
	}
	return ops, nil
}

// AddTable inserts a TABLES row from the table's staged metadata.
func (c *Catalog) AddTable(table *TableInfo) error {
	op, err := c.tableRowOp(tablet.OpInsert, table)
	if err != nil {
		return err
	}
	return c.syncWrite("add_table", []tablet.RowOp{op})
}

// UpdateTable rewrites a TABLES row from the table's staged metadata.
func (c *Catalog) UpdateTable(table *TableInfo) error {
	op, err := c.tableRowOp(tablet.OpUpdate, table)
	if err != nil {
		return err
	}
	return c.syncWrite("update_table", []tablet.RowOp{op})
}

// DeleteTable removes a TABLES row. The write targets the catalog tablet
// like every other mutation.
func (c *Catalog) DeleteTable(table *TableInfo) error {
	op, err := c.tableRowOp(tablet.OpDelete, table)
	if err != nil {
		return err
	}
	return c.syncWrite("delete_table", []tablet.RowOp{op})
}

// AddTablets inserts TABLETS rows.
func (c *Catalog) AddTablets(tablets []*TabletInfo) error {
	return c.AddAndUpdateTablets(tablets, nil)
}

// UpdateTablets rewrites TABLETS rows.
func (c *Catalog) UpdateTablets(tablets []*TabletInfo) error {
	return c.AddAndUpdateTablets(nil, tablets)
}

// AddAndUpdateTablets inserts and updates TABLETS rows in one atomic batch.
func (c *Catalog) AddAndUpdateTablets(toAdd, toUpdate []*TabletInfo) error {
	var ops []tablet.RowOp
	if len(toAdd) > 0 {
		add, err := c.tabletRowOps(tablet.OpInsert, toAdd)
		if err != nil {
			return err
		}
		ops = append(ops, add...)
	}
	if len(toUpdate) > 0 {
		upd, err := c.tabletRowOps(tablet.OpUpdate, toUpdate)
		if err != nil {
			return err
		}
		ops = append(ops, upd...)
	}
	if len(ops) == 0 {
		return nil
	}
	return c.syncWrite("add_and_update_tablets", ops)
}

// DeleteTablets removes TABLETS rows.
func (c *Catalog) DeleteTablets(tablets []*TabletInfo) error {
	ops, err := c.tabletRowOps(tablet.OpDelete, tablets)
	if err != nil {
		return err
	}
	return c.syncWrite("delete_tablets", ops)
}

// ---------------------------------------------------------------------
// Visitation. Rows are delivered in ascending key order; visitors must be
// idempotent across restarts.
// ---------------------------------------------------------------------

const (
	visitBlockRows = 512
	visitArenaInit = 32 * 1024
	visitArenaMax  = 256 * 1024
)

// TableVisitor receives every TABLES row.
type TableVisitor interface {
	VisitTable(tableID string, metadata *TableMetadata) error
}

// TabletVisitor receives every TABLETS row.
type TabletVisitor interface {
	VisitTablet(tableID, tabletID string, metadata *TabletMetadata) error
}

func (c *Catalog) entryTypeRange(et EntryType) (lower, upper []byte) {
	lower, _ = c.schema.EncodeKey(map[int][]byte{
		0: tablet.EncodeUint8(uint8(et)), 1: nil,
	})
	upper, _ = c.schema.EncodeKey(map[int][]byte{
		0: tablet.EncodeUint8(uint8(et) + 1), 1: nil,
	})
	return lower, upper
}

// VisitTables scans the TABLES range and delivers each decoded descriptor.
func (c *Catalog) VisitTables(v TableVisitor) error {
	lower, upper := c.entryTypeRange(TablesEntry)
	a := arena.New(visitArenaInit, visitArenaMax)
	it := c.peer.Store().NewBlockIter(lower, upper, visitBlockRows, a)

	for {
		rows, ok := it.NextBlock()
		if !ok {
			return nil
		}
		for _, row := range rows {
			tableID := string(row.Cells[1])
			md := &TableMetadata{}
			if err := json.Unmarshal(row.Cells[2], md); err != nil {
				return status.Wrap(status.CodeCorruption, err,
					"unable to parse metadata field for table %s", tableID)
			}
			metrics.CatalogVisitedRows.WithLabelValues("tables").Inc()
			if err := v.VisitTable(tableID, md); err != nil {
				return err
			}
		}
	}
}

// VisitTablets scans the TABLETS range and delivers each decoded
// descriptor along with its parent table id.
func (c *Catalog) VisitTablets(v TabletVisitor) error {
	lower, upper := c.entryTypeRange(TabletsEntry)
	a := arena.New(visitArenaInit, visitArenaMax)
	it := c.peer.Store().NewBlockIter(lower, upper, visitBlockRows, a)

	for {
		rows, ok := it.NextBlock()
		if !ok {
			return nil
		}
		for _, row := range rows {
			tabletID := string(row.Cells[1])
			md := &TabletMetadata{}
			if err := json.Unmarshal(row.Cells[2], md); err != nil {
				return status.Wrap(status.CodeCorruption, err,
					"unable to parse metadata field for tablet %s", tabletID)
			}
			metrics.CatalogVisitedRows.WithLabelValues("tablets").Inc()
			if err := v.VisitTablet(md.TableID, tabletID, md); err != nil {
				return err
			}
		}
	}
}
