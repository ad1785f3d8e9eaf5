// Package master runs the cluster master: it hosts the system catalog
// tablet, answers location lookups and serves table DDL.
package master

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.etcd.io/raft/v3/raftpb"

	"tabletdb/internal/catalog"
	"tabletdb/internal/consensus/raftpeer"
	"tabletdb/internal/fs"
	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/wire"
)

// Config assembles a master.
type Config struct {
	FS       *fs.Manager
	Options  catalog.Options
	Resolver quorum.UUIDResolver

	// PeerFactory overrides the catalog tablet peer construction; nil uses
	// the raft-backed default.
	PeerFactory catalog.PeerFactory
}

// Master owns the catalog and the in-memory table/tablet maps rebuilt from
// it at startup.
type Master struct {
	cfg     Config
	catalog *catalog.Catalog

	mu             sync.RWMutex
	tablesByID     map[string]*catalog.TableInfo
	tablesByName   map[string]*catalog.TableInfo
	tablets        map[string]*catalog.TabletInfo
	tabletsByTable map[string][]*catalog.TabletInfo
}

// Init brings the master up: create-or-load the catalog tablet, wait for
// its consensus, then rebuild the in-memory state through the visitors.
func Init(ctx context.Context, cfg Config) (*Master, error) {
	if cfg.PeerFactory == nil {
		cfg.PeerFactory = catalog.RaftPeerFactory(cfg.FS, nil)
	}

	m := &Master{
		cfg:            cfg,
		tablesByID:     make(map[string]*catalog.TableInfo),
		tablesByName:   make(map[string]*catalog.TableInfo),
		tablets:        make(map[string]*catalog.TabletInfo),
		tabletsByTable: make(map[string][]*catalog.TabletInfo),
	}

	catCfg := catalog.Config{
		FS:          cfg.FS,
		Options:     cfg.Options,
		Resolver:    cfg.Resolver,
		PeerFactory: cfg.PeerFactory,
	}

	cat, err := catalog.Load(ctx, catCfg)
	if status.IsNotFound(err) {
		slog.Info("no catalog tablet found, creating a new one")
		cat, err = catalog.CreateNew(ctx, catCfg)
	}
	if err != nil {
		return nil, err
	}
	m.catalog = cat

	if err := cat.WaitUntilRunning(); err != nil {
		cat.Shutdown()
		return nil, err
	}
	if err := m.loadFromCatalog(); err != nil {
		cat.Shutdown()
		return nil, err
	}
	slog.Info("master initialized",
		"tables", len(m.tablesByID), "tablets", len(m.tablets))
	return m, nil
}

// loadFromCatalog rebuilds the in-memory maps. Idempotent across restarts.
func (m *Master) loadFromCatalog() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tablesByID = make(map[string]*catalog.TableInfo)
	m.tablesByName = make(map[string]*catalog.TableInfo)
	m.tablets = make(map[string]*catalog.TabletInfo)
	m.tabletsByTable = make(map[string][]*catalog.TabletInfo)

	if err := m.catalog.VisitTables(tableLoader{m}); err != nil {
		return err
	}
	return m.catalog.VisitTablets(tabletLoader{m})
}

type tableLoader struct{ m *Master }

func (l tableLoader) VisitTable(tableID string, md *catalog.TableMetadata) error {
	info := catalog.NewTableInfo(tableID, md)
	info.CommitDirty()
	l.m.tablesByID[tableID] = info
	l.m.tablesByName[md.Name] = info
	return nil
}

type tabletLoader struct{ m *Master }

func (l tabletLoader) VisitTablet(tableID, tabletID string, md *catalog.TabletMetadata) error {
	info := catalog.NewTabletInfo(tabletID, md)
	info.CommitDirty()
	l.m.tablets[tabletID] = info
	l.m.tabletsByTable[tableID] = append(l.m.tabletsByTable[tableID], info)
	return nil
}

// Catalog exposes the underlying catalog to the RPC surface and tests.
func (m *Master) Catalog() *catalog.Catalog { return m.catalog }

func (m *Master) Shutdown() {
	m.catalog.Shutdown()
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateTable persists a new table and its tablets. The tablets land in one
// atomic catalog batch; splitKeys carve the key space into len(splitKeys)+1
// ranges.
func (m *Master) CreateTable(name string, schema tablet.Schema, splitKeys [][]byte,
	replicas []quorum.HostPort) (*catalog.TableInfo, error) {
	if name == "" {
		return nil, status.InvalidArgument("table name is required")
	}

	m.mu.Lock()
	if _, exists := m.tablesByName[name]; exists {
		m.mu.Unlock()
		return nil, status.AlreadyPresent("table %s already exists", name)
	}
	m.mu.Unlock()

	table := catalog.NewTableInfo(newID(), &catalog.TableMetadata{
		Name:   name,
		Schema: schema,
		State:  catalog.TableRunning,
	})

	var tablets []*catalog.TabletInfo
	bounds := append([][]byte{nil}, splitKeys...)
	for i, start := range bounds {
		var end []byte
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		tablets = append(tablets, catalog.NewTabletInfo(newID(), &catalog.TabletMetadata{
			TableID:  table.ID(),
			StartKey: start,
			EndKey:   end,
			State:    catalog.TabletRunning,
			Replicas: replicas,
		}))
	}

	if err := m.catalog.AddTable(table); err != nil {
		return nil, err
	}
	table.CommitDirty()

	if err := m.catalog.AddTablets(tablets); err != nil {
		return nil, err
	}
	for _, ti := range tablets {
		ti.CommitDirty()
	}

	m.mu.Lock()
	m.tablesByID[table.ID()] = table
	m.tablesByName[name] = table
	for _, ti := range tablets {
		m.tablets[ti.TabletID()] = ti
		m.tabletsByTable[table.ID()] = append(m.tabletsByTable[table.ID()], ti)
	}
	m.mu.Unlock()

	slog.Info("created table", "name", name, "id", table.ID(), "tablets", len(tablets))
	return table, nil
}

// DeleteTable removes a table and its tablets from the catalog.
func (m *Master) DeleteTable(name string) error {
	m.mu.Lock()
	table, ok := m.tablesByName[name]
	if !ok {
		m.mu.Unlock()
		return status.NotFound("table %s", name)
	}
	tablets := m.tabletsByTable[table.ID()]
	m.mu.Unlock()

	if len(tablets) > 0 {
		if err := m.catalog.DeleteTablets(tablets); err != nil {
			return err
		}
	}
	if err := m.catalog.DeleteTable(table); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tablesByName, name)
	delete(m.tablesByID, table.ID())
	for _, ti := range tablets {
		delete(m.tablets, ti.TabletID())
	}
	delete(m.tabletsByTable, table.ID())
	m.mu.Unlock()

	slog.Info("deleted table", "name", name, "id", table.ID())
	return nil
}

// ---------------------------------------------------------------------
// RPC surface (transport.MasterServer, transport.TabletServer).
// ---------------------------------------------------------------------

// ResolvePeer reports this server's permanent uuid for quorum setup.
func (m *Master) ResolvePeer(_ context.Context, _ *wire.ResolvePeerRequest) (*wire.ResolvePeerResponse, error) {
	return &wire.ResolvePeerResponse{PermanentUUID: m.cfg.FS.UUID()}, nil
}

// GetTableLocations lists the tablets of a table with their replicas.
func (m *Master) GetTableLocations(_ context.Context, req *wire.GetTableLocationsRequest) (*wire.GetTableLocationsResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, ok := m.tablesByName[req.TableName]
	if !ok {
		return nil, status.NotFound("table %s", req.TableName)
	}
	resp := &wire.GetTableLocationsResponse{TableID: table.ID()}
	for _, ti := range m.tabletsByTable[table.ID()] {
		md := ti.Committed()
		if md == nil {
			continue
		}
		resp.Tablets = append(resp.Tablets, wire.TabletLocation{
			TabletID: ti.TabletID(),
			StartKey: md.StartKey,
			EndKey:   md.EndKey,
			Replicas: md.Replicas,
		})
	}
	return resp, nil
}

// GetTabletLocations resolves a single tablet, including the catalog
// tablet itself.
func (m *Master) GetTabletLocations(_ context.Context, req *wire.GetTabletLocationsRequest) (*wire.GetTabletLocationsResponse, error) {
	if req.TabletID == catalog.TabletID {
		return &wire.GetTabletLocationsResponse{Location: wire.TabletLocation{
			TabletID: catalog.TabletID,
			Replicas: []quorum.HostPort{m.cfg.Options.LocalAddress},
		}}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ti, ok := m.tablets[req.TabletID]
	if !ok {
		return nil, status.NotFound("tablet %s", req.TabletID)
	}
	md := ti.Committed()
	if md == nil {
		return nil, status.IllegalState("tablet %s has no committed metadata", req.TabletID)
	}
	return &wire.GetTabletLocationsResponse{Location: wire.TabletLocation{
		TabletID: ti.TabletID(),
		StartKey: md.StartKey,
		EndKey:   md.EndKey,
		Replicas: md.Replicas,
	}}, nil
}

// StepConsensus feeds a received consensus message into the catalog
// tablet's peer. No-op for non-raft peers (test fakes).
func (m *Master) StepConsensus(ctx context.Context, msg raftpb.Message) error {
	if p, ok := m.catalog.Peer().(*raftpeer.Peer); ok {
		return p.Step(ctx, msg)
	}
	return nil
}

// Write serves the tablet write RPC for tablets this master hosts; today
// that is exactly the catalog tablet.
func (m *Master) Write(ctx context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error) {
	if req.TabletID != catalog.TabletID {
		return &wire.WriteResponse{Error: &wire.TabletError{
			Code:    status.CodeNotFound.String(),
			Message: "tablet " + req.TabletID + " is not hosted by this server",
		}}, nil
	}
	if !req.Schema.Equals(catalog.Schema()) {
		return &wire.WriteResponse{Error: &wire.TabletError{
			Code:    status.CodeInvalidArgument.String(),
			Message: "request schema does not match the catalog schema",
		}}, nil
	}

	res, err := m.catalog.Peer().SubmitWrite(ctx, req.Ops)
	if err != nil {
		return &wire.WriteResponse{Error: &wire.TabletError{
			Code:    status.CodeOf(err).String(),
			Message: err.Error(),
		}}, nil
	}
	return &wire.WriteResponse{PerRowErrors: res.RowErrors}, nil
}
