package client

import (
	"bytes"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"tabletdb/internal/metrics"
	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/wire"
)

// RemoteTablet is a cached tablet location: its key range and the servers
// currently believed to host it.
type RemoteTablet struct {
	ID       string
	StartKey []byte
	EndKey   []byte
	Replicas []quorum.HostPort
}

// ContainsKey reports whether key falls inside this tablet's range.
func (r *RemoteTablet) ContainsKey(key []byte) bool {
	if len(r.StartKey) > 0 && bytes.Compare(key, r.StartKey) < 0 {
		return false
	}
	if len(r.EndKey) > 0 && bytes.Compare(key, r.EndKey) >= 0 {
		return false
	}
	return true
}

// MetaCache caches table-to-tablet and tablet-to-server lookups, filling
// misses from the master. Concurrent misses for the same table collapse
// into one RPC.
type MetaCache struct {
	master MasterProxy

	mu       sync.RWMutex
	byTable  map[string][]*RemoteTablet
	byTablet map[string]*RemoteTablet

	sf singleflight.Group
}

func NewMetaCache(master MasterProxy) *MetaCache {
	return &MetaCache{
		master:   master,
		byTable:  make(map[string][]*RemoteTablet),
		byTablet: make(map[string]*RemoteTablet),
	}
}

// LookupTabletForKey resolves the tablet covering key in the named table.
func (m *MetaCache) LookupTabletForKey(ctx context.Context, tableName string, key []byte) (*RemoteTablet, error) {
	m.mu.RLock()
	tablets, ok := m.byTable[tableName]
	m.mu.RUnlock()

	if ok {
		for _, t := range tablets {
			if t.ContainsKey(key) {
				metrics.MetaCacheLookups.WithLabelValues("hit").Inc()
				return t, nil
			}
		}
	}

	metrics.MetaCacheLookups.WithLabelValues("miss").Inc()
	tablets, err := m.fetchTable(ctx, tableName)
	if err != nil {
		return nil, err
	}
	for _, t := range tablets {
		if t.ContainsKey(key) {
			return t, nil
		}
	}
	return nil, status.NotFound("no tablet covers the requested key in table %s", tableName)
}

// LookupTabletByID resolves one tablet's location.
func (m *MetaCache) LookupTabletByID(ctx context.Context, tabletID string) (*RemoteTablet, error) {
	m.mu.RLock()
	t, ok := m.byTablet[tabletID]
	m.mu.RUnlock()
	if ok {
		metrics.MetaCacheLookups.WithLabelValues("hit").Inc()
		return t, nil
	}

	metrics.MetaCacheLookups.WithLabelValues("miss").Inc()
	v, err, _ := m.sf.Do("tablet:"+tabletID, func() (any, error) {
		resp, err := m.master.GetTabletLocations(ctx, &wire.GetTabletLocationsRequest{TabletID: tabletID})
		if err != nil {
			return nil, err
		}
		rt := remoteFromLocation(resp.Location)
		m.mu.Lock()
		m.byTablet[tabletID] = rt
		m.mu.Unlock()
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RemoteTablet), nil
}

func (m *MetaCache) fetchTable(ctx context.Context, tableName string) ([]*RemoteTablet, error) {
	v, err, _ := m.sf.Do("table:"+tableName, func() (any, error) {
		resp, err := m.master.GetTableLocations(ctx, &wire.GetTableLocationsRequest{TableName: tableName})
		if err != nil {
			return nil, err
		}
		tablets := make([]*RemoteTablet, 0, len(resp.Tablets))
		for _, loc := range resp.Tablets {
			tablets = append(tablets, remoteFromLocation(loc))
		}
		m.mu.Lock()
		m.byTable[tableName] = tablets
		for _, t := range tablets {
			m.byTablet[t.ID] = t
		}
		m.mu.Unlock()
		return tablets, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*RemoteTablet), nil
}

func remoteFromLocation(loc wire.TabletLocation) *RemoteTablet {
	return &RemoteTablet{
		ID:       loc.TabletID,
		StartKey: loc.StartKey,
		EndKey:   loc.EndKey,
		Replicas: loc.Replicas,
	}
}

// InvalidateTable drops a table's cached locations after a stale lookup.
func (m *MetaCache) InvalidateTable(tableName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byTable[tableName] {
		delete(m.byTablet, t.ID)
	}
	delete(m.byTable, tableName)
	metrics.MetaCacheLookups.WithLabelValues("invalidate").Inc()
}

// InvalidateTablet drops one tablet's cached location.
func (m *MetaCache) InvalidateTablet(tabletID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byTablet, tabletID)
	for table, tablets := range m.byTable {
		for _, t := range tablets {
			if t.ID == tabletID {
				delete(m.byTable, table)
				break
			}
		}
	}
	metrics.MetaCacheLookups.WithLabelValues("invalidate").Inc()
}
