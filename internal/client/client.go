// Package client is the cluster-facing write API: a Client owns the
// messenger, meta cache and master proxy; Sessions created from it carry
// the buffered write path.
package client

import (
	"context"
	"log/slog"
	"sync"

	"tabletdb/internal/quorum"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
)

// Options configures a Client. MasterAddr is required.
type Options struct {
	MasterAddr string
}

// Client is a connection handle on the cluster. Each instance is fully
// independent: no shared connections, no global state. Thread-safe.
type Client struct {
	opts      Options
	messenger Messenger

	masterAddr quorum.HostPort
	master     MasterProxy
	metaCache  *MetaCache

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// New resolves the master address, opens a durable master proxy and
// prepares the caches. The messenger is owned by the client from here on.
func New(opts Options, messenger Messenger) (*Client, error) {
	if opts.MasterAddr == "" {
		return nil, status.InvalidArgument("master_server_addr is required")
	}
	addr, err := quorum.ParseHostPort(opts.MasterAddr)
	if err != nil {
		return nil, err
	}

	master, err := messenger.MasterProxy(addr)
	if err != nil {
		return nil, status.Wrap(status.CodeNetworkError, err,
			"unable to open master proxy to %s", addr)
	}

	c := &Client{
		opts:       opts,
		messenger:  messenger,
		masterAddr: addr,
		master:     master,
		sessions:   make(map[*Session]struct{}),
	}
	c.metaCache = NewMetaCache(master)
	slog.Info("client created", "master", addr.String())
	return c, nil
}

// OpenTable returns a handle on the named table. The schema is supplied by
// the caller for now, pending catalog-side schema fetch.
func (c *Client) OpenTable(name string, schema tablet.Schema) (*Table, error) {
	if name == "" {
		return nil, status.InvalidArgument("table name is required")
	}
	if len(schema.Columns) == 0 {
		return nil, status.InvalidArgument("table %s needs a schema", name)
	}
	return &Table{client: c, name: name, schema: schema}, nil
}

// NewSession creates an independent write session. Purely local: no RPCs,
// no blocking.
func (c *Client) NewSession() *Session {
	s := newSession(c)
	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()
	return s
}

// TabletProxy returns an RPC proxy addressing the server hosting the given
// tablet. Advanced path; MetaCache-driven routing replaces it for normal
// writes.
func (c *Client) TabletProxy(tabletID string) (TabletProxy, error) {
	rt, err := c.metaCache.LookupTabletByID(context.Background(), tabletID)
	if err != nil {
		return nil, err
	}
	if len(rt.Replicas) == 0 {
		return nil, status.ServiceUnavailable("tablet %s has no known replicas", tabletID)
	}
	return c.messenger.TabletProxy(rt.Replicas[0])
}

// MetaCache exposes the location cache to scanners.
func (c *Client) MetaCache() *MetaCache { return c.metaCache }

// MasterProxy returns the proxy to the current master.
func (c *Client) MasterProxy() MasterProxy { return c.master }

func (c *Client) detachSession(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
}

// Close tears down the messenger. Sessions must be closed first.
func (c *Client) Close() error {
	c.mu.Lock()
	open := len(c.sessions)
	c.mu.Unlock()
	if open > 0 {
		return status.IllegalState("%d sessions still open", open)
	}
	return c.messenger.Close()
}
