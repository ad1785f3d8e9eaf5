// Package wire defines the request/response envelopes shared by the client,
// the tablet service and the catalog write path. Envelopes travel over the
// messenger's JSON codec; there is no generated code behind them.
package wire

import (
	"tabletdb/internal/quorum"
	"tabletdb/internal/tablet"
)

// WriteRequest is one batched write against a single tablet.
type WriteRequest struct {
	TabletID string         `json:"tablet_id"`
	Schema   tablet.Schema  `json:"schema"`
	Ops      []tablet.RowOp `json:"ops"`
}

// TabletError is a tablet-level failure affecting the whole request.
type TabletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteResponse carries per-row errors and an optional tablet-level error.
type WriteResponse struct {
	Error        *TabletError      `json:"error,omitempty"`
	PerRowErrors []tablet.RowError `json:"per_row_errors,omitempty"`
}

// ResolvePeerRequest asks a server for its permanent uuid.
type ResolvePeerRequest struct{}

type ResolvePeerResponse struct {
	PermanentUUID string `json:"permanent_uuid"`
}

// GetTableLocationsRequest resolves a table to its tablets.
type GetTableLocationsRequest struct {
	TableName string `json:"table_name"`
}

// TabletLocation names a tablet replica set and its key range.
type TabletLocation struct {
	TabletID string            `json:"tablet_id"`
	StartKey []byte            `json:"start_key,omitempty"`
	EndKey   []byte            `json:"end_key,omitempty"`
	Replicas []quorum.HostPort `json:"replicas"`
}

type GetTableLocationsResponse struct {
	TableID string           `json:"table_id"`
	Tablets []TabletLocation `json:"tablets"`
}

// GetTabletLocationsRequest resolves one tablet to its serving addresses.
type GetTabletLocationsRequest struct {
	TabletID string `json:"tablet_id"`
}

type GetTabletLocationsResponse struct {
	Location TabletLocation `json:"location"`
}
