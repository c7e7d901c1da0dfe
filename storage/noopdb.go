package storage

import (
	"context"
)

// NoOpDB is used when we need to avoid touching a real store while still
// preserving our interactions with an abstract one, e.g., to check that a
// configuration parses and wires up without a cluster. The strategy is to
// return whatever value will prevent the calling context from further
// interacting with the storage layer.
//
// For reads and writes, we always return ErrDisabled, so the caller knows that
// no actual data has been read or written.
//
// For store-wide operations, such as closing the store, we always return a nil
// error. This is because, since there is nothing to close, the operation is
// always successful.
type NoOpDB struct{}

// TableExists always returns an error so callers don't assume a table is
// missing and go on to create it.
func (n *NoOpDB) TableExists(ctx context.Context, table string) (bool, error) {
	return false, ErrDisabled
}

// ListTables always returns an error so callers don't mistake the result for
// an empty cluster.
func (n *NoOpDB) ListTables(ctx context.Context) ([]string, error) {
	return nil, ErrDisabled
}

// CreateTable always returns an error so callers don't assume a table has
// been created.
func (n *NoOpDB) CreateTable(ctx context.Context, spec TableSpec) error {
	return ErrDisabled
}

// DropTable always returns an error.
func (n *NoOpDB) DropTable(ctx context.Context, table string) error {
	return ErrDisabled
}

// TruncateTable always returns an error.
func (n *NoOpDB) TruncateTable(ctx context.Context, table string) error {
	return ErrDisabled
}

// Get always returns an error so callers don't assume a row has been read.
func (n *NoOpDB) Get(ctx context.Context, table string, g Get) (Row, error) {
	return Row{}, ErrDisabled
}

// Put always returns an error so callers don't assume a cell has been
// written.
func (n *NoOpDB) Put(ctx context.Context, table string, p Put) error {
	return ErrDisabled
}

// Delete always returns an error.
func (n *NoOpDB) Delete(ctx context.Context, table string, d Delete) error {
	return ErrDisabled
}

// Scan always returns an error.
func (n *NoOpDB) Scan(ctx context.Context, table string, s ScanSpec) (Scanner, error) {
	return nil, ErrDisabled
}

// Close is no-op
func (n *NoOpDB) Close() error {
	return nil
}
