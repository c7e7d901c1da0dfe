package operations

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/ptgott/hbase-template/connection"
	"github.com/ptgott/hbase-template/rowkey"
	"github.com/ptgott/hbase-template/storage"
	"github.com/ptgott/hbase-template/userconfig"
	"github.com/rs/zerolog"
)

// Operations is everything an application can do with the store. Template is
// the implementation.
type Operations interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ListTables(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, table string, families ...string) error
	CreateTableWithSplits(ctx context.Context, table string, families []string, splitKeys [][]byte) error
	DropTable(ctx context.Context, table string) error
	DropTables(ctx context.Context, tables []string) error
	TruncateTable(ctx context.Context, table string) error

	Get(ctx context.Context, table string, key rowkey.Key, families ...string) (storage.Row, error)
	GetTyped(ctx context.Context, table string, key interface{}, families ...string) (storage.Row, error)
	Query(ctx context.Context, table string, gets []storage.Get) ([]storage.Row, error)
	Put(ctx context.Context, table, row, family, qualifier string, value []byte) error
	PutBatch(ctx context.Context, table string, puts []storage.Put) error
	Delete(ctx context.Context, table, row, family string) error
	DeleteColumns(ctx context.Context, table, row, family string, qualifiers ...string) error
	DeleteBatch(ctx context.Context, table string, deletes []storage.Delete) error
	Scan(ctx context.Context, table string, spec storage.ScanSpec) ([]storage.Row, error)
	ScanEach(ctx context.Context, table string, spec storage.ScanSpec, fn func(storage.Row) bool) error
}

// Provider hands out the connection to use for an operation.
// *connection.Manager is the usual one.
type Provider interface {
	Get(ctx context.Context) (*connection.Connection, error)
}

// Template implements Operations on top of a Provider. It is safe for
// concurrent use.
type Template struct {
	conns         Provider
	batchPutLimit int
	log           zerolog.Logger
}

var _ Operations = (*Template)(nil)

// NewTemplate returns a Template that asks p for a connection on every call.
// A batchPutLimit of zero means userconfig.DefaultBatchPutLimit.
func NewTemplate(p Provider, batchPutLimit int, logger zerolog.Logger) *Template {
	if batchPutLimit <= 0 {
		batchPutLimit = userconfig.DefaultBatchPutLimit
	}
	return &Template{
		conns:         p,
		batchPutLimit: batchPutLimit,
		log:           logger,
	}
}

func (t *Template) store(ctx context.Context) (storage.Store, error) {
	c, err := t.conns.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.Store, nil
}

// storeFor returns the store if the table exists. A nil store with a nil
// error means the table doesn't exist.
func (t *Template) storeFor(ctx context.Context, table string) (storage.Store, error) {
	s, err := t.store(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := s.TableExists(ctx, table)
	if err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("can't check whether the table exists")
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s, nil
}

// mustExist is storeFor for writes: a missing table is an error.
func (t *Template) mustExist(ctx context.Context, table string) (storage.Store, error) {
	s, err := t.storeFor(ctx, table)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %v", ErrTableNotFound, table)
	}
	return s, nil
}

// TableExists reports whether the table exists. Names are case sensitive.
func (t *Template) TableExists(ctx context.Context, table string) (bool, error) {
	if err := hasLength("table", table); err != nil {
		return false, err
	}
	s, err := t.store(ctx)
	if err != nil {
		return false, err
	}
	ok, err := s.TableExists(ctx, table)
	if err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("can't check whether the table exists")
		return false, err
	}
	return ok, nil
}

// ListTables returns the names of all tables.
func (t *Template) ListTables(ctx context.Context) ([]string, error) {
	s, err := t.store(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := s.ListTables(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("can't list tables")
		return nil, err
	}
	return tables, nil
}

// CreateTable creates a table with the given column families.
func (t *Template) CreateTable(ctx context.Context, table string, families ...string) error {
	return t.CreateTableWithSplits(ctx, table, families, nil)
}

// CreateTableWithSplits creates a table pre-split at splitKeys. A table that
// already exists is left alone and ErrTableExists is returned.
func (t *Template) CreateTableWithSplits(ctx context.Context, table string, families []string, splitKeys [][]byte) error {
	if err := hasLength("table", table); err != nil {
		return err
	}
	if len(families) == 0 {
		return fmt.Errorf("%w: a table needs at least one column family", ErrInvalidArgument)
	}
	for _, f := range families {
		if err := hasLength("column family", f); err != nil {
			return err
		}
	}

	s, err := t.storeFor(ctx, table)
	if err != nil {
		return err
	}
	if s != nil {
		return fmt.Errorf("%w: %v", ErrTableExists, table)
	}

	s, err = t.store(ctx)
	if err != nil {
		return err
	}
	err = s.CreateTable(ctx, storage.TableSpec{
		Name:      table,
		Families:  families,
		SplitKeys: splitKeys,
	})
	if err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("create failed")
		return translate(table, err)
	}
	t.log.Info().Str("table", table).Strs("families", families).Msg("created table")
	return nil
}

// DropTable disables and deletes a table. Dropping a table that doesn't exist
// is not an error.
func (t *Template) DropTable(ctx context.Context, table string) error {
	if err := hasLength("table", table); err != nil {
		return err
	}
	s, err := t.storeFor(ctx, table)
	if err != nil {
		return err
	}
	if s == nil {
		t.log.Info().Str("table", table).Msg("table does not exist, nothing to drop")
		return nil
	}
	if err := s.DropTable(ctx, table); err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("drop failed")
		return translate(table, err)
	}
	t.log.Info().Str("table", table).Msg("table deleted successfully")
	return nil
}

// DropTables drops every named table once, going on after failures. The
// returned error lists every failure.
func (t *Template) DropTables(ctx context.Context, tables []string) error {
	seen := make(map[string]struct{}, len(tables))
	var result *multierror.Error
	for _, table := range tables {
		if _, ok := seen[table]; ok {
			continue
		}
		seen[table] = struct{}{}
		if err := t.DropTable(ctx, table); err != nil {
			result = multierror.Append(result, fmt.Errorf("can't drop %v: %w", table, err))
		}
	}
	return result.ErrorOrNil()
}

// TruncateTable removes every row and keeps the table's column families.
// Truncating a table that doesn't exist is not an error.
func (t *Template) TruncateTable(ctx context.Context, table string) error {
	if err := hasLength("table", table); err != nil {
		return err
	}
	s, err := t.storeFor(ctx, table)
	if err != nil {
		return err
	}
	if s == nil {
		t.log.Info().Str("table", table).Msg("table does not exist, nothing to truncate")
		return nil
	}
	if err := s.TruncateTable(ctx, table); err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("truncate failed")
		return translate(table, err)
	}
	t.log.Info().Str("table", table).Msg("table truncated successfully")
	return nil
}

// Get reads one row. If the table doesn't exist, the row is empty and the
// error is nil.
func (t *Template) Get(ctx context.Context, table string, key rowkey.Key, families ...string) (storage.Row, error) {
	if err := hasLength("table", table); err != nil {
		return storage.Row{}, err
	}
	if err := notEmpty("row key", key); err != nil {
		return storage.Row{}, err
	}
	s, err := t.storeFor(ctx, table)
	if err != nil {
		return storage.Row{}, err
	}
	if s == nil {
		t.log.Info().Str("table", table).Msg("table does not exist")
		return storage.Row{Key: key}, nil
	}
	r, err := s.Get(ctx, table, storage.Get{Row: key, Families: families})
	if err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("get failed")
		return storage.Row{}, translate(table, err)
	}
	return r, nil
}

// GetTyped is Get for a row key given as a string, int64, float64 or int32,
// encoded the way HBase's Java client encodes it. Other types are invalid
// arguments.
func (t *Template) GetTyped(ctx context.Context, table string, key interface{}, families ...string) (storage.Row, error) {
	k, err := rowkey.Encode(key)
	if err != nil {
		return storage.Row{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	t.log.Debug().Str("type", fmt.Sprintf("%T", key)).Msg("encoded row key")
	return t.Get(ctx, table, k, families...)
}

// Query reads several rows from one table. If the table doesn't exist, the
// result and the error are both nil.
func (t *Template) Query(ctx context.Context, table string, gets []storage.Get) ([]storage.Row, error) {
	if err := hasLength("table", table); err != nil {
		return nil, err
	}
	if gets == nil {
		return nil, fmt.Errorf("%w: gets must not be nil", ErrInvalidArgument)
	}
	for _, g := range gets {
		if err := notEmpty("row key", g.Row); err != nil {
			return nil, err
		}
	}
	s, err := t.storeFor(ctx, table)
	if err != nil {
		return nil, err
	}
	if s == nil {
		t.log.Info().Str("table", table).Msg("table does not exist")
		return nil, nil
	}
	rows := make([]storage.Row, 0, len(gets))
	for _, g := range gets {
		r, err := s.Get(ctx, table, g)
		if err != nil {
			t.log.Error().Err(err).Str("table", table).Msg("query failed")
			return nil, translate(table, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Put writes one cell. The row key is the UTF-8 bytes of row.
func (t *Template) Put(ctx context.Context, table, row, family, qualifier string, value []byte) error {
	err := hasLengthBatch(
		"table", table,
		"row", row,
		"column family", family,
		"qualifier", qualifier,
	)
	if err != nil {
		return err
	}
	s, err := t.mustExist(ctx, table)
	if err != nil {
		return err
	}
	err = s.Put(ctx, table, storage.Put{
		Row:    rowkey.FromString(row),
		Values: map[string]map[string][]byte{family: {qualifier: value}},
	})
	if err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("data put error")
		return translate(table, err)
	}
	return nil
}

// PutBatch writes every put to the table. A batch larger than the limit is
// rejected with ErrBatchTooLarge before anything is written. Otherwise every
// put is attempted and the returned error lists the ones that failed.
func (t *Template) PutBatch(ctx context.Context, table string, puts []storage.Put) error {
	if err := hasLength("table", table); err != nil {
		return err
	}
	if puts == nil {
		return fmt.Errorf("%w: puts must not be nil", ErrInvalidArgument)
	}
	if len(puts) > t.batchPutLimit {
		t.log.Warn().
			Int("limit", t.batchPutLimit).
			Int("size", len(puts)).
			Str("table", table).
			Msg("put batch is too large to insert")
		return fmt.Errorf("%w: %v puts, the limit is %v", ErrBatchTooLarge, len(puts), t.batchPutLimit)
	}
	for _, p := range puts {
		if err := notEmpty("row key", p.Row); err != nil {
			return err
		}
		if len(p.Values) == 0 {
			return fmt.Errorf("%w: a put needs at least one value", ErrInvalidArgument)
		}
	}

	s, err := t.mustExist(ctx, table)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, p := range puts {
		if err := s.Put(ctx, table, p); err != nil {
			result = multierror.Append(result, translate(table, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("data put error")
		return err
	}
	return nil
}

// Delete removes a column family from a row.
func (t *Template) Delete(ctx context.Context, table, row, family string) error {
	err := hasLengthBatch(
		"table", table,
		"row", row,
		"column family", family,
	)
	if err != nil {
		return err
	}
	return t.deleteOne(ctx, table, storage.Delete{Row: rowkey.FromString(row), Family: family})
}

// DeleteColumns removes some columns of one family from a row.
func (t *Template) DeleteColumns(ctx context.Context, table, row, family string, qualifiers ...string) error {
	err := hasLengthBatch(
		"table", table,
		"row", row,
		"column family", family,
	)
	if err != nil {
		return err
	}
	if len(qualifiers) == 0 {
		return fmt.Errorf("%w: no columns to delete", ErrInvalidArgument)
	}
	for _, q := range qualifiers {
		if err := hasLength("qualifier", q); err != nil {
			return err
		}
	}
	return t.deleteOne(ctx, table, storage.Delete{
		Row:        rowkey.FromString(row),
		Family:     family,
		Qualifiers: qualifiers,
	})
}

func (t *Template) deleteOne(ctx context.Context, table string, d storage.Delete) error {
	s, err := t.mustExist(ctx, table)
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, table, d); err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("data delete error")
		return translate(table, err)
	}
	return nil
}

// DeleteBatch applies every delete to the table, going on after failures.
func (t *Template) DeleteBatch(ctx context.Context, table string, deletes []storage.Delete) error {
	if err := hasLength("table", table); err != nil {
		return err
	}
	for _, d := range deletes {
		if err := notEmpty("row key", d.Row); err != nil {
			return err
		}
	}
	s, err := t.mustExist(ctx, table)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, d := range deletes {
		if err := s.Delete(ctx, table, d); err != nil {
			result = multierror.Append(result, translate(table, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("data delete error")
		return err
	}
	return nil
}

// Scan returns every row selected by spec. Use ScanEach for scans too large
// to hold in memory.
func (t *Template) Scan(ctx context.Context, table string, spec storage.ScanSpec) ([]storage.Row, error) {
	var rows []storage.Row
	err := t.ScanEach(ctx, table, spec, func(r storage.Row) bool {
		rows = append(rows, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ScanEach calls fn with each row selected by spec, in row key order, until
// fn returns false or the rows run out. If the table doesn't exist, fn is
// never called and the error is nil.
func (t *Template) ScanEach(ctx context.Context, table string, spec storage.ScanSpec, fn func(storage.Row) bool) error {
	if err := hasLength("table", table); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: no function to call for each row", ErrInvalidArgument)
	}
	if spec.Limit < 0 {
		return fmt.Errorf("%w: the scan limit can't be negative", ErrInvalidArgument)
	}
	s, err := t.storeFor(ctx, table)
	if err != nil {
		return err
	}
	if s == nil {
		t.log.Info().Str("table", table).Msg("table does not exist")
		return nil
	}

	sc, err := s.Scan(ctx, table, spec)
	if err != nil {
		t.log.Error().Err(err).Str("table", table).Msg("query error")
		return translate(table, err)
	}
	defer sc.Close()

	for {
		r, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			t.log.Error().Err(err).Str("table", table).Msg("query error")
			return translate(table, err)
		}
		if !fn(r) {
			return nil
		}
	}
}
