package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"
)

// Key layout. Table metadata lives under metaPrefix+table. Cells live under
//
//	dataPrefix + table + 0x00 + escaped row + 0x00 0x01 + family + 0x00 + qualifier
//
// where escaping replaces each 0x00 in the row key with 0x00 0xff. The
// escaping keeps BadgerDB's key order identical to HBase's row key order,
// which scans rely on.
const (
	metaPrefix = "m\x00"
	dataPrefix = "d\x00"
)

type tableMeta struct {
	Families  []string  `json:"families"`
	SplitKeys [][]byte  `json:"splitKeys,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m tableMeta) hasFamily(f string) bool {
	for _, n := range m.Families {
		if n == f {
			return true
		}
	}
	return false
}

// BadgerDB implements Store on top of the BadgerDB embedded database. It
// stands in for an HBase cluster during local development and tests: it has
// tables, column families and row-ordered scans, but keeps only the latest
// version of each cell.
type BadgerDB struct {
	connection *badger.DB
	keyTTL     time.Duration // TTL for each cell in the db
	log        zerolog.Logger

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewBadgerDB opens the BadgerDB embedded database described by conf and, if
// conf sets a cleanup interval, starts a goroutine that periodically garbage
// collects the value log. It is up to the caller to close the database with
// Close().
func NewBadgerDB(conf *KVConfig, logger zerolog.Logger) (*BadgerDB, error) {
	dir := conf.StorageDirPath
	if conf.InMemory {
		dir = ""
	}
	// See: https://dgraph.io/docs/badger/get-started/#opening-a-database
	opts := badger.DefaultOptions(dir).
		WithInMemory(conf.InMemory).
		WithLogger(&badgerLogger{log: logger})
	if conf.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(conf.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open the db connection: %v", err)
	}

	b := &BadgerDB{
		connection: db,
		keyTTL:     conf.KeyTTLDuration,
		log:        logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	if conf.CleanupInterval > 0 && !conf.InMemory {
		go b.cleanupLoop(conf.CleanupInterval)
	} else {
		close(b.doneCh)
	}

	return b, nil
}

func tablePrefix(table string) []byte {
	k := make([]byte, 0, len(dataPrefix)+len(table)+1)
	k = append(k, dataPrefix...)
	k = append(k, table...)
	return append(k, 0)
}

func metaKey(table string) []byte {
	return append([]byte(metaPrefix), table...)
}

// escapeRowBody escapes row without the terminator. Seeking to
// tablePrefix+escapeRowBody(r) lands on the first row >= r.
func escapeRowBody(dst, row []byte) []byte {
	for _, b := range row {
		if b == 0 {
			dst = append(dst, 0, 0xff)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

func rowPrefix(table string, row []byte) []byte {
	k := escapeRowBody(tablePrefix(table), row)
	return append(k, 0, 0x01)
}

func familyPrefix(table string, row []byte, family string) []byte {
	k := append(rowPrefix(table, row), family...)
	return append(k, 0)
}

func cellKey(table string, row []byte, family, qualifier string) []byte {
	return append(familyPrefix(table, row, family), qualifier...)
}

// decodeCellKey splits a cell key (with its table prefix already stripped)
// into row, family and qualifier.
func decodeCellKey(k []byte) ([]byte, string, string, error) {
	var row []byte
	i := 0
	for {
		if i >= len(k) {
			return nil, "", "", errors.New("cell key has no row terminator")
		}
		if k[i] != 0 {
			row = append(row, k[i])
			i++
			continue
		}
		if i+1 >= len(k) {
			return nil, "", "", errors.New("cell key ends inside an escape")
		}
		i += 2
		if k[i-1] == 0xff {
			row = append(row, 0)
			continue
		}
		if k[i-1] == 0x01 {
			break
		}
		return nil, "", "", fmt.Errorf("unexpected escape byte %#x in cell key", k[i-1])
	}
	rest := k[i:]
	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return nil, "", "", errors.New("cell key has no family terminator")
	}
	if row == nil {
		row = []byte{}
	}
	return row, string(rest[:j]), string(rest[j+1:]), nil
}

func encodeValue(ts uint64, v []byte) []byte {
	b := make([]byte, 8+len(v))
	binary.BigEndian.PutUint64(b, ts)
	copy(b[8:], v)
	return b
}

func decodeValue(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errors.New("stored value is missing its timestamp")
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

func validTableName(table string) error {
	if table == "" || strings.IndexByte(table, 0) >= 0 {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

func validFamilyName(f string) error {
	if f == "" || strings.IndexByte(f, 0) >= 0 || strings.Contains(f, ":") {
		return fmt.Errorf("invalid column family name %q", f)
	}
	return nil
}

func loadMeta(txn *badger.Txn, table string) (tableMeta, error) {
	item, err := txn.Get(metaKey(table))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return tableMeta{}, fmt.Errorf("%w: %v", ErrTableNotFound, table)
	}
	if err != nil {
		return tableMeta{}, fmt.Errorf("can't read the metadata of table %v: %v", table, err)
	}
	var m tableMeta
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &m)
	})
	if err != nil {
		return tableMeta{}, fmt.Errorf("can't decode the metadata of table %v: %v", table, err)
	}
	return m, nil
}

// TableExists reports whether the table has been created.
func (db *BadgerDB) TableExists(ctx context.Context, table string) (bool, error) {
	var found bool
	err := db.connection.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(table))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("transaction failed: %v", err)
	}
	return found, nil
}

// ListTables returns the names of all tables in lexical order.
func (db *BadgerDB) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := db.connection.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(metaPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %v", err)
	}
	return names, nil
}

// CreateTable records the table and its families. Split keys are kept for
// reference only since there are no regions to split.
func (db *BadgerDB) CreateTable(ctx context.Context, spec TableSpec) error {
	if err := validTableName(spec.Name); err != nil {
		return err
	}
	if len(spec.Families) == 0 {
		return errors.New("a table needs at least one column family")
	}
	for _, f := range spec.Families {
		if err := validFamilyName(f); err != nil {
			return err
		}
	}

	b, err := json.Marshal(tableMeta{
		Families:  spec.Families,
		SplitKeys: spec.SplitKeys,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("can't encode the table metadata: %v", err)
	}

	return db.connection.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(spec.Name))
		if err == nil {
			return fmt.Errorf("%w: %v", ErrTableExists, spec.Name)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(metaKey(spec.Name), b)
	})
}

// DropTable removes the table's cells and then the table itself.
func (db *BadgerDB) DropTable(ctx context.Context, table string) error {
	if err := db.mustExist(table); err != nil {
		return err
	}
	if err := db.connection.DropPrefix(tablePrefix(table)); err != nil {
		return fmt.Errorf("can't drop the cells of table %v: %v", table, err)
	}
	return db.connection.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(table))
	})
}

// TruncateTable removes all of the table's cells and keeps its metadata.
func (db *BadgerDB) TruncateTable(ctx context.Context, table string) error {
	if err := db.mustExist(table); err != nil {
		return err
	}
	if err := db.connection.DropPrefix(tablePrefix(table)); err != nil {
		return fmt.Errorf("can't drop the cells of table %v: %v", table, err)
	}
	return nil
}

func (db *BadgerDB) mustExist(table string) error {
	return db.connection.View(func(txn *badger.Txn) error {
		_, err := loadMeta(txn, table)
		return err
	})
}

// Put upserts the cells of a single row, stamping them with the current time.
func (db *BadgerDB) Put(ctx context.Context, table string, p Put) error {
	if len(p.Row) == 0 {
		return errors.New("a put needs a row key")
	}
	if len(p.Values) == 0 {
		return errors.New("a put needs at least one value")
	}
	ts := uint64(time.Now().UnixMilli())

	err := db.connection.Update(func(txn *badger.Txn) error {
		m, err := loadMeta(txn, table)
		if err != nil {
			return err
		}
		for family, cols := range p.Values {
			if !m.hasFamily(family) {
				return fmt.Errorf("%w: %v in table %v", ErrNoSuchFamily, family, table)
			}
			for qualifier, v := range cols {
				e := badger.NewEntry(cellKey(table, p.Row, family, qualifier), encodeValue(ts, v))
				if db.keyTTL > 0 {
					e = e.WithTTL(db.keyTTL)
				}
				if err := txn.SetEntry(e); err != nil {
					return fmt.Errorf("could not set the cell: %v", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// Get returns the cells of one row.
func (db *BadgerDB) Get(ctx context.Context, table string, g Get) (Row, error) {
	r := Row{Key: g.Row}
	// See: https://dgraph.io/docs/badger/get-started/#read-only-transactions
	err := db.connection.View(func(txn *badger.Txn) error {
		if _, err := loadMeta(txn, table); err != nil {
			return err
		}
		prefix := rowPrefix(table, g.Row)
		tp := len(tablePrefix(table))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			_, family, qualifier, err := decodeCellKey(item.Key()[tp:])
			if err != nil {
				return err
			}
			if !wantFamily(g.Families, family) {
				continue
			}
			// We copy values rather than return them directly because item.Value()
			// is considered undefined behavior outside a transaction.
			// https://godoc.org/github.com/dgraph-io/badger#Item.Value
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("can't copy the value from the database: %v", err)
			}
			ts, v, err := decodeValue(raw)
			if err != nil {
				return err
			}
			r.Cells = append(r.Cells, Cell{
				Row:       g.Row,
				Family:    family,
				Qualifier: qualifier,
				Value:     v,
				Timestamp: ts,
			})
		}
		return nil
	})
	if err != nil {
		return Row{}, fmt.Errorf("transaction failed: %w", err)
	}
	return r, nil
}

// Delete removes a row, a family of a row or some columns of a row.
func (db *BadgerDB) Delete(ctx context.Context, table string, d Delete) error {
	if len(d.Row) == 0 {
		return errors.New("a delete needs a row key")
	}
	err := db.connection.Update(func(txn *badger.Txn) error {
		m, err := loadMeta(txn, table)
		if err != nil {
			return err
		}
		if d.Family != "" && !m.hasFamily(d.Family) {
			return fmt.Errorf("%w: %v in table %v", ErrNoSuchFamily, d.Family, table)
		}

		var keys [][]byte
		switch {
		case d.Family == "":
			keys = collectKeys(txn, rowPrefix(table, d.Row))
		case len(d.Qualifiers) == 0:
			keys = collectKeys(txn, familyPrefix(table, d.Row, d.Family))
		default:
			for _, q := range d.Qualifiers {
				keys = append(keys, cellKey(table, d.Row, d.Family, q))
			}
		}

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("could not delete the cell: %v", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

func collectKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func wantFamily(families []string, f string) bool {
	if len(families) == 0 {
		return true
	}
	for _, n := range families {
		if n == f {
			return true
		}
	}
	return false
}

func inTimeRange(ts uint64, from, to time.Time) bool {
	if !from.IsZero() && ts < uint64(from.UnixMilli()) {
		return false
	}
	if !to.IsZero() && ts >= uint64(to.UnixMilli()) {
		return false
	}
	return true
}

// Scan reads the rows selected by s into memory and returns a Scanner over
// them. Rows left without cells after filtering are skipped, as HBase does.
func (db *BadgerDB) Scan(ctx context.Context, table string, s ScanSpec) (Scanner, error) {
	var rows []Row
	err := db.connection.View(func(txn *badger.Txn) error {
		if _, err := loadMeta(txn, table); err != nil {
			return err
		}
		prefix := tablePrefix(table)

		start := s.StartRow
		if bytes.Compare(s.Prefix, start) > 0 {
			start = s.Prefix
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var cur *Row
		// flush appends the row being built and reports whether the limit
		// has been reached.
		flush := func() bool {
			if cur != nil && len(cur.Cells) > 0 {
				rows = append(rows, *cur)
			}
			cur = nil
			return s.Limit > 0 && len(rows) >= s.Limit
		}

		full := false
		for it.Seek(escapeRowBody(append([]byte(nil), prefix...), start)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			row, family, qualifier, err := decodeCellKey(item.Key()[len(prefix):])
			if err != nil {
				return err
			}
			if len(s.StopRow) > 0 && bytes.Compare(row, s.StopRow) >= 0 {
				break
			}
			if len(s.Prefix) > 0 && !bytes.HasPrefix(row, s.Prefix) {
				// Rows are ordered, so once we pass the prefix nothing
				// else can match.
				break
			}
			if cur == nil || !bytes.Equal(cur.Key, row) {
				if full = flush(); full {
					break
				}
				cur = &Row{Key: row}
			}
			if !wantFamily(s.Families, family) {
				continue
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("can't copy the value from the database: %v", err)
			}
			ts, v, err := decodeValue(raw)
			if err != nil {
				return err
			}
			if !inTimeRange(ts, s.From, s.To) {
				continue
			}
			cur.Cells = append(cur.Cells, Cell{
				Row:       cur.Key,
				Family:    family,
				Qualifier: qualifier,
				Value:     v,
				Timestamp: ts,
			})
		}
		if !full {
			flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %w", err)
	}
	return &sliceScanner{rows: rows}, nil
}

// Cleanup performs BadgerDB's garbage collection routine with the
// recommended discardRatio.
//
// See: https://pkg.go.dev/github.com/dgraph-io/badger/v3#DB.RunValueLogGC
//
// This is the only time expired cells are actually removed from disk, so make
// sure you're setting a key TTL if you want that to happen.
func (db *BadgerDB) Cleanup() error {
	var discardRatio float64 = .5
	err := db.connection.RunValueLogGC(discardRatio)
	// If the GC determines that it can't rewrite anything, don't worry the
	// caller--just skip it
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (db *BadgerDB) cleanupLoop(interval time.Duration) {
	defer close(db.doneCh)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-db.stopCh:
			return
		case <-t.C:
			if err := db.Cleanup(); err != nil {
				db.log.Error().Err(err).Msg("error cleaning up the database")
			}
		}
	}
}

// Close stops the cleanup goroutine and tears down the database connection so
// BadgerDB can flush to disk. You should defer this.
func (db *BadgerDB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		close(db.stopCh)
		<-db.doneCh
		if cerr := db.connection.Close(); cerr != nil {
			err = fmt.Errorf("could not close the database: %v", cerr)
		}
	})
	return err
}

// badgerLogger sends BadgerDB's own log lines through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Debug().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Debug().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}
