package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/units"
)

var (
	// ErrTableNotFound is returned when an operation names a table that the
	// store doesn't have.
	ErrTableNotFound = errors.New("table does not exist")
	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = errors.New("table already exists")
	// ErrNoSuchFamily is returned when a write names a column family the
	// table wasn't created with.
	ErrNoSuchFamily = errors.New("no such column family")
	// ErrDisabled is returned by NoOpDB for every read and write.
	ErrDisabled = errors.New("the store is disabled")
)

// defaultCleanupInterval is how often BadgerDB runs value log GC when the
// config doesn't say otherwise.
const defaultCleanupInterval = 10 * time.Minute

// KVConfig contains settings specific to the embedded BadgerDB backend
type KVConfig struct {
	StorageDirPath   string        `yaml:"storageDir" json:"storageDir"`
	KeyTTLDuration   time.Duration `yaml:"keyTTL" json:"keyTTL"`
	CleanupInterval  time.Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
	ValueLogFileSize int64         `yaml:"valueLogFileSize" json:"valueLogFileSize"`
	// Keep everything in memory. Used for tests; StorageDirPath is ignored.
	InMemory bool `yaml:"inMemory" json:"inMemory"`
}

// UnmarshalYAML parses and validates a user-provided KVConfig. Durations use
// Go syntax ("10m") and sizes accept units ("64MiB").
func (c *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)
	if err != nil {
		return fmt.Errorf("can't parse the local storage config: %v", err)
	}

	if m, ok := v["inMemory"]; ok && m == "true" {
		c.InMemory = true
	}

	c.StorageDirPath = v["storageDir"]
	if c.StorageDirPath == "" && !c.InMemory {
		return errors.New("the local storage config must include a storageDir")
	}

	if t, ok := v["keyTTL"]; ok {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("can't parse the key TTL as a duration: %v", err)
		}
		if d < 0 {
			return errors.New("the key TTL can't be negative")
		}
		c.KeyTTLDuration = d
	}

	c.CleanupInterval = defaultCleanupInterval
	if i, ok := v["cleanupInterval"]; ok {
		d, err := time.ParseDuration(i)
		if err != nil {
			return fmt.Errorf("can't parse the cleanup interval as a duration: %v", err)
		}
		c.CleanupInterval = d
	}

	if s, ok := v["valueLogFileSize"]; ok {
		n, err := units.ParseStrictBytes(s)
		if err != nil {
			return fmt.Errorf("can't parse the value log file size: %v", err)
		}
		c.ValueLogFileSize = n
	}

	return nil
}

// Cell is a single value stored at the intersection of a row, a column family
// and a qualifier.
type Cell struct {
	Row       []byte
	Family    string
	Qualifier string
	Value     []byte
	// Milliseconds since the Unix epoch, as HBase reports them
	Timestamp uint64
}

// Row is every cell read for a single row key. A Row with no cells means
// nothing was found.
type Row struct {
	Key   []byte
	Cells []Cell
}

// Empty reports whether the read found nothing.
func (r Row) Empty() bool {
	return len(r.Cells) == 0
}

// Value returns the value of family:qualifier, if the row has it.
func (r Row) Value(family, qualifier string) ([]byte, bool) {
	for _, c := range r.Cells {
		if c.Family == family && c.Qualifier == qualifier {
			return c.Value, true
		}
	}
	return nil, false
}

// Get describes a single row read. An empty Families reads all of them.
type Get struct {
	Row      []byte
	Families []string
}

// Put describes the cells to write to a single row, keyed by family and then
// qualifier.
type Put struct {
	Row    []byte
	Values map[string]map[string][]byte
}

// Delete describes what to remove from a single row. With no Family the whole
// row goes; with a Family and no Qualifiers, the whole family goes.
type Delete struct {
	Row        []byte
	Family     string
	Qualifiers []string
}

// ScanSpec bounds a scan. Zero values mean "unbounded".
type ScanSpec struct {
	// Inclusive
	StartRow []byte
	// Exclusive
	StopRow []byte
	// Only rows whose keys begin with Prefix
	Prefix   []byte
	Families []string
	// Only cells with From <= timestamp < To
	From time.Time
	To   time.Time
	// Maximum number of rows to return
	Limit int
}

// TableSpec describes a table to create.
type TableSpec struct {
	Name     string
	Families []string
	// Optional region boundaries for a pre-split table
	SplitKeys [][]byte
}

// Scanner iterates over the rows of a scan in row key order. Next returns
// io.EOF when there are no more rows. Callers must Close a Scanner.
type Scanner interface {
	Next() (Row, error)
	Close() error
}

// Store exposes the client primitives of a column-family store. Table names
// are case sensitive.
//
// Implementations need to include connection logic in code to initialize
// a Store, and a Store holds whatever connection it was built with until
// Close.
type Store interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ListTables(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, spec TableSpec) error
	// Disable and delete the table
	DropTable(ctx context.Context, table string) error
	// Remove every row but keep the table and its families
	TruncateTable(ctx context.Context, table string) error
	Get(ctx context.Context, table string, g Get) (Row, error)
	Put(ctx context.Context, table string, p Put) error
	Delete(ctx context.Context, table string, d Delete) error
	Scan(ctx context.Context, table string, s ScanSpec) (Scanner, error)
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// sliceScanner serves rows that have already been read into memory.
type sliceScanner struct {
	rows []Row
	next int
}

func (s *sliceScanner) Next() (Row, error) {
	if s.next >= len(s.rows) {
		return Row{}, io.EOF
	}
	r := s.rows[s.next]
	s.next++
	return r, nil
}

func (s *sliceScanner) Close() error {
	s.rows = nil
	return nil
}
