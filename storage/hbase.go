package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/tsuna/gohbase"
	"github.com/tsuna/gohbase/filter"
	"github.com/tsuna/gohbase/hrpc"
	"github.com/tsuna/gohbase/pb"
)

const defaultProbeTimeout = 10 * time.Second

// HBaseConfig is everything HBaseStore needs to reach a cluster. It is
// derived from a configuration snapshot rather than read from the user
// directly.
type HBaseConfig struct {
	// Comma-separated ZooKeeper quorum, e.g. "zk1:2181,zk2:2181"
	Quorum string
	// Root znode of the cluster, e.g. "/hbase"
	ZnodeParent string
	// The user HBase attributes requests to
	EffectiveUser string

	ZookeeperTimeout    time.Duration
	RegionLookupTimeout time.Duration
	RegionReadTimeout   time.Duration

	// How long the connectivity check run by NewHBaseStore may take
	ProbeTimeout time.Duration
}

func (c HBaseConfig) options() []gohbase.Option {
	var opts []gohbase.Option
	if c.ZnodeParent != "" {
		opts = append(opts, gohbase.ZookeeperRoot(c.ZnodeParent))
	}
	if c.EffectiveUser != "" {
		opts = append(opts, gohbase.EffectiveUser(c.EffectiveUser))
	}
	if c.ZookeeperTimeout > 0 {
		opts = append(opts, gohbase.ZookeeperTimeout(c.ZookeeperTimeout))
	}
	if c.RegionLookupTimeout > 0 {
		opts = append(opts, gohbase.RegionLookupTimeout(c.RegionLookupTimeout))
	}
	if c.RegionReadTimeout > 0 {
		opts = append(opts, gohbase.RegionReadTimeout(c.RegionReadTimeout))
	}
	return opts
}

// The subsets of gohbase.Client and gohbase.AdminClient we use.
type hbaseClient interface {
	Get(g *hrpc.Get) (*hrpc.Result, error)
	Put(p *hrpc.Mutate) (*hrpc.Result, error)
	Delete(d *hrpc.Mutate) (*hrpc.Result, error)
	Scan(s *hrpc.Scan) hrpc.Scanner
	Close()
}

type hbaseAdmin interface {
	CreateTable(t *hrpc.CreateTable) error
	DisableTable(t *hrpc.DisableTable) error
	DeleteTable(t *hrpc.DeleteTable) error
	ListTableNames(t *hrpc.ListTableNames) ([]*pb.TableName, error)
}

// HBaseStore implements Store against an HBase cluster using gohbase. One
// HBaseStore is one "connection" in the sense of the connection package: it
// owns a data client and an admin client, both bound to the same quorum and
// effective user.
type HBaseStore struct {
	client hbaseClient
	admin  hbaseAdmin
	log    zerolog.Logger
}

// NewHBaseStore creates the gohbase clients for conf and checks that the
// cluster answers before returning, so that callers never receive a store
// that was never able to talk to the cluster. gohbase connects lazily, which
// is why the check lists tables instead of relying on client construction to
// fail.
func NewHBaseStore(ctx context.Context, conf HBaseConfig, logger zerolog.Logger) (*HBaseStore, error) {
	if conf.Quorum == "" {
		return nil, errors.New("can't connect to HBase without a ZooKeeper quorum")
	}
	opts := conf.options()
	s := &HBaseStore{
		client: gohbase.NewClient(conf.Quorum, opts...),
		admin:  gohbase.NewAdminClient(conf.Quorum, opts...),
		log:    logger,
	}

	timeout := conf.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.ListTables(pctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("HBase at %v did not answer: %w", conf.Quorum, err)
	}

	logger.Debug().
		Str("quorum", conf.Quorum).
		Str("znodeParent", conf.ZnodeParent).
		Str("effectiveUser", conf.EffectiveUser).
		Msg("connected to HBase")
	return s, nil
}

// tableName renders a table name the way HBase shell does: the default
// namespace is left implicit.
func tableName(t *pb.TableName) string {
	ns := string(t.GetNamespace())
	if ns == "" || ns == "default" {
		return string(t.GetQualifier())
	}
	return ns + ":" + string(t.GetQualifier())
}

// TableExists lists the tables matching the name and looks for an exact,
// case-sensitive match.
func (s *HBaseStore) TableExists(ctx context.Context, table string) (bool, error) {
	req, err := hrpc.NewListTableNames(ctx, hrpc.ListRegex(regexp.QuoteMeta(table)))
	if err != nil {
		return false, err
	}
	names, err := s.admin.ListTableNames(req)
	if err != nil {
		return false, fmt.Errorf("can't list tables: %w", err)
	}
	for _, n := range names {
		if tableName(n) == table {
			return true, nil
		}
	}
	return false, nil
}

// ListTables returns every user table.
func (s *HBaseStore) ListTables(ctx context.Context) ([]string, error) {
	req, err := hrpc.NewListTableNames(ctx)
	if err != nil {
		return nil, err
	}
	names, err := s.admin.ListTableNames(req)
	if err != nil {
		return nil, fmt.Errorf("can't list tables: %w", err)
	}
	tables := make([]string, 0, len(names))
	for _, n := range names {
		tables = append(tables, tableName(n))
	}
	return tables, nil
}

// familyAttributes are applied to every family we create: keep blocks in the
// block cache and warm it when a region opens.
var familyAttributes = map[string]string{
	"BLOCKCACHE":              "true",
	"PREFETCH_BLOCKS_ON_OPEN": "true",
}

// CreateTable creates the table, pre-split on spec.SplitKeys if there are
// any.
func (s *HBaseStore) CreateTable(ctx context.Context, spec TableSpec) error {
	families := make(map[string]map[string]string, len(spec.Families))
	for _, f := range spec.Families {
		attrs := make(map[string]string, len(familyAttributes))
		for k, v := range familyAttributes {
			attrs[k] = v
		}
		families[f] = attrs
	}
	var opts []func(*hrpc.CreateTable)
	if len(spec.SplitKeys) > 0 {
		opts = append(opts, hrpc.SplitKeys(spec.SplitKeys))
	}
	req := hrpc.NewCreateTable(ctx, []byte(spec.Name), families, opts...)
	if err := s.admin.CreateTable(req); err != nil {
		return fmt.Errorf("can't create table %v: %w", spec.Name, err)
	}
	return nil
}

// DropTable disables and then deletes the table.
func (s *HBaseStore) DropTable(ctx context.Context, table string) error {
	if err := s.admin.DisableTable(hrpc.NewDisableTable(ctx, []byte(table))); err != nil {
		return fmt.Errorf("can't disable table %v: %w", table, err)
	}
	if err := s.admin.DeleteTable(hrpc.NewDeleteTable(ctx, []byte(table))); err != nil {
		return fmt.Errorf("can't delete table %v: %w", table, err)
	}
	return nil
}

// TruncateTable deletes every row of the table. gohbase has no truncate RPC,
// and dropping and re-creating the table would lose its family settings, so
// we scan row keys only and delete each row.
func (s *HBaseStore) TruncateTable(ctx context.Context, table string) error {
	keysOnly := filter.NewList(filter.MustPassAll,
		filter.NewFirstKeyOnlyFilter(),
		filter.NewKeyOnlyFilter(false),
	)
	scan, err := hrpc.NewScanRange(ctx, []byte(table), nil, nil, hrpc.Filters(keysOnly))
	if err != nil {
		return err
	}
	sc := s.client.Scan(scan)
	defer sc.Close()

	deleted := 0
	for {
		res, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("can't scan table %v: %w", table, err)
		}
		if len(res.Cells) == 0 {
			continue
		}
		del, err := hrpc.NewDel(ctx, []byte(table), res.Cells[0].Row, nil)
		if err != nil {
			return err
		}
		if _, err := s.client.Delete(del); err != nil {
			return fmt.Errorf("can't delete a row of table %v: %w", table, err)
		}
		deleted++
	}
	s.log.Debug().Str("table", table).Int("rows", deleted).Msg("truncated table")
	return nil
}

func familiesOption(families []string) func(hrpc.Call) error {
	m := make(map[string][]string, len(families))
	for _, f := range families {
		m[f] = nil
	}
	return hrpc.Families(m)
}

// toRow converts a gohbase result to a Row.
func toRow(key []byte, res *hrpc.Result) Row {
	r := Row{Key: key}
	if res == nil {
		return r
	}
	for _, c := range res.Cells {
		if c == nil {
			continue
		}
		var ts uint64
		if c.Timestamp != nil {
			ts = *c.Timestamp
		}
		if r.Key == nil {
			r.Key = c.Row
		}
		r.Cells = append(r.Cells, Cell{
			Row:       c.Row,
			Family:    string(c.Family),
			Qualifier: string(c.Qualifier),
			Value:     c.Value,
			Timestamp: ts,
		})
	}
	return r
}

// Get reads a single row.
func (s *HBaseStore) Get(ctx context.Context, table string, g Get) (Row, error) {
	var opts []func(hrpc.Call) error
	if len(g.Families) > 0 {
		opts = append(opts, familiesOption(g.Families))
	}
	req, err := hrpc.NewGet(ctx, []byte(table), g.Row, opts...)
	if err != nil {
		return Row{}, err
	}
	res, err := s.client.Get(req)
	if err != nil {
		return Row{}, fmt.Errorf("can't get a row from %v: %w", table, err)
	}
	return toRow(g.Row, res), nil
}

// Put writes the cells of a single row.
func (s *HBaseStore) Put(ctx context.Context, table string, p Put) error {
	req, err := hrpc.NewPut(ctx, []byte(table), p.Row, p.Values)
	if err != nil {
		return err
	}
	if _, err := s.client.Put(req); err != nil {
		return fmt.Errorf("can't put a row into %v: %w", table, err)
	}
	return nil
}

// Delete removes a row, a family of a row, or columns of a row. A family
// mapped to no qualifiers makes gohbase send a family delete.
func (s *HBaseStore) Delete(ctx context.Context, table string, d Delete) error {
	var values map[string]map[string][]byte
	if d.Family != "" {
		cols := make(map[string][]byte, len(d.Qualifiers))
		for _, q := range d.Qualifiers {
			cols[q] = nil
		}
		values = map[string]map[string][]byte{d.Family: cols}
	}
	req, err := hrpc.NewDel(ctx, []byte(table), d.Row, values)
	if err != nil {
		return err
	}
	if _, err := s.client.Delete(req); err != nil {
		return fmt.Errorf("can't delete from %v: %w", table, err)
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when there is none (the prefix is all 0xff).
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// timeRangeMillis converts a ScanSpec time range to HBase millisecond
// timestamps. A zero From means the epoch and a zero To means no upper bound.
func timeRangeMillis(from, to time.Time) (uint64, uint64) {
	var f uint64
	if !from.IsZero() && from.UnixMilli() > 0 {
		f = uint64(from.UnixMilli())
	}
	t := uint64(math.MaxInt64)
	if !to.IsZero() {
		t = 0
		if to.UnixMilli() > 0 {
			t = uint64(to.UnixMilli())
		}
	}
	return f, t
}

// Scan starts a gohbase scanner bounded by s.
func (s *HBaseStore) Scan(ctx context.Context, table string, spec ScanSpec) (Scanner, error) {
	start, stop := spec.StartRow, spec.StopRow
	var opts []func(hrpc.Call) error
	if len(spec.Prefix) > 0 {
		if string(spec.Prefix) > string(start) {
			start = spec.Prefix
		}
		if end := prefixEnd(spec.Prefix); end != nil && (len(stop) == 0 || string(end) < string(stop)) {
			stop = end
		}
		opts = append(opts, hrpc.Filters(filter.NewPrefixFilter(spec.Prefix)))
	}
	if len(spec.Families) > 0 {
		opts = append(opts, familiesOption(spec.Families))
	}
	if !spec.From.IsZero() || !spec.To.IsZero() {
		from, to := timeRangeMillis(spec.From, spec.To)
		opts = append(opts, hrpc.TimeRangeUint64(from, to))
	}
	if spec.Limit > 0 {
		opts = append(opts, hrpc.NumberOfRows(uint32(spec.Limit)))
	}

	req, err := hrpc.NewScanRange(ctx, []byte(table), start, stop, opts...)
	if err != nil {
		return nil, err
	}
	return &hbaseScanner{scanner: s.client.Scan(req), limit: spec.Limit}, nil
}

// Close closes the data client and, when gohbase exposes it, the admin
// client.
func (s *HBaseStore) Close() error {
	s.client.Close()
	if c, ok := s.admin.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

type hbaseScanner struct {
	scanner hrpc.Scanner
	limit   int
	seen    int
}

func (h *hbaseScanner) Next() (Row, error) {
	if h.limit > 0 && h.seen >= h.limit {
		return Row{}, io.EOF
	}
	res, err := h.scanner.Next()
	if err != nil {
		return Row{}, err
	}
	h.seen++
	return toRow(nil, res), nil
}

func (h *hbaseScanner) Close() error {
	return h.scanner.Close()
}
