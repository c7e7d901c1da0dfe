package operations

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ptgott/hbase-template/connection"
	"github.com/ptgott/hbase-template/rowkey"
	"github.com/ptgott/hbase-template/storage"
	"github.com/ptgott/hbase-template/userconfig"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newTestTemplate returns a Template backed by an in-memory BadgerDB reached
// through a connection.Manager.
func newTestTemplate(t *testing.T, batchPutLimit int) *Template {
	t.Helper()
	logger := zerolog.Nop()
	m, err := connection.NewManager(connection.Options{
		Build: func(ctx context.Context) (*userconfig.Snapshot, error) {
			b := userconfig.SnapshotBuilder{
				Store: userconfig.StoreConfig{Backend: userconfig.BackendLocal},
				Log:   logger,
			}
			return b.Build(ctx)
		},
		Dial:   connection.NewDialer(storage.KVConfig{InMemory: true}, logger),
		Logger: &logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return NewTemplate(m, batchPutLimit, logger)
}

type unavailable struct{}

func (unavailable) Get(context.Context) (*connection.Connection, error) {
	return nil, fmt.Errorf("%w: no quorum", connection.ErrUnavailable)
}

func TestCreateTable(t *testing.T) {
	tmpl := newTestTemplate(t, 0)
	ctx := context.Background()

	require.NoError(t, tmpl.CreateTable(ctx, "Foo", "cf"))
	require.NoError(t, tmpl.Put(ctx, "Foo", "r1", "cf", "q", []byte("v")))

	ok, err := tmpl.TableExists(ctx, "Foo")
	require.NoError(t, err)
	require.True(t, ok)

	// Names are case sensitive
	ok, err = tmpl.TableExists(ctx, "foo")
	require.NoError(t, err)
	require.False(t, ok)

	// Creating it again is an invalid argument and changes nothing
	err = tmpl.CreateTable(ctx, "Foo", "other")
	require.ErrorIs(t, err, ErrTableExists)
	require.ErrorIs(t, err, ErrInvalidArgument)
	r, err := tmpl.Get(ctx, "Foo", rowkey.FromString("r1"))
	require.NoError(t, err)
	v, ok := r.Value("cf", "q")
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
	require.ErrorIs(t, tmpl.Put(ctx, "Foo", "r1", "other", "q", []byte("v")), storage.ErrNoSuchFamily)

	require.NoError(t, tmpl.CreateTableWithSplits(ctx, "split", []string{"a", "b"}, [][]byte{[]byte("m")}))
	tables, err := tmpl.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Foo", "split"}, tables)
}

func TestInvalidArguments(t *testing.T) {
	tmpl := newTestTemplate(t, 0)
	ctx := context.Background()
	require.NoError(t, tmpl.CreateTable(ctx, "t", "cf"))

	testCases := []struct {
		description string
		call        func() error
	}{
		{"blank table for exists", func() error { _, err := tmpl.TableExists(ctx, " "); return err }},
		{"create without families", func() error { return tmpl.CreateTable(ctx, "new") }},
		{"create with a blank family", func() error { return tmpl.CreateTable(ctx, "new", "cf", "") }},
		{"get without a key", func() error { _, err := tmpl.Get(ctx, "t", nil); return err }},
		{"get with an unsupported key type", func() error { _, err := tmpl.GetTyped(ctx, "t", uint8(1)); return err }},
		{"query with nil gets", func() error { _, err := tmpl.Query(ctx, "t", nil); return err }},
		{"query with a blank row", func() error { _, err := tmpl.Query(ctx, "t", []storage.Get{{}}); return err }},
		{"put without a qualifier", func() error { return tmpl.Put(ctx, "t", "r", "cf", "", []byte("v")) }},
		{"put without a row", func() error { return tmpl.Put(ctx, "t", "", "cf", "q", []byte("v")) }},
		{"nil put batch", func() error { return tmpl.PutBatch(ctx, "t", nil) }},
		{"put batch with an empty put", func() error {
			return tmpl.PutBatch(ctx, "t", []storage.Put{{Row: []byte("r")}})
		}},
		{"delete without a family", func() error { return tmpl.Delete(ctx, "t", "r", "") }},
		{"delete no columns", func() error { return tmpl.DeleteColumns(ctx, "t", "r", "cf") }},
		{"delete batch without a row", func() error { return tmpl.DeleteBatch(ctx, "t", []storage.Delete{{}}) }},
		{"scan without a callback", func() error { return tmpl.ScanEach(ctx, "t", storage.ScanSpec{}, nil) }},
		{"negative scan limit", func() error { _, err := tmpl.Scan(ctx, "t", storage.ScanSpec{Limit: -1}); return err }},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			require.ErrorIs(t, tc.call(), ErrInvalidArgument)
		})
	}
}

func TestMissingTable(t *testing.T) {
	tmpl := newTestTemplate(t, 0)
	ctx := context.Background()

	// Reads come back empty
	r, err := tmpl.Get(ctx, "nope", rowkey.FromString("r"))
	require.NoError(t, err)
	require.True(t, r.Empty())
	rows, err := tmpl.Query(ctx, "nope", []storage.Get{{Row: []byte("r")}})
	require.NoError(t, err)
	require.Nil(t, rows)
	rows, err = tmpl.Scan(ctx, "nope", storage.ScanSpec{})
	require.NoError(t, err)
	require.Empty(t, rows)

	// Dropping and truncating are no-ops
	require.NoError(t, tmpl.DropTable(ctx, "nope"))
	require.NoError(t, tmpl.TruncateTable(ctx, "nope"))

	// Writes fail
	for _, err := range []error{
		tmpl.Put(ctx, "nope", "r", "cf", "q", []byte("v")),
		tmpl.PutBatch(ctx, "nope", []storage.Put{{
			Row:    []byte("r"),
			Values: map[string]map[string][]byte{"cf": {"q": []byte("v")}},
		}}),
		tmpl.Delete(ctx, "nope", "r", "cf"),
		tmpl.DeleteColumns(ctx, "nope", "r", "cf", "q"),
		tmpl.DeleteBatch(ctx, "nope", []storage.Delete{{Row: []byte("r")}}),
	} {
		require.ErrorIs(t, err, ErrTableNotFound)
		require.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func puts(n int) []storage.Put {
	p := make([]storage.Put, n)
	for i := range p {
		p[i] = storage.Put{
			Row:    rowkey.FromInt64(int64(i)),
			Values: map[string]map[string][]byte{"cf": {"n": []byte(fmt.Sprint(i))}},
		}
	}
	return p
}

func TestPutBatch(t *testing.T) {
	tmpl := newTestTemplate(t, 5)
	ctx := context.Background()
	require.NoError(t, tmpl.CreateTable(ctx, "t", "cf"))

	err := tmpl.PutBatch(ctx, "t", puts(6))
	require.ErrorIs(t, err, ErrBatchTooLarge)
	rows, err := tmpl.Scan(ctx, "t", storage.ScanSpec{})
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, tmpl.PutBatch(ctx, "t", puts(5)))
	rows, err = tmpl.Scan(ctx, "t", storage.ScanSpec{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	// int64 keys sort numerically when non-negative
	for i, r := range rows {
		n, err := rowkey.ToInt64(r.Key)
		require.NoError(t, err)
		require.EqualValues(t, i, n)
	}

	r, err := tmpl.GetTyped(ctx, "t", int64(3))
	require.NoError(t, err)
	v, ok := r.Value("cf", "n")
	require.True(t, ok)
	require.Equal(t, "3", string(v))
}

func TestPutBatchReportsEveryFailure(t *testing.T) {
	tmpl := newTestTemplate(t, 0)
	ctx := context.Background()
	require.NoError(t, tmpl.CreateTable(ctx, "t", "cf"))

	bad := storage.Put{Row: []byte("x"), Values: map[string]map[string][]byte{"nope": {"q": nil}}}
	batch := append(puts(2), bad, bad)
	err := tmpl.PutBatch(ctx, "t", batch)
	require.ErrorIs(t, err, storage.ErrNoSuchFamily)
	require.ErrorContains(t, err, "2 errors occurred")

	rows, err := tmpl.Scan(ctx, "t", storage.ScanSpec{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestDeletes(t *testing.T) {
	tmpl := newTestTemplate(t, 0)
	ctx := context.Background()
	require.NoError(t, tmpl.CreateTable(ctx, "t", "a", "b"))
	for _, q := range []string{"x", "y", "z"} {
		require.NoError(t, tmpl.Put(ctx, "t", "r", "a", q, []byte(q)))
	}
	require.NoError(t, tmpl.Put(ctx, "t", "r", "b", "x", []byte("x")))
	require.NoError(t, tmpl.Put(ctx, "t", "s", "a", "x", []byte("x")))

	require.NoError(t, tmpl.DeleteColumns(ctx, "t", "r", "a", "x", "y"))
	r, err := tmpl.Get(ctx, "t", rowkey.FromString("r"), "a")
	require.NoError(t, err)
	require.Len(t, r.Cells, 1)
	require.Equal(t, "z", r.Cells[0].Qualifier)

	require.NoError(t, tmpl.Delete(ctx, "t", "r", "a"))
	r, err = tmpl.Get(ctx, "t", rowkey.FromString("r"))
	require.NoError(t, err)
	require.Len(t, r.Cells, 1)
	require.Equal(t, "b", r.Cells[0].Family)

	require.NoError(t, tmpl.DeleteBatch(ctx, "t", []storage.Delete{
		{Row: []byte("r")},
		{Row: []byte("s"), Family: "a"},
	}))
	rows, err := tmpl.Scan(ctx, "t", storage.ScanSpec{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestQueryAndScan(t *testing.T) {
	tmpl := newTestTemplate(t, 0)
	ctx := context.Background()
	require.NoError(t, tmpl.CreateTable(ctx, "t", "cf"))
	for _, k := range []string{"user:1", "user:2", "user:3", "zzz"} {
		require.NoError(t, tmpl.Put(ctx, "t", k, "cf", "q", []byte(k)))
	}

	rows, err := tmpl.Query(ctx, "t", []storage.Get{
		{Row: []byte("user:2")},
		{Row: []byte("missing")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "user:2", string(rows[0].Key))
	require.True(t, rows[1].Empty())

	rows, err = tmpl.Scan(ctx, "t", storage.ScanSpec{Prefix: []byte("user:"), Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "user:1", string(rows[0].Key))
	require.Equal(t, "user:2", string(rows[1].Key))

	var seen []string
	err = tmpl.ScanEach(ctx, "t", storage.ScanSpec{}, func(r storage.Row) bool {
		seen = append(seen, string(r.Key))
		return len(seen) < 3
	})
	require.NoError(t, err)
	require.Equal(t, []string{"user:1", "user:2", "user:3"}, seen)
}

func TestDropAndTruncate(t *testing.T) {
	tmpl := newTestTemplate(t, 0)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, tmpl.CreateTable(ctx, name, "cf"))
		require.NoError(t, tmpl.Put(ctx, name, "r", "cf", "q", []byte("v")))
	}

	require.NoError(t, tmpl.TruncateTable(ctx, "c"))
	ok, err := tmpl.TableExists(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	rows, err := tmpl.Scan(ctx, "c", storage.ScanSpec{})
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, tmpl.DropTables(ctx, []string{"a", "b", "a", "missing"}))
	tables, err := tmpl.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, tables)

	require.NoError(t, tmpl.DropTable(ctx, "c"))
	// A dropped table can be created again
	require.NoError(t, tmpl.CreateTable(ctx, "c", "cf"))
}

func TestUnavailable(t *testing.T) {
	tmpl := NewTemplate(unavailable{}, 0, zerolog.Nop())
	ctx := context.Background()

	_, err := tmpl.TableExists(ctx, "t")
	require.ErrorIs(t, err, connection.ErrUnavailable)
	_, err = tmpl.ListTables(ctx)
	require.ErrorIs(t, err, connection.ErrUnavailable)
	_, err = tmpl.Get(ctx, "t", rowkey.FromString("r"))
	require.ErrorIs(t, err, connection.ErrUnavailable)
	require.ErrorIs(t, tmpl.Put(ctx, "t", "r", "cf", "q", nil), connection.ErrUnavailable)

	// Validation happens before asking for a connection
	require.ErrorIs(t, tmpl.Put(ctx, "", "r", "cf", "q", nil), ErrInvalidArgument)
	require.False(t, errors.Is(tmpl.Put(ctx, "", "r", "cf", "q", nil), connection.ErrUnavailable))
}

func TestNewTemplateDefaultLimit(t *testing.T) {
	require.Equal(t, userconfig.DefaultBatchPutLimit, NewTemplate(unavailable{}, 0, zerolog.Nop()).batchPutLimit)
}
