package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoOpDB(t *testing.T) {
	var db Store = &NoOpDB{}
	ctx := context.Background()

	_, err := db.TableExists(ctx, "t")
	require.ErrorIs(t, err, ErrDisabled)
	_, err = db.ListTables(ctx)
	require.ErrorIs(t, err, ErrDisabled)
	require.ErrorIs(t, db.CreateTable(ctx, TableSpec{Name: "t"}), ErrDisabled)
	require.ErrorIs(t, db.DropTable(ctx, "t"), ErrDisabled)
	require.ErrorIs(t, db.TruncateTable(ctx, "t"), ErrDisabled)
	_, err = db.Get(ctx, "t", Get{Row: []byte("r")})
	require.ErrorIs(t, err, ErrDisabled)
	require.ErrorIs(t, db.Put(ctx, "t", Put{Row: []byte("r")}), ErrDisabled)
	require.ErrorIs(t, db.Delete(ctx, "t", Delete{Row: []byte("r")}), ErrDisabled)
	_, err = db.Scan(ctx, "t", ScanSpec{})
	require.ErrorIs(t, err, ErrDisabled)
	require.NoError(t, db.Close())
}
