package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"closeline/internal/db"
	"closeline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	migrations, err := migrate.Load()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	latest := migrations[len(migrations)-1].Version

	require.NoError(t, migrate.Migrate(ctx, conn))
	require.NoError(t, migrate.Migrate(ctx, conn))
	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, latest, v)

	for _, table := range []string{"apps", "global_state", "txns", "events"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
