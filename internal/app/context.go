package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"closeline/internal/config"
	"closeline/internal/db"
	"closeline/internal/domain"
	"closeline/internal/engine"
	"closeline/internal/kvstore"
	"closeline/internal/migrate"
	"closeline/internal/repo"
)

const currentAppFile = "current_app"

// OpenStore opens the store selected by cfg.Storage.Driver inside the
// workspace, applying migrations for SQLite.
func OpenStore(ctx context.Context, workspace string, cfg *config.Config) (engine.Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	switch cfg.Storage.Driver {
	case config.DriverLevelDB:
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return nil, err
		}
		return kvstore.Open(db.LevelDBPath(workspace))
	case config.DriverSQLite, "":
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return repo.Repo{DB: conn}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// ResolveApp picks the app a command targets: the explicit override, then
// the app selected with `app use`, then the only app in the store.
func ResolveApp(ctx context.Context, workspace string, override uint64, eng *engine.Engine) (uint64, error) {
	if override != 0 {
		return override, nil
	}
	if id, err := CurrentApp(workspace); err != nil {
		return 0, err
	} else if id != 0 {
		return id, nil
	}
	apps, err := eng.Apps(ctx)
	if err != nil {
		return 0, err
	}
	switch len(apps) {
	case 0:
		return 0, fmt.Errorf("no app found; create one with closectl app create: %w", domain.ErrNotFound)
	case 1:
		return apps[0].ID, nil
	}
	return 0, errors.New("multiple apps exist; specify --app or run closectl app use <id>")
}

// CurrentApp returns the app recorded by UseApp, or 0 when none is.
func CurrentApp(workspace string) (uint64, error) {
	data, err := os.ReadFile(currentAppPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	id, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", currentAppFile, err)
	}
	return id, nil
}

// UseApp records id as the default app of the workspace.
func UseApp(workspace string, id uint64) error {
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, currentAppFile), []byte(strconv.FormatUint(id, 10)+"\n"), 0o644)
}

func currentAppPath(workspace string) string {
	return filepath.Join(filepath.Dir(db.Path(workspace)), currentAppFile)
}
