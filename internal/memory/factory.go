package memory

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nugget/taskpilot/internal/config"
)

// NewStore opens the backend selected by cfg. SQLite databases live in
// dataDir.
func NewStore(ctx context.Context, cfg config.MemoryConfig, dataDir string) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(filepath.Join(dataDir, "memory.db"))
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
