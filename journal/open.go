package journal

import (
	"fmt"
	"strings"

	"tappay/storage"
)

// Open constructs the backend named by kind. path is used by the leveldb
// backend and dsn by the SQL backends; sqlite falls back to path when dsn is
// empty.
func Open(kind, path, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemory(), nil
	case "leveldb":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("journal: leveldb path required")
		}
		db, err := storage.NewLevelDB(path)
		if err != nil {
			return nil, fmt.Errorf("journal: open leveldb: %w", err)
		}
		store, err := NewKV(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		if strings.TrimSpace(dsn) == "" {
			dsn = strings.TrimSpace(path)
		}
		if dsn == "" {
			return nil, fmt.Errorf("journal: sqlite path or dsn required")
		}
		return OpenSQL(kind, dsn)
	case "postgres":
		return OpenSQL(kind, dsn)
	default:
		return nil, fmt.Errorf("journal: unknown backend %q", kind)
	}
}
