package knowledge

import (
	"fmt"

	"github.com/lazypower/stage0/internal/config"
)

// Open builds the configured Store. The returned close func is never nil.
func Open(cfg config.KnowledgeConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			p, err := DefaultPath()
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open knowledge store: %w", err)
		}
		return s, s.Close, nil
	case "http":
		if cfg.URL == "" {
			return nil, nil, fmt.Errorf("knowledge.url is required for the http backend")
		}
		return NewHTTP(cfg.URL), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown knowledge backend: %q", cfg.Backend)
	}
}
