package usecase

import (
	"context"

	"chat-sync/internal/source"
)

// DiscoverUserIndexKeys lists every per-user chat index key for the
// configured version. A listing failure is logged and yields no keys so the
// pass completes as a no-op.
func (s *SyncService) DiscoverUserIndexKeys(ctx context.Context) []string {
	pattern := source.IndexPattern(s.version)

	// A listing may take many round trips; the source bounds each of them.
	var keys []string
	err := s.observe("source", "list_index_keys", func() error {
		var err error
		keys, err = s.src.ListIndexKeys(ctx, pattern)
		return err
	})
	if err != nil {
		s.log.Error().
			Err(newError(ErrorDiscovery, "list_failed", err)).
			Str("pattern", pattern).
			Str("backend", s.src.Backend()).
			Msg("discover user index keys")
		return []string{}
	}
	if keys == nil {
		keys = []string{}
	}

	s.log.Info().
		Int("users", len(keys)).
		Str("pattern", pattern).
		Msg("discovered users")
	return keys
}
