package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chat-sync/internal/minimize"
	"chat-sync/internal/source"
)

// RunPass executes one full sync pass: discover users, then load, minimize
// and upsert every user's sessions. Failures are isolated per user and per
// session, so a pass only returns an error when it could not start or was
// cancelled. A panic in a worker is re-raised on the calling goroutine.
func (s *SyncService) RunPass(ctx context.Context) (Stats, error) {
	runID := newUUID()
	log := s.log.With().Str("run_id", runID).Logger()

	if s.guard != nil {
		ok, err := s.guard.TryAcquire(ctx, s.owner)
		if err != nil {
			s.metrics.RecordPass("error", 0, s.now())
			return Stats{RunID: runID}, newError(ErrorLease, "acquire_failed", err)
		}
		if !ok {
			log.Info().Msg("another pass holds the lease; skipping")
			s.metrics.RecordPass("skipped", 0, s.now())
			return Stats{RunID: runID}, ErrPassInProgress
		}
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), s.owner); err != nil {
				log.Warn().Err(newError(ErrorLease, "release_failed", err)).Msg("release pass lease")
			}
		}()
		stopRenew := s.renewGuard(ctx, log)
		defer stopRenew()
	}

	started := s.now()
	log.Info().Str("backend", s.src.Backend()).Msg("sync pass started")

	keys := s.DiscoverUserIndexKeys(ctx)
	collector := newStatsCollector(runID, started, len(keys))

	var (
		panicOnce sync.Once
		panicVal  any
	)
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicVal = r })
				}
			}()
			s.syncUser(ctx, log, key, collector)
			return nil
		})
	}
	_ = g.Wait()
	if panicVal != nil {
		panic(panicVal)
	}

	stats := collector.snapshot(s.now())
	status := "success"
	if err := ctx.Err(); err != nil {
		status = "cancelled"
		s.metrics.RecordPass(status, stats.Duration, s.now())
		log.Warn().Err(err).Int("processed_users", stats.ProcessedUsers).Msg("sync pass interrupted")
		return stats, fmt.Errorf("usecase: RunPass: %w", err)
	}
	s.metrics.RecordPass(status, stats.Duration, s.now())

	ev := log.Info().
		Int("total_users", stats.TotalUsers).
		Int("processed_users", stats.ProcessedUsers).
		Int("empty_users", stats.EmptyUsers).
		Int("error_users", stats.ErrorUsers).
		Int("total_chats", stats.TotalChats).
		Int("total_messages", stats.TotalMessages).
		Int("skipped_chats", stats.SkippedChats).
		Int("failed_chats", stats.FailedChats).
		Dur("duration", stats.Duration)
	if s.reportSaving {
		ev = ev.Int64("raw_bytes", stats.RawBytes).
			Int64("minimized_bytes", stats.MinimizedBytes).
			Str("savings", fmt.Sprintf("%.2f%%", stats.SavingsPercent()))
	}
	ev.Msg("sync pass complete")
	return stats, nil
}

// syncUser loads, minimizes and writes one user's sessions. It never
// returns an error; the outcome is folded into the collector.
func (s *SyncService) syncUser(ctx context.Context, log zerolog.Logger, indexKey string, c *statsCollector) {
	userID := source.UserIDFromIndexKey(indexKey)
	log = log.With().Str("user_id", userID).Logger()

	sessions, skipped, err := s.LoadUserSessions(ctx, indexKey)
	res := userResult{skipped: skipped}
	for i := 0; i < skipped; i++ {
		s.metrics.RecordChat("skipped", 0)
	}
	if err != nil {
		log.Error().Err(err).Str("index_key", indexKey).Msg("load user sessions")
		s.metrics.RecordUser("error")
		c.errored(res)
		return
	}
	if len(sessions) == 0 {
		log.Debug().Msg("no sessions for user")
		s.metrics.RecordUser("empty")
		c.empty(res)
		return
	}

	for _, raw := range sessions {
		chat := s.minimizer.Minimize(raw)
		err := s.storeCall(ctx, "destination", "upsert", func(ctx context.Context) error {
			return s.dst.Upsert(ctx, chat, userID)
		})
		if err != nil {
			res.failed++
			s.metrics.RecordChat("failed", 0)
			log.Error().
				Err(newError(ErrorWrite, "upsert_failed", err)).
				Str("chat_id", chat.ID).
				Msg("write chat")
			continue
		}
		rawSize, minSize := minimize.SerializedSize(raw), minimize.SerializedSize(chat)
		res.chats++
		res.messages += chat.MessageCount
		res.rawBytes += int64(rawSize)
		res.minimizedBytes += int64(minSize)
		s.metrics.RecordChat("synced", chat.MessageCount)
		s.metrics.RecordBytes(rawSize, minSize)
	}

	ev := log.Info().Int("chats", res.chats).Int("messages", res.messages)
	if s.reportSaving && res.rawBytes > 0 {
		saved := float64(res.rawBytes-res.minimizedBytes) / float64(res.rawBytes) * 100
		ev = ev.Str("savings", fmt.Sprintf("%.2f%%", saved))
	}
	if res.failed > 0 {
		ev.Int("failed_chats", res.failed).Msg("user synced with failures")
		s.metrics.RecordUser("error")
		c.errored(res)
		return
	}
	ev.Msg("user synced")
	s.metrics.RecordUser("processed")
	c.processed(res)
}

// renewGuard keeps a renewable guard alive until the returned func is called.
func (s *SyncService) renewGuard(ctx context.Context, log zerolog.Logger) func() {
	r, ok := s.guard.(GuardRenewer)
	if !ok || r.RenewInterval() <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.RenewInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Renew(ctx, s.owner); err != nil && ctx.Err() == nil {
					log.Warn().Err(newError(ErrorLease, "renew_failed", err)).Msg("renew pass lease")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
