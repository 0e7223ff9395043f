// Package maintenance holds the periodic scheduler tasks of the relay.
package maintenance

import (
	"context"
	"time"

	"github.com/kasuganosora/walkietalkie/server/metrics"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/scheduler"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

// PresenceReport publishes the online user and connection counts.
func PresenceReport(reg *presence.Registry, logger *zap.Logger) scheduler.TaskFn {
	return func(context.Context) error {
		users, conns := reg.OnlineCount(), reg.ConnectionCount()
		metrics.OnlineUsers.Set(float64(users))
		logger.Debug("presence report", zap.Int("online_users", users), zap.Int("connections", conns))
		return nil
	}
}

// StaleCallReport counts calls untouched for longer than olderThan. Stale
// rows are reported, never deleted: a client may still end them.
func StaleCallReport(st *store.Store, olderThan time.Duration, logger *zap.Logger) scheduler.TaskFn {
	return func(ctx context.Context) error {
		n, err := st.CountStaleCalls(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		metrics.StaleCalls.Set(float64(n))
		if n > 0 {
			logger.Warn("stale calls", zap.Int64("count", n), zap.Duration("older_than", olderThan))
		}
		return nil
	}
}
