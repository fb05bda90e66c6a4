// Package scheduler 会话 LRU 归档调度。
// 活跃会话按最近访问时间排序，超出上限的归档，长期不活跃的自动归档，
// 归档超量或过期的物理删除。
package scheduler

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/pkg/safego"
)

// Limits 归档调度参数。DeleteArchivedAfterDays 为 0 时不做过期删除。
type Limits struct {
	MaxActivePerUser        int
	AutoArchiveAfterDays    int
	MaxArchivedPerUser      int
	DeleteArchivedAfterDays int
	SweepInterval           time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxActivePerUser <= 0 {
		l.MaxActivePerUser = 20
	}
	if l.AutoArchiveAfterDays <= 0 {
		l.AutoArchiveAfterDays = 30
	}
	if l.MaxArchivedPerUser <= 0 {
		l.MaxArchivedPerUser = 50
	}
	if l.SweepInterval <= 0 {
		l.SweepInterval = time.Hour
	}
	return l
}

// SweepStats 单次清扫的结果
type SweepStats struct {
	AutoArchived    int       `json:"autoArchived"`
	ExcessArchived  int       `json:"excessArchived"`
	ExcessDeleted   int       `json:"excessDeleted"`
	ExpiredDeleted  int       `json:"expiredDeleted"`
	StartedAt       time.Time `json:"startedAt"`
	DurationMs      int64     `json:"durationMs"`
}

// LRUScheduler 归档调度器
type LRUScheduler struct {
	conversations repository.ConversationRepository
	limits        Limits
	logger        *zap.Logger
	now           func() time.Time

	sweeps    atomic.Int64
	lastSweep atomic.Pointer[SweepStats]
	stopCh    chan struct{}
}

// NewLRUScheduler 创建调度器
func NewLRUScheduler(conversations repository.ConversationRepository, limits Limits, logger *zap.Logger) *LRUScheduler {
	return &LRUScheduler{
		conversations: conversations,
		limits:        limits.withDefaults(),
		logger:        logger,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// Touch 更新会话的最近访问时间。每次读写都会调用，失败只记日志。
func (s *LRUScheduler) Touch(ctx context.Context, conversationID string) {
	if err := s.conversations.Touch(ctx, conversationID, s.now().UTC()); err != nil {
		s.logger.Warn("更新会话访问时间失败",
			zap.String("conversationId", conversationID),
			zap.Error(err))
	}
}

// ArchiveExcessForUser 把超出活跃上限的会话归档，最久未访问的先归档。
// 会话写入成功后触发。
func (s *LRUScheduler) ArchiveExcessForUser(ctx context.Context, userID string) (int, error) {
	active, err := s.conversations.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	excess := len(active) - s.limits.MaxActivePerUser
	if excess <= 0 {
		return 0, nil
	}

	// 最久未访问的排前面，访问时间相同比更新时间
	sort.Slice(active, func(i, j int) bool {
		if !active[i].LastAccessedAt.Equal(active[j].LastAccessedAt) {
			return active[i].LastAccessedAt.Before(active[j].LastAccessedAt)
		}
		return active[i].UpdatedAt.Before(active[j].UpdatedAt)
	})

	archived := 0
	for _, conv := range active[:excess] {
		conv.Archive()
		if err := s.conversations.Update(ctx, conv); err != nil {
			s.logger.Warn("归档会话失败",
				zap.String("conversationId", conv.ID),
				zap.Error(err))
			continue
		}
		archived++
	}
	if archived > 0 {
		s.logger.Info("活跃会话超限归档",
			zap.String("userId", userID),
			zap.Int("archived", archived))
	}
	return archived, nil
}

// AutoArchiveInactive 归档长期未访问的会话
func (s *LRUScheduler) AutoArchiveInactive(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.limits.AutoArchiveAfterDays)
	stale, err := s.conversations.ListInactiveSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, conv := range stale {
		conv.Archive()
		if err := s.conversations.Update(ctx, conv); err != nil {
			s.logger.Warn("自动归档失败",
				zap.String("conversationId", conv.ID),
				zap.Error(err))
			continue
		}
		archived++
	}
	return archived, nil
}

// CleanupExcessArchived 每个用户只保留最新的 N 条归档，多出的物理删除
func (s *LRUScheduler) CleanupExcessArchived(ctx context.Context) (int, error) {
	userIDs, err := s.conversations.UserIDsWithArchived(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, userID := range userIDs {
		// 归档列表按归档时间倒序，上限之后的全删
		excess, _, err := s.conversations.FindArchivedByUserID(ctx, userID, -1, s.limits.MaxArchivedPerUser)
		if err != nil {
			s.logger.Warn("查询归档超量失败", zap.String("userId", userID), zap.Error(err))
			continue
		}
		for _, conv := range excess {
			if err := s.conversations.Delete(ctx, conv.ID, userID); err != nil {
				s.logger.Warn("删除超量归档失败",
					zap.String("conversationId", conv.ID),
					zap.Error(err))
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

// DeleteExpiredArchived 删除归档超期的会话。配置为 0 时关闭。
func (s *LRUScheduler) DeleteExpiredArchived(ctx context.Context) (int, error) {
	if s.limits.DeleteArchivedAfterDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.limits.DeleteArchivedAfterDays)
	expired, err := s.conversations.ListArchivedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, conv := range expired {
		if err := s.conversations.Delete(ctx, conv.ID, conv.UserID); err != nil {
			s.logger.Warn("删除过期归档失败",
				zap.String("conversationId", conv.ID),
				zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

// RestoreArchived 恢复归档会话并重新执行活跃上限检查
func (s *LRUScheduler) RestoreArchived(ctx context.Context, conversationID, userID string) error {
	conv, err := s.conversations.FindByID(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := conv.Restore(); err != nil {
		return err
	}
	if err := s.conversations.Update(ctx, conv); err != nil {
		return err
	}
	// 恢复可能让活跃数超限
	_, err = s.ArchiveExcessForUser(ctx, userID)
	return err
}

// Sweep 跑一轮全部清理。四个阶段相互独立，并发执行。
func (s *LRUScheduler) Sweep(ctx context.Context) SweepStats {
	stats := SweepStats{StartedAt: s.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.AutoArchiveInactive(gctx)
		stats.AutoArchived = n
		return err
	})
	g.Go(func() error {
		n, err := s.CleanupExcessArchived(gctx)
		stats.ExcessDeleted = n
		return err
	})
	g.Go(func() error {
		n, err := s.DeleteExpiredArchived(gctx)
		stats.ExpiredDeleted = n
		return err
	})
	g.Go(func() error {
		userIDs, err := s.conversations.UserIDsWithArchived(gctx)
		if err != nil {
			return err
		}
		for _, userID := range userIDs {
			n, err := s.ArchiveExcessForUser(gctx, userID)
			if err != nil {
				return err
			}
			stats.ExcessArchived += n
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("归档清扫部分失败", zap.Error(err))
	}

	stats.DurationMs = time.Since(stats.StartedAt).Milliseconds()
	s.sweeps.Add(1)
	s.lastSweep.Store(&stats)
	s.logger.Info("归档清扫完成",
		zap.Int("autoArchived", stats.AutoArchived),
		zap.Int("excessArchived", stats.ExcessArchived),
		zap.Int("excessDeleted", stats.ExcessDeleted),
		zap.Int("expiredDeleted", stats.ExpiredDeleted),
		zap.Int64("durationMs", stats.DurationMs))
	return stats
}

// Start 启动周期清扫，ctx 取消或 Stop 时退出
func (s *LRUScheduler) Start(ctx context.Context) {
	safego.Go(s.logger, "lru-scheduler", func() {
		ticker := time.NewTicker(s.limits.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	})
}

// Stop 停止周期清扫
func (s *LRUScheduler) Stop() {
	close(s.stopCh)
}

// Status 调度器状态，admin 接口用
func (s *LRUScheduler) Status() map[string]interface{} {
	out := map[string]interface{}{
		"sweeps":                  s.sweeps.Load(),
		"sweepInterval":           s.limits.SweepInterval.String(),
		"maxActivePerUser":        s.limits.MaxActivePerUser,
		"autoArchiveAfterDays":    s.limits.AutoArchiveAfterDays,
		"maxArchivedPerUser":      s.limits.MaxArchivedPerUser,
		"deleteArchivedAfterDays": s.limits.DeleteArchivedAfterDays,
	}
	if last := s.lastSweep.Load(); last != nil {
		out["lastSweep"] = *last
	}
	return out
}
