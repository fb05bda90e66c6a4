package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/infrastructure/persistence"
)

func newScheduler(t *testing.T, limits Limits) (*LRUScheduler, *persistence.MemoryConversationRepository) {
	t.Helper()
	repo := persistence.NewMemoryConversationRepository()
	return NewLRUScheduler(repo, limits, zap.NewNop()), repo
}

func seedConversation(t *testing.T, repo *persistence.MemoryConversationRepository, userID string, lastAccessed time.Time) *entity.Conversation {
	t.Helper()
	conv := entity.NewConversation(userID, fmt.Sprintf("conv-%d", lastAccessed.UnixNano()), "ark")
	conv.LastAccessedAt = lastAccessed
	conv.UpdatedAt = lastAccessed
	if err := repo.Save(context.Background(), conv); err != nil {
		t.Fatalf("save: %v", err)
	}
	return conv
}

func TestArchiveExcessForUser(t *testing.T) {
	s, repo := newScheduler(t, Limits{MaxActivePerUser: 2})
	now := time.Now().UTC()

	oldest := seedConversation(t, repo, "u1", now.Add(-3*time.Hour))
	middle := seedConversation(t, repo, "u1", now.Add(-2*time.Hour))
	newest := seedConversation(t, repo, "u1", now.Add(-1*time.Hour))

	archived, err := s.ArchiveExcessForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("archive excess: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}

	got, err := repo.FindByID(context.Background(), oldest.ID, "u1")
	if err != nil {
		t.Fatalf("find oldest: %v", err)
	}
	if !got.Archived {
		t.Fatal("oldest conversation should have been archived")
	}
	for _, id := range []string{middle.ID, newest.ID} {
		c, err := repo.FindByID(context.Background(), id, "u1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if c.Archived {
			t.Fatalf("conversation %s should stay active", id)
		}
	}
}

func TestArchiveExcessForUser_UnderCap(t *testing.T) {
	s, repo := newScheduler(t, Limits{MaxActivePerUser: 5})
	seedConversation(t, repo, "u1", time.Now().UTC())

	archived, err := s.ArchiveExcessForUser(context.Background(), "u1")
	if err != nil || archived != 0 {
		t.Fatalf("archived = %d err = %v, want 0 nil", archived, err)
	}
}

func TestAutoArchiveInactive(t *testing.T) {
	s, repo := newScheduler(t, Limits{AutoArchiveAfterDays: 7})
	now := time.Now().UTC()

	stale := seedConversation(t, repo, "u1", now.AddDate(0, 0, -10))
	fresh := seedConversation(t, repo, "u1", now.AddDate(0, 0, -1))

	archived, err := s.AutoArchiveInactive(context.Background())
	if err != nil {
		t.Fatalf("auto archive: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}

	if c, _ := repo.FindByID(context.Background(), stale.ID, "u1"); !c.Archived {
		t.Fatal("stale conversation should be archived")
	}
	if c, _ := repo.FindByID(context.Background(), fresh.ID, "u1"); c.Archived {
		t.Fatal("fresh conversation must stay active")
	}
}

func TestCleanupExcessArchived(t *testing.T) {
	s, repo := newScheduler(t, Limits{MaxArchivedPerUser: 2})
	now := time.Now().UTC()

	var ids []string
	for i := 0; i < 4; i++ {
		conv := seedConversation(t, repo, "u1", now.Add(-time.Duration(i)*time.Hour))
		conv.Archive()
		at := now.Add(-time.Duration(i) * time.Hour)
		conv.ArchivedAt = &at
		if err := repo.Update(context.Background(), conv); err != nil {
			t.Fatalf("update: %v", err)
		}
		ids = append(ids, conv.ID)
	}

	deleted, err := s.CleanupExcessArchived(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	// 最新的两条归档保留
	remaining, total, err := repo.FindArchivedByUserID(context.Background(), "u1", -1, 0)
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	for _, c := range remaining {
		if c.ID != ids[0] && c.ID != ids[1] {
			t.Fatalf("unexpected survivor %s", c.ID)
		}
	}
}

func TestDeleteExpiredArchived(t *testing.T) {
	s, repo := newScheduler(t, Limits{DeleteArchivedAfterDays: 30})
	now := time.Now().UTC()

	old := seedConversation(t, repo, "u1", now.AddDate(0, 0, -60))
	old.Archive()
	at := now.AddDate(0, 0, -45)
	old.ArchivedAt = &at
	if err := repo.Update(context.Background(), old); err != nil {
		t.Fatalf("update: %v", err)
	}

	recent := seedConversation(t, repo, "u1", now.AddDate(0, 0, -5))
	recent.Archive()
	if err := repo.Update(context.Background(), recent); err != nil {
		t.Fatalf("update: %v", err)
	}

	deleted, err := s.DeleteExpiredArchived(context.Background())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := repo.FindByID(context.Background(), old.ID, "u1"); err == nil {
		t.Fatal("expired conversation should be gone")
	}
	if _, err := repo.FindByID(context.Background(), recent.ID, "u1"); err != nil {
		t.Fatalf("recent archive should survive: %v", err)
	}
}

func TestDeleteExpiredArchived_Disabled(t *testing.T) {
	s, repo := newScheduler(t, Limits{DeleteArchivedAfterDays: 0})
	now := time.Now().UTC()

	old := seedConversation(t, repo, "u1", now.AddDate(0, 0, -400))
	old.Archive()
	at := now.AddDate(0, 0, -400)
	old.ArchivedAt = &at
	if err := repo.Update(context.Background(), old); err != nil {
		t.Fatalf("update: %v", err)
	}

	deleted, err := s.DeleteExpiredArchived(context.Background())
	if err != nil || deleted != 0 {
		t.Fatalf("deleted = %d err = %v, want 0 nil (disabled)", deleted, err)
	}
}

func TestRestoreArchivedReenforcesCap(t *testing.T) {
	s, repo := newScheduler(t, Limits{MaxActivePerUser: 2})
	now := time.Now().UTC()

	// 两条活跃占满上限，一条归档
	oldest := seedConversation(t, repo, "u1", now.Add(-2*time.Hour))
	seedConversation(t, repo, "u1", now.Add(-1*time.Hour))
	archived := seedConversation(t, repo, "u1", now.Add(-3*time.Hour))
	archived.Archive()
	if err := repo.Update(context.Background(), archived); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.RestoreArchived(context.Background(), archived.ID, "u1"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := repo.FindByID(context.Background(), archived.ID, "u1")
	if err != nil {
		t.Fatalf("find restored: %v", err)
	}
	if restored.Archived {
		t.Fatal("restored conversation should be active")
	}

	// 恢复触发超限检查，最久未访问的活跃会话被挤出去
	evicted, err := repo.FindByID(context.Background(), oldest.ID, "u1")
	if err != nil {
		t.Fatalf("find evicted: %v", err)
	}
	if !evicted.Archived {
		t.Fatal("restore should re-archive the least recently accessed conversation")
	}
}

func TestSweepRunsAllPhases(t *testing.T) {
	s, repo := newScheduler(t, Limits{
		MaxActivePerUser:        10,
		AutoArchiveAfterDays:    7,
		MaxArchivedPerUser:      10,
		DeleteArchivedAfterDays: 30,
	})
	now := time.Now().UTC()
	seedConversation(t, repo, "u1", now.AddDate(0, 0, -10))

	stats := s.Sweep(context.Background())
	if stats.AutoArchived != 1 {
		t.Fatalf("AutoArchived = %d, want 1", stats.AutoArchived)
	}
	if s.Status()["sweeps"].(int64) != 1 {
		t.Fatal("sweep counter should advance")
	}
}
