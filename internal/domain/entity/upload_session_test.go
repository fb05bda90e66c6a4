package entity

import (
	"testing"
	"time"
)

func TestUploadSessionChunkBookkeeping(t *testing.T) {
	s := NewUploadSession("u1", "plan.txt", 1024, 3)
	if s.Status != UploadStatusPending {
		t.Fatalf("status = %q", s.Status)
	}

	if err := s.MarkReceived(0); err != nil {
		t.Fatalf("mark chunk 0: %v", err)
	}
	// 同一片重传幂等
	if err := s.MarkReceived(0); err != nil {
		t.Fatalf("re-mark chunk 0: %v", err)
	}
	if s.ReceivedCount() != 1 {
		t.Errorf("receivedCount = %d, want 1", s.ReceivedCount())
	}

	missing := s.MissingChunks()
	if len(missing) != 2 || missing[0] != 1 || missing[1] != 2 {
		t.Errorf("missing = %v, want [1 2]", missing)
	}

	_ = s.MarkReceived(2)
	_ = s.MarkReceived(1)
	if s.Status != UploadStatusComplete {
		t.Errorf("status = %q after all chunks, want complete", s.Status)
	}
	if got := s.MissingChunks(); got != nil {
		t.Errorf("missing = %v after all chunks", got)
	}
}

func TestUploadSessionIndexOutOfRange(t *testing.T) {
	s := NewUploadSession("u1", "plan.txt", 1024, 2)
	if err := s.MarkReceived(-1); err != ErrChunkIndexOutOfRange {
		t.Errorf("negative index: %v", err)
	}
	if err := s.MarkReceived(2); err != ErrChunkIndexOutOfRange {
		t.Errorf("index past end: %v", err)
	}
}

func TestUploadSessionExpiry(t *testing.T) {
	s := NewUploadSession("u1", "plan.txt", 1024, 1)
	if s.Expired(time.Now().UTC()) {
		t.Error("fresh session should not be expired")
	}
	if !s.Expired(time.Now().UTC().Add(UploadSessionTTL + time.Minute)) {
		t.Error("session past TTL should be expired")
	}
}
