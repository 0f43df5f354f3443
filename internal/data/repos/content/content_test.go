package content

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/studify/video-pipeline/internal/data/repos/testutil"
	"github.com/studify/video-pipeline/internal/domain"
	"github.com/studify/video-pipeline/internal/platform/dbctx"
)

func newContentCtx(t *testing.T) dbctx.Context {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	return dbctx.Context{Ctx: context.Background(), Tx: tx}
}

func seedAttachment(t *testing.T, dbc dbctx.Context, repo AttachmentRepo) *domain.Attachment {
	t.Helper()
	att, err := repo.Create(dbc, &domain.Attachment{
		OwnerUserID: uuid.New(),
		Kind:        domain.AttachmentKindVideo,
		FileName:    "lecture.mp4",
		StorageKey:  "videos/lecture.mp4",
		OriginalURL: "https://cdn.example.com/videos/lecture.mp4",
	})
	if err != nil {
		t.Fatalf("seed attachment: %v", err)
	}
	return att
}

func TestAttachmentRepoRoundtrip(t *testing.T) {
	dbc := newContentCtx(t)
	repo := NewAttachmentRepo(testutil.DB(t), testutil.Logger(t))

	att := seedAttachment(t, dbc, repo)

	got, err := repo.GetByID(dbc, att.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.FileName != "lecture.mp4" {
		t.Fatalf("unexpected attachment: %+v", got)
	}

	if err := repo.UpdateFields(dbc, att.ID, map[string]interface{}{
		"compressed_url":  "https://cdn.example.com/videos/lecture_c.mp4",
		"compressed_size": int64(42),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = repo.GetByID(dbc, att.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.CompressedURL != "https://cdn.example.com/videos/lecture_c.mp4" || got.CompressedSize != 42 {
		t.Fatalf("update not applied: %+v", got)
	}

	missing, err := repo.GetByID(dbc, uuid.New())
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing attachment")
	}
}

func TestTranscriptSegmentReplaceForAttachment(t *testing.T) {
	dbc := newContentCtx(t)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	atts := NewAttachmentRepo(db, log)
	segs := NewTranscriptSegmentRepo(db, log)

	att := seedAttachment(t, dbc, atts)

	first := []*domain.TranscriptSegment{
		{AttachmentID: att.ID, Index: 0, StartSec: 0, EndSec: 600, Text: "part one", WordCount: 2, ContentHash: "h0"},
		{AttachmentID: att.ID, Index: 1, StartSec: 590, EndSec: 1200, Text: "part two", WordCount: 2, ContentHash: "h1"},
	}
	if _, err := segs.ReplaceForAttachment(dbc, att.ID, first); err != nil {
		t.Fatalf("replace 1: %v", err)
	}

	// A redelivered transcribe step writes a fresh set; the old rows must go.
	second := []*domain.TranscriptSegment{
		{AttachmentID: att.ID, Index: 0, StartSec: 0, EndSec: 700, Text: "rerun", WordCount: 1, ContentHash: "h2"},
	}
	if _, err := segs.ReplaceForAttachment(dbc, att.ID, second); err != nil {
		t.Fatalf("replace 2: %v", err)
	}

	got, err := segs.ListByAttachment(dbc, att.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 segment after replace, got %d", len(got))
	}
	if got[0].Text != "rerun" {
		t.Fatalf("unexpected segment: %+v", got[0])
	}
}

func TestTranscriptSegmentListOrdering(t *testing.T) {
	dbc := newContentCtx(t)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	atts := NewAttachmentRepo(db, log)
	segs := NewTranscriptSegmentRepo(db, log)

	att := seedAttachment(t, dbc, atts)
	rows := []*domain.TranscriptSegment{
		{AttachmentID: att.ID, Index: 2, Text: "c", WordCount: 1, ContentHash: "hc"},
		{AttachmentID: att.ID, Index: 0, Text: "a", WordCount: 1, ContentHash: "ha"},
		{AttachmentID: att.ID, Index: 1, Text: "b", WordCount: 1, ContentHash: "hb"},
	}
	if _, err := segs.ReplaceForAttachment(dbc, att.ID, rows); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := segs.ListByAttachment(dbc, att.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, s := range got {
		if s.Index != i {
			t.Fatalf("position %d has index %d", i, s.Index)
		}
	}
}

func TestEmbeddingQueueDedup(t *testing.T) {
	dbc := newContentCtx(t)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	atts := NewAttachmentRepo(db, log)
	queue := NewEmbeddingQueueRepo(db, log)

	att := seedAttachment(t, dbc, atts)
	segID := uuid.New()

	inserted, err := queue.EnqueueBatch(dbc, []*domain.EmbeddingQueueItem{
		{AttachmentID: att.ID, SegmentID: segID, ContentText: "alpha", ContentHash: "hash_a", Status: domain.EmbeddingStatusQueued},
		{AttachmentID: att.ID, SegmentID: segID, ContentText: "beta", ContentHash: "hash_b", Status: domain.EmbeddingStatusQueued},
	})
	if err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserts, got %d", inserted)
	}

	// Redelivery re-enqueues one known hash under a fresh segment id plus
	// one new row; no duplicate row appears and the known hash is repointed
	// at the new segment.
	freshSegID := uuid.New()
	written, err := queue.EnqueueBatch(dbc, []*domain.EmbeddingQueueItem{
		{AttachmentID: att.ID, SegmentID: freshSegID, ContentText: "alpha", ContentHash: "hash_a", Status: domain.EmbeddingStatusQueued},
		{AttachmentID: att.ID, SegmentID: freshSegID, ContentText: "gamma", ContentHash: "hash_c", Status: domain.EmbeddingStatusQueued},
	})
	if err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if written != 2 {
		t.Fatalf("expected 2 written rows on redelivery, got %d", written)
	}

	count, err := queue.CountByAttachment(dbc, att.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 queued rows, got %d", count)
	}

	var repointed domain.EmbeddingQueueItem
	if err := dbc.Tx.Where("attachment_id = ? AND content_hash = ?", att.ID, "hash_a").
		First(&repointed).Error; err != nil {
		t.Fatalf("load hash_a row: %v", err)
	}
	if repointed.SegmentID != freshSegID {
		t.Fatalf("segment_id = %s, want repointed to %s", repointed.SegmentID, freshSegID)
	}
}

func TestEmbeddingQueueDedupIsPerAttachment(t *testing.T) {
	dbc := newContentCtx(t)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	atts := NewAttachmentRepo(db, log)
	queue := NewEmbeddingQueueRepo(db, log)

	attA := seedAttachment(t, dbc, atts)
	attB := seedAttachment(t, dbc, atts)

	// Identical transcript content on two attachments still queues both.
	for _, att := range []*domain.Attachment{attA, attB} {
		written, err := queue.EnqueueBatch(dbc, []*domain.EmbeddingQueueItem{
			{AttachmentID: att.ID, SegmentID: uuid.New(), ContentText: "alpha", ContentHash: "hash_shared", Status: domain.EmbeddingStatusQueued},
		})
		if err != nil {
			t.Fatalf("enqueue for %s: %v", att.ID, err)
		}
		if written != 1 {
			t.Fatalf("expected 1 written row for %s, got %d", att.ID, written)
		}
	}
	for _, att := range []*domain.Attachment{attA, attB} {
		count, err := queue.CountByAttachment(dbc, att.ID)
		if err != nil {
			t.Fatalf("count for %s: %v", att.ID, err)
		}
		if count != 1 {
			t.Fatalf("expected 1 row for %s, got %d", att.ID, count)
		}
	}
}

func TestEmbeddingQueueEmptyBatch(t *testing.T) {
	dbc := newContentCtx(t)
	queue := NewEmbeddingQueueRepo(testutil.DB(t), testutil.Logger(t))
	inserted, err := queue.EnqueueBatch(dbc, nil)
	if err != nil {
		t.Fatalf("enqueue empty: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected 0 inserts, got %d", inserted)
	}
}
