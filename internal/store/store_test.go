package store

import (
	"testing"
	"time"

	"bayou-dm/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var (
	self  = uuid.New()
	other = uuid.New()
	conv  = uuid.New()
)

func msgAt(sender uuid.UUID, content string, at time.Time) *models.Message {
	return &models.Message{
		ID:             uuid.New(),
		ConversationID: conv,
		SenderID:       sender,
		Content:        content,
		CreatedAt:      at,
	}
}

func loadedStore(t *testing.T, n int) (*Store, []*models.Message) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	var history []*models.Message
	for i := 0; i < n; i++ {
		history = append(history, msgAt(other, "history", base.Add(time.Duration(i)*time.Minute)))
	}
	s := New(self, conv)
	s.Load(history, nil, nil)
	return s, history
}

func TestLoadMarksInboundRead(t *testing.T) {
	s, history := loadedStore(t, 3)
	for _, m := range history {
		entry := s.Get(m.ID)
		assert.NotNil(t, entry)
		assert.True(t, entry.IsRead)
	}
}

func TestLoadSortsAscendingWithStableTies(t *testing.T) {
	base := time.Now()
	m1 := msgAt(other, "first", base)
	m2 := msgAt(other, "tie-a", base.Add(time.Minute))
	m3 := msgAt(other, "tie-b", base.Add(time.Minute))
	m4 := msgAt(other, "early", base.Add(-time.Minute))

	s := New(self, conv)
	s.Load([]*models.Message{m1, m2, m3, m4}, nil, nil)

	seq := s.Snapshot()
	assert.Equal(t, "early", seq[0].Content)
	assert.Equal(t, "first", seq[1].Content)
	// Equal timestamps keep their original order.
	assert.Equal(t, "tie-a", seq[2].Content)
	assert.Equal(t, "tie-b", seq[3].Content)
}

func TestOptimisticReplaceConfirmationFirst(t *testing.T) {
	s, _ := loadedStore(t, 4)

	temp := msgAt(self, "hi", time.Now())
	s.AppendPending(temp)
	assert.Equal(t, 4, s.IndexOf(temp.ID))

	confirmed := msgAt(self, "hi", time.Now())
	s.ConfirmSend(temp.ID, confirmed)

	// The INSERT event for the same row arrives afterwards and must be
	// deduplicated.
	s.ApplyRemoteInsert(confirmed)

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 4, s.IndexOf(confirmed.ID))
	assert.Equal(t, -1, s.IndexOf(temp.ID))
	assert.Equal(t, 0, s.PendingCount())
}

func TestOptimisticReplaceInsertEventFirst(t *testing.T) {
	s, _ := loadedStore(t, 4)

	temp := msgAt(self, "hi", time.Now())
	s.AppendPending(temp)

	// The realtime INSERT outruns the write acknowledgment. It must land
	// on the pending entry, not append a second copy.
	confirmed := msgAt(self, "hi", time.Now())
	s.ApplyRemoteInsert(confirmed)

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 4, s.IndexOf(confirmed.ID))

	// The late acknowledgment is a no-op.
	s.ConfirmSend(temp.ID, confirmed)
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 4, s.IndexOf(confirmed.ID))
	assert.Equal(t, 0, s.PendingCount())
}

func TestFailSendRestoresContent(t *testing.T) {
	s, _ := loadedStore(t, 2)

	temp := msgAt(self, "draft text", time.Now())
	s.AppendPending(temp)

	content, ok := s.FailSend(temp.ID)
	assert.True(t, ok)
	assert.Equal(t, "draft text", content)
	assert.Equal(t, 2, s.Len())

	// Failing twice is harmless.
	_, ok = s.FailSend(temp.ID)
	assert.False(t, ok)
}

func TestRaceTolerantSendKeepsEntry(t *testing.T) {
	s, _ := loadedStore(t, 1)

	temp := msgAt(self, "hi", time.Now())
	s.AppendPending(temp)

	// The remote insert is rejected as a duplicate, which means the row
	// already exists: the rejection confirms the entry instead of
	// reverting it.
	confirmed := temp.Clone()
	confirmed.ID = uuid.New()
	s.ConfirmSend(temp.ID, confirmed)

	found := 0
	for _, m := range s.Snapshot() {
		if m.Content == "hi" {
			found++
		}
	}
	assert.Equal(t, 1, found)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 0, s.PendingCount())

	// A revert arriving after the confirmation must not remove it.
	_, reverted := s.FailSend(temp.ID)
	assert.False(t, reverted)
	assert.Equal(t, 2, s.Len())
}

func TestIdempotentDelete(t *testing.T) {
	s, history := loadedStore(t, 3)
	target := history[1].ID

	s.Remove(target)
	assert.Equal(t, 2, s.Len())

	// The remote DELETE for the same id arrives later; applying it once or
	// twice changes nothing further.
	s.ApplyRemoteDelete(target)
	s.ApplyRemoteDelete(target)
	assert.Equal(t, 2, s.Len())
	assert.Nil(t, s.Get(target))
}

func TestDeleteDropsReactions(t *testing.T) {
	s, history := loadedStore(t, 1)
	target := history[0].ID

	s.UpsertReaction(models.Reaction{MessageID: target, UserID: self, Emoji: "👍"})
	s.ApplyRemoteDelete(target)
	assert.Empty(t, s.Reactions(target))
}

func TestCanEditWindowBoundary(t *testing.T) {
	created := time.Now()
	mine := msgAt(self, "mine", created)
	theirs := msgAt(other, "theirs", created)

	s := New(self, conv)
	s.Load([]*models.Message{mine, theirs}, nil, nil)

	assert.True(t, s.CanEdit(mine.ID, created.Add(14*time.Minute+59*time.Second)))
	assert.False(t, s.CanEdit(mine.ID, created.Add(15*time.Minute+1*time.Second)))

	// Never editable when authored by someone else, regardless of time.
	assert.False(t, s.CanEdit(theirs.ID, created.Add(time.Second)))
	assert.False(t, s.CanEdit(uuid.New(), created))
}

func TestApplyEditAndRevert(t *testing.T) {
	s, history := loadedStore(t, 1)
	mine := msgAt(self, "original", time.Now())
	s.AppendPending(mine)
	_ = history

	at := time.Now()
	s.ApplyEdit(mine.ID, "edited", at)
	entry := s.Get(mine.ID)
	assert.Equal(t, "edited", entry.Content)
	assert.NotNil(t, entry.EditedAt)

	s.RevertEdit(mine.ID, "original", nil)
	entry = s.Get(mine.ID)
	assert.Equal(t, "original", entry.Content)
	assert.Nil(t, entry.EditedAt)
}

func TestReactionUpsertIdempotence(t *testing.T) {
	s, history := loadedStore(t, 1)
	target := history[0].ID

	r := models.Reaction{MessageID: target, UserID: self, Emoji: "👍"}
	s.UpsertReaction(r)
	s.UpsertReaction(r)
	assert.Len(t, s.Reactions(target), 1)

	// A different emoji from the same user is a distinct record.
	s.UpsertReaction(models.Reaction{MessageID: target, UserID: self, Emoji: "🔥"})
	assert.Len(t, s.Reactions(target), 2)

	s.RemoveReaction(r)
	assert.Len(t, s.Reactions(target), 1)
	s.RemoveReaction(r)
	assert.Len(t, s.Reactions(target), 1)
}

func TestRemoteUpdateMergesAuthoritativeFieldsOnly(t *testing.T) {
	s, history := loadedStore(t, 1)
	target := history[0]

	replyTo := target.ID
	mine := msgAt(self, "with reply", time.Now())
	mine.ReplyToID = &replyTo
	s.AppendPending(mine)
	s.UpsertReaction(models.Reaction{MessageID: mine.ID, UserID: other, Emoji: "👍"})

	editedAt := time.Now()
	update := &models.Message{
		ID:       mine.ID,
		Content:  "edited remotely",
		EditedAt: &editedAt,
		IsRead:   true,
		// A bare update event does not carry reply or reaction payloads.
	}
	s.ApplyRemoteUpdate(update)

	entry := s.Get(mine.ID)
	assert.Equal(t, "edited remotely", entry.Content)
	assert.True(t, entry.IsRead)
	assert.NotNil(t, entry.EditedAt)
	// Locally-held state the event does not carry must survive the merge.
	assert.NotNil(t, entry.ReplyToID)
	assert.Len(t, s.Reactions(mine.ID), 1)

	// Updates for unknown ids are dropped.
	s.ApplyRemoteUpdate(&models.Message{ID: uuid.New(), Content: "ghost"})
	assert.Equal(t, 2, s.Len())
}

func TestRemoteInsertFromOtherIsOrderedAndRead(t *testing.T) {
	s, history := loadedStore(t, 2)

	// An insert with a timestamp between existing entries lands in order.
	mid := msgAt(other, "in between", history[0].CreatedAt.Add(30*time.Second))
	s.ApplyRemoteInsert(mid)
	assert.Equal(t, 1, s.IndexOf(mid.ID))
	assert.True(t, s.Get(mid.ID).IsRead)

	// Re-delivery of the same event is ignored.
	s.ApplyRemoteInsert(mid)
	assert.Equal(t, 3, s.Len())
}

func TestReloadIsSupersetWithoutDuplicates(t *testing.T) {
	s, history := loadedStore(t, 10)

	// Reconnect triggers a fresh full load: same ten plus two missed.
	missed1 := msgAt(other, "missed-1", time.Now())
	missed2 := msgAt(other, "missed-2", time.Now())
	reload := append(append([]*models.Message{}, history...), missed1, missed2)
	s.Load(reload, nil, nil)

	assert.Equal(t, 12, s.Len())
	seen := make(map[uuid.UUID]bool)
	for _, m := range s.Snapshot() {
		assert.False(t, seen[m.ID], "duplicate id after reload")
		seen[m.ID] = true
	}
	for _, m := range history {
		assert.NotEqual(t, -1, s.IndexOf(m.ID))
	}
}

func TestSearchIsCaseInsensitiveAndNonDestructive(t *testing.T) {
	base := time.Now()
	s := New(self, conv)
	s.Load([]*models.Message{
		msgAt(other, "Let's grab Coffee tomorrow", base),
		msgAt(self, "coffee sounds great", base.Add(time.Minute)),
		msgAt(other, "see you then", base.Add(2*time.Minute)),
	}, nil, nil)

	hits := s.Search("COFFEE")
	assert.Len(t, hits, 2)
	assert.Equal(t, 3, s.Len())

	assert.Empty(t, s.Search("tea"))
}

func TestReplyTargetResolution(t *testing.T) {
	inSequence := msgAt(other, "target", time.Now())
	outOfSequence := msgAt(other, "older target", time.Now().Add(-48*time.Hour))

	s := New(self, conv)
	s.Load(
		[]*models.Message{inSequence},
		map[uuid.UUID]*models.Message{outOfSequence.ID: outOfSequence},
		nil,
	)

	assert.NotNil(t, s.ReplyTarget(inSequence.ID))
	assert.NotNil(t, s.ReplyTarget(outOfSequence.ID))
	assert.Nil(t, s.ReplyTarget(uuid.New()))
}
