package store

import (
	"strings"
	"time"

	"bayou-dm/internal/models"

	"github.com/google/uuid"
)

// EditWindow is how long after creation the sender may still edit a
// message. Deletes are allowed at any time.
const EditWindow = 15 * time.Minute

// Store is the in-memory ordered message sequence for one open
// conversation. It is mutated from exactly two paths — the session's
// command handlers (optimistic local writes) and the realtime router's
// applyRemote* callbacks — and both run on the owning session actor, so no
// locking happens here. Remote events arrive at-least-once and may race
// the optimistic path in either order; every method is idempotent.
//
// Ordering: entries are kept ascending by created_at, ties keep insertion
// order. A pending (optimistically sent) entry is later replaced in place
// by its server-confirmed counterpart; replacement never re-sorts, so the
// message cannot visibly jump.
type Store struct {
	selfID         uuid.UUID
	conversationID uuid.UUID

	entries []*models.Message
	index   map[uuid.UUID]int // message id (temporary or confirmed) -> position

	// Temporary ids of optimistic sends awaiting confirmation, in send
	// order. The oldest matching entry is the one a racing INSERT event
	// confirms.
	pending []uuid.UUID

	reactions map[uuid.UUID][]models.Reaction
	replies   map[uuid.UUID]*models.Message // referenced reply targets
}

func New(selfID, conversationID uuid.UUID) *Store {
	return &Store{
		selfID:         selfID,
		conversationID: conversationID,
		index:          make(map[uuid.UUID]int),
		reactions:      make(map[uuid.UUID][]models.Reaction),
		replies:        make(map[uuid.UUID]*models.Message),
	}
}

func (s *Store) ConversationID() uuid.UUID { return s.conversationID }

func (s *Store) Len() int { return len(s.entries) }

// Load replaces the whole sequence with freshly fetched history. Inbound
// messages are flipped to read locally (the caller has just displayed
// them; the adapter persists the same flag). Used both for the initial
// open and for the full reload after a transport reconnect.
func (s *Store) Load(messages []*models.Message, replies map[uuid.UUID]*models.Message, reactions map[uuid.UUID][]models.Reaction) {
	s.entries = s.entries[:0]
	s.index = make(map[uuid.UUID]int)
	s.pending = s.pending[:0]

	for _, m := range messages {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		cp := m.Clone()
		if cp.SenderID != s.selfID {
			cp.IsRead = true
		}
		s.index[cp.ID] = len(s.entries)
		s.entries = append(s.entries, cp)
	}
	s.sortStable()

	s.replies = make(map[uuid.UUID]*models.Message)
	for id, m := range replies {
		s.replies[id] = m.Clone()
	}

	s.reactions = make(map[uuid.UUID][]models.Reaction)
	for id, rs := range reactions {
		s.reactions[id] = append([]models.Reaction(nil), rs...)
	}
}

// AppendPending adds an optimistic entry with a temporary id. It is
// visible immediately and stays at this position when confirmed.
func (s *Store) AppendPending(msg *models.Message) {
	cp := msg.Clone()
	s.index[cp.ID] = len(s.entries)
	s.entries = append(s.entries, cp)
	s.pending = append(s.pending, cp.ID)
}

// ConfirmSend replaces the pending entry with the server-confirmed row,
// keyed by the temporary id so the screen position is preserved. If the
// temporary id is gone the INSERT event won the race and already confirmed
// the entry; the call is then a no-op.
func (s *Store) ConfirmSend(tempID uuid.UUID, confirmed *models.Message) {
	pos, ok := s.index[tempID]
	if !ok {
		return
	}
	cp := confirmed.Clone()
	s.entries[pos] = cp
	delete(s.index, tempID)
	s.index[cp.ID] = pos
	s.dropPending(tempID)
}

// FailSend removes a pending entry after a genuine remote failure and
// hands back its content so the caller can restore the compose field.
// Benign duplicate races never reach here; those entries are kept.
func (s *Store) FailSend(tempID uuid.UUID) (content string, ok bool) {
	pos, present := s.index[tempID]
	if !present {
		return "", false
	}
	content = s.entries[pos].Content
	s.removeAt(pos)
	s.dropPending(tempID)
	return content, true
}

// ApplyRemoteInsert folds a realtime INSERT into the sequence. Duplicates
// of already-present ids are ignored. An insert of our own message while a
// matching optimistic entry is still unconfirmed acts as the confirmation:
// it replaces that entry in place instead of appending a second copy.
func (s *Store) ApplyRemoteInsert(msg *models.Message) {
	if _, dup := s.index[msg.ID]; dup {
		return
	}

	if msg.SenderID == s.selfID {
		if tempID, found := s.matchPending(msg); found {
			s.ConfirmSend(tempID, msg)
			return
		}
	}

	cp := msg.Clone()
	if cp.SenderID != s.selfID {
		// The conversation is open on screen, so the new message is read
		// the moment it lands.
		cp.IsRead = true
	}
	s.insertOrdered(cp)
}

// ApplyRemoteUpdate merges only the server-authoritative fields into the
// existing entry. The bare update event does not carry reply or reaction
// payloads, so locally-held state for those is left untouched. Unknown ids
// are ignored.
func (s *Store) ApplyRemoteUpdate(msg *models.Message) {
	pos, ok := s.index[msg.ID]
	if !ok {
		return
	}
	entry := s.entries[pos]
	entry.Content = msg.Content
	entry.EditedAt = msg.EditedAt
	entry.IsRead = msg.IsRead
}

// ApplyRemoteDelete removes the entry if present. Absence is not an error:
// the local optimistic delete and the remote DELETE event arrive in either
// order and the second one must be a no-op.
func (s *Store) ApplyRemoteDelete(id uuid.UUID) {
	pos, ok := s.index[id]
	if !ok {
		return
	}
	s.removeAt(pos)
	s.dropPending(id)
	delete(s.reactions, id)
}

// Remove is the local optimistic delete. Same semantics as
// ApplyRemoteDelete; ownership is checked by the session before calling.
func (s *Store) Remove(id uuid.UUID) {
	s.ApplyRemoteDelete(id)
}

// Get returns the entry with the given id, or nil.
func (s *Store) Get(id uuid.UUID) *models.Message {
	if pos, ok := s.index[id]; ok {
		return s.entries[pos]
	}
	return nil
}

// CanEdit reports whether the caller may still edit the message: only the
// sender, and only while the edit window is open.
func (s *Store) CanEdit(id uuid.UUID, now time.Time) bool {
	entry := s.Get(id)
	if entry == nil || entry.SenderID != s.selfID {
		return false
	}
	return now.Sub(entry.CreatedAt) <= EditWindow
}

// ApplyEdit sets the new content and edited-at locally. The caller has
// already verified CanEdit and issues the remote update separately.
func (s *Store) ApplyEdit(id uuid.UUID, content string, editedAt time.Time) {
	entry := s.Get(id)
	if entry == nil {
		return
	}
	entry.Content = content
	at := editedAt
	entry.EditedAt = &at
}

// RevertEdit restores a message after the remote update failed.
func (s *Store) RevertEdit(id uuid.UUID, content string, editedAt *time.Time) {
	entry := s.Get(id)
	if entry == nil {
		return
	}
	entry.Content = content
	entry.EditedAt = editedAt
}

// UpsertReaction records a reaction keyed by (message, user, emoji).
// Calling it twice with the same key leaves exactly one record.
func (s *Store) UpsertReaction(r models.Reaction) {
	for _, existing := range s.reactions[r.MessageID] {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			return
		}
	}
	s.reactions[r.MessageID] = append(s.reactions[r.MessageID], r)
}

// RemoveReaction deletes the matching record if present.
func (s *Store) RemoveReaction(r models.Reaction) {
	rs := s.reactions[r.MessageID]
	for i, existing := range rs {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			s.reactions[r.MessageID] = append(rs[:i], rs[i+1:]...)
			return
		}
	}
}

// ReplaceReactions swaps in a freshly fetched reaction snapshot for the
// whole conversation. Reaction events are coalesced into this full
// re-fetch rather than applied incrementally.
func (s *Store) ReplaceReactions(snapshot map[uuid.UUID][]models.Reaction) {
	s.reactions = make(map[uuid.UUID][]models.Reaction, len(snapshot))
	for id, rs := range snapshot {
		s.reactions[id] = append([]models.Reaction(nil), rs...)
	}
}

// Reactions returns the reactions held for a message.
func (s *Store) Reactions(id uuid.UUID) []models.Reaction {
	return append([]models.Reaction(nil), s.reactions[id]...)
}

// ReplyTarget resolves a reply_to reference from the loaded cache.
func (s *Store) ReplyTarget(id uuid.UUID) *models.Message {
	if m := s.Get(id); m != nil {
		return m
	}
	return s.replies[id]
}

// Search is a pure client-side case-insensitive substring filter over the
// loaded sequence. The underlying sequence is untouched.
func (s *Store) Search(text string) []*models.Message {
	needle := strings.ToLower(text)
	var out []*models.Message
	for _, entry := range s.entries {
		if strings.Contains(strings.ToLower(entry.Content), needle) {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// Snapshot returns a copy of the ordered sequence.
func (s *Store) Snapshot() []*models.Message {
	out := make([]*models.Message, len(s.entries))
	for i, entry := range s.entries {
		out[i] = entry.Clone()
	}
	return out
}

// IndexOf returns the current position of a message, or -1.
func (s *Store) IndexOf(id uuid.UUID) int {
	if pos, ok := s.index[id]; ok {
		return pos
	}
	return -1
}

// PendingCount returns how many optimistic sends await confirmation.
func (s *Store) PendingCount() int { return len(s.pending) }

// matchPending finds the oldest unconfirmed optimistic entry that the
// remote insert could be the confirmation of.
func (s *Store) matchPending(msg *models.Message) (uuid.UUID, bool) {
	for _, tempID := range s.pending {
		pos, ok := s.index[tempID]
		if !ok {
			continue
		}
		entry := s.entries[pos]
		if entry.Content == msg.Content && entry.AttachmentURL == msg.AttachmentURL {
			return tempID, true
		}
	}
	return uuid.Nil, false
}

// insertOrdered places a new entry by created_at, ties after existing
// entries so insertion order is stable.
func (s *Store) insertOrdered(msg *models.Message) {
	pos := len(s.entries)
	for pos > 0 && s.entries[pos-1].CreatedAt.After(msg.CreatedAt) {
		pos--
	}
	s.entries = append(s.entries, nil)
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = msg
	s.reindexFrom(pos)
}

func (s *Store) removeAt(pos int) {
	removed := s.entries[pos]
	s.entries = append(s.entries[:pos], s.entries[pos+1:]...)
	delete(s.index, removed.ID)
	s.reindexFrom(pos)
}

func (s *Store) reindexFrom(pos int) {
	for i := pos; i < len(s.entries); i++ {
		s.index[s.entries[i].ID] = i
	}
}

func (s *Store) dropPending(id uuid.UUID) {
	for i, tempID := range s.pending {
		if tempID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Store) sortStable() {
	// Insertion sort keeps equal timestamps in their original order, which
	// is the tie-break rule for the sequence.
	for i := 1; i < len(s.entries); i++ {
		for j := i; j > 0 && s.entries[j-1].CreatedAt.After(s.entries[j].CreatedAt); j-- {
			s.entries[j-1], s.entries[j] = s.entries[j], s.entries[j-1]
		}
	}
	s.reindexFrom(0)
}
