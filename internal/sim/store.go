// Package sim implements the in-memory chat service behind cmd/simulator.
// It answers the same REST surface the SDK transport speaks, so the demo
// client can run against localhost.
package sim

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatkit-io/chatkit-go/internal/model"
)

// conversationRecord is the server-side state of one conversation.
type conversationRecord struct {
	ID        string
	AppUserID string
	Messages  []model.Message
	LastRead  map[model.Role]time.Time
}

// Store is the in-memory conversation store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversationRecord
	byUser        map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*conversationRecord),
		byUser:        make(map[string]string),
	}
}

// Resolve maps a path conversation id onto a stored conversation, creating
// one on first contact. The "me" alias resolves through the authenticated
// app user.
func (s *Store) Resolve(appUserID, pathID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pathID != "" && pathID != "me" {
		if _, ok := s.conversations[pathID]; !ok {
			s.conversations[pathID] = newRecord(pathID, appUserID)
		}
		return pathID
	}

	if id, ok := s.byUser[appUserID]; ok {
		return id
	}
	id := uuid.New().String()
	s.conversations[id] = newRecord(id, appUserID)
	s.byUser[appUserID] = id
	return id
}

// Lookup returns whether the conversation exists without creating it.
func (s *Store) Lookup(pathID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[pathID]
	return ok
}

func newRecord(id, appUserID string) *conversationRecord {
	return &conversationRecord{
		ID:        id,
		AppUserID: appUserID,
		LastRead:  make(map[model.Role]time.Time),
	}
}

// Append stores a message, assigning it a server id and timestamp, and
// returns the stored copy.
func (s *Store) Append(conversationID string, msg model.Message) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.conversations[conversationID]
	if rec == nil {
		rec = newRecord(conversationID, "")
		s.conversations[conversationID] = rec
	}

	msg.ID = uuid.New().String()
	if msg.Date.IsZero() {
		msg.Date = time.Now().UTC()
	}
	if msg.Role == model.RoleAppUser {
		msg.Status = model.StatusSent
	} else {
		msg.Status = model.StatusNotUserMessage
	}

	rec.Messages = append(rec.Messages, msg)
	sort.SliceStable(rec.Messages, func(i, j int) bool {
		return rec.Messages[i].Date.Before(rec.Messages[j].Date)
	})
	return msg
}

// History returns the page of messages strictly older than before, newest
// page first in chronological order, and whether older history remains.
func (s *Store) History(conversationID string, before time.Time, limit int) ([]model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.conversations[conversationID]
	if rec == nil {
		return nil, false
	}

	var older []model.Message
	for _, msg := range rec.Messages {
		if msg.Date.Before(before) {
			older = append(older, msg)
		}
	}
	if len(older) <= limit {
		return older, false
	}
	return older[len(older)-limit:], true
}

// Messages returns a copy of the full conversation, oldest first.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.conversations[conversationID]
	if rec == nil {
		return nil
	}
	out := make([]model.Message, len(rec.Messages))
	copy(out, rec.Messages)
	return out
}

// MarkRead records the read watermark for a role and returns it.
func (s *Store) MarkRead(conversationID string, role model.Role) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rec := s.conversations[conversationID]; rec != nil {
		rec.LastRead[role] = now
	}
	return now
}

// FindAction returns the action with the given id anywhere in the
// conversation.
func (s *Store) FindAction(conversationID, actionID string) (model.MessageAction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.conversations[conversationID]
	if rec == nil {
		return model.MessageAction{}, false
	}
	for _, msg := range rec.Messages {
		for _, action := range msg.Actions {
			if action.ID == actionID {
				return action, true
			}
		}
		for _, item := range msg.Items {
			for _, action := range item.Actions {
				if action.ID == actionID {
					return action, true
				}
			}
		}
	}
	return model.MessageAction{}, false
}

// SettleAction marks a buy action as paid, wherever it lives in the
// conversation. It reports false when the action was already paid or does
// not exist; a paid action never reverts.
func (s *Store) SettleAction(conversationID, actionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.conversations[conversationID]
	if rec == nil {
		return false
	}
	for mi := range rec.Messages {
		msg := &rec.Messages[mi]
		for ai := range msg.Actions {
			if msg.Actions[ai].ID == actionID {
				return settle(&msg.Actions[ai])
			}
		}
		for ii := range msg.Items {
			for ai := range msg.Items[ii].Actions {
				if msg.Items[ii].Actions[ai].ID == actionID {
					return settle(&msg.Items[ii].Actions[ai])
				}
			}
		}
	}
	return false
}

func settle(action *model.MessageAction) bool {
	if action.State == model.ActionStatePaid {
		return false
	}
	action.State = model.ActionStatePaid
	return true
}
