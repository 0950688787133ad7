package sim

import (
	"testing"
	"time"

	"github.com/chatkit-io/chatkit-go/internal/model"
)

func TestResolveAlias(t *testing.T) {
	s := NewStore()

	first := s.Resolve("user-1", "me")
	if first == "" {
		t.Fatal("expected a conversation id for first contact")
	}
	if again := s.Resolve("user-1", ""); again != first {
		t.Errorf("alias resolved to %q, want %q", again, first)
	}
	if other := s.Resolve("user-2", "me"); other == first {
		t.Error("different users must not share a conversation")
	}
	if explicit := s.Resolve("user-1", "conv-x"); explicit != "conv-x" {
		t.Errorf("explicit id resolved to %q", explicit)
	}
}

func TestAppendNormalizesStatus(t *testing.T) {
	s := NewStore()
	id := s.Resolve("user-1", "me")

	user := s.Append(id, model.Message{Text: "hi", Role: model.RoleAppUser})
	if user.Status != model.StatusSent {
		t.Errorf("app user message stored as %q, want sent", user.Status)
	}
	if user.ID == "" || user.Date.IsZero() {
		t.Error("stored message must carry a server id and timestamp")
	}

	maker := s.Append(id, model.Message{Text: "hello", Role: model.RoleAppMaker})
	if maker.Status != model.StatusNotUserMessage {
		t.Errorf("app maker message stored as %q, want notUserMessage", maker.Status)
	}
}

func TestHistoryPaging(t *testing.T) {
	s := NewStore()
	id := s.Resolve("user-1", "me")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		s.Append(id, model.Message{
			Text: "msg",
			Role: model.RoleAppMaker,
			Date: base.Add(time.Duration(i) * time.Minute),
		})
	}

	cutoff := base.Add(5 * time.Minute)

	page, hasMore := s.History(id, cutoff, 3)
	if len(page) != 3 {
		t.Fatalf("got %d messages, want 3", len(page))
	}
	if !hasMore {
		t.Error("expected more history beyond the page")
	}
	// Newest page of the older history, chronological.
	if !page[0].Date.Before(page[1].Date) || !page[1].Date.Before(page[2].Date) {
		t.Error("page must be in chronological order")
	}
	if got := page[2].Date; !got.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest of page = %v, want %v", got, base.Add(4*time.Minute))
	}

	rest, hasMore := s.History(id, page[0].Date, 10)
	if len(rest) != 2 {
		t.Errorf("got %d remaining, want 2", len(rest))
	}
	if hasMore {
		t.Error("no history should remain")
	}
}

func TestSettleActionConflict(t *testing.T) {
	s := NewStore()
	id := s.Resolve("user-1", "me")

	s.Append(id, model.Message{
		Text: "offer",
		Role: model.RoleAppMaker,
		Actions: []model.MessageAction{{
			ID:       "buy-1",
			Type:     model.ActionTypeBuy,
			Amount:   499,
			Currency: "usd",
			State:    model.ActionStateOffered,
		}},
	})

	if _, ok := s.FindAction(id, "buy-1"); !ok {
		t.Fatal("action should be discoverable")
	}
	if !s.SettleAction(id, "buy-1") {
		t.Fatal("first settlement should succeed")
	}
	if s.SettleAction(id, "buy-1") {
		t.Error("second settlement must conflict")
	}

	action, _ := s.FindAction(id, "buy-1")
	if action.State != model.ActionStatePaid {
		t.Errorf("state = %q, want paid", action.State)
	}
}

func TestSettleItemHostedAction(t *testing.T) {
	s := NewStore()
	id := s.Resolve("user-1", "me")

	s.Append(id, model.Message{
		Type: model.MessageTypeCarousel,
		Role: model.RoleAppMaker,
		Items: []model.MessageItem{{
			Title: "Sticker pack",
			Actions: []model.MessageAction{{
				ID:       "buy-2",
				Type:     model.ActionTypeBuy,
				Amount:   199,
				Currency: "usd",
				State:    model.ActionStateOffered,
			}},
		}},
	})

	if !s.SettleAction(id, "buy-2") {
		t.Fatal("first settlement should succeed")
	}
	action, _ := s.FindAction(id, "buy-2")
	if action.State != model.ActionStatePaid {
		t.Errorf("state = %q, want paid", action.State)
	}
	if s.SettleAction(id, "buy-2") {
		t.Error("second settlement must conflict")
	}
	if s.SettleAction(id, "ghost") {
		t.Error("unknown action must not settle")
	}
}
