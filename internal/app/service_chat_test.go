package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"colorcraft/api/internal/realtime"
	"colorcraft/api/internal/store"
)

const conversationID = "66666666-6666-4666-8666-666666666666"

func chatStore(status string, participants ...string) *fakeStore {
	return &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.Conversation, error) {
			if id != conversationID {
				return store.Conversation{}, sql.ErrNoRows
			}
			return store.Conversation{ID: id, Subject: "Dresser quote", Status: status, CreatedBy: customerID}, nil
		},
		getParticipantFn: func(_ context.Context, id, userID string) (store.Participant, error) {
			for _, participant := range participants {
				if participant == userID {
					return store.Participant{ConversationID: id, UserID: userID}, nil
				}
			}
			return store.Participant{}, sql.ErrNoRows
		},
	}
}

func TestStartConversationDefaultsSubject(t *testing.T) {
	svc := newTestService(&fakeStore{})
	payload, err := svc.StartConversation(context.Background(), sessionOf(customerID), ConversationInput{Body: "  Hello there  "})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	conversation := payload["conversation"].(map[string]any)
	message := payload["message"].(map[string]any)
	if conversation["subject"] != defaultConversationSubject {
		t.Fatalf("expected default subject, got %v", conversation["subject"])
	}
	if message["body"] != "Hello there" || message["senderRole"] != "customer" {
		t.Fatalf("unexpected first message %v", message)
	}

	_, err = svc.StartConversation(context.Background(), sessionOf(customerID), ConversationInput{Body: " "})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListConversationsScopesNonModerators(t *testing.T) {
	var filters []store.ConversationFilter
	fs := &fakeStore{listConversationsFn: func(_ context.Context, filter store.ConversationFilter) ([]store.Conversation, error) {
		filters = append(filters, filter)
		return nil, nil
	}}
	svc := newTestService(fs)

	if _, err := svc.ListConversations(context.Background(), sessionOf(customerID), ConversationListInput{}); err != nil {
		t.Fatalf("customer list: %v", err)
	}
	if _, err := svc.ListConversations(context.Background(), sessionOf(adminID), ConversationListInput{Status: "open"}); err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if filters[0].ParticipantID != customerID {
		t.Fatalf("customer list must be scoped to participant, got %+v", filters[0])
	}
	if filters[1].ParticipantID != "" || filters[1].Status != "open" || filters[1].ViewerID != adminID {
		t.Fatalf("admin list must see every conversation, got %+v", filters[1])
	}
}

func TestNonParticipantCannotReadConversation(t *testing.T) {
	svc := newTestService(chatStore("open", customerID))
	_, err := svc.ListMessages(context.Background(), sessionOf(contributorID), conversationID, "", 0)
	if !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if _, err := svc.ListMessages(context.Background(), sessionOf(customerID), conversationID, "yesterday", 0); err == nil {
		t.Fatal("expected a malformed cursor to be rejected")
	}
}

func TestSendMessageToClosedConversation(t *testing.T) {
	_, handler := newTestHandler(chatStore("closed", customerID))
	rr := serve(t, handler, http.MethodPost, "/api/chat/conversations/"+conversationID+"/messages", tokenFor(t, customerID), `{"body":"Still there?"}`)
	expectCode(t, rr, http.StatusConflict, "CONVERSATION_CLOSED")
}

func TestSendMessageRaceWithCloseIsConflict(t *testing.T) {
	fs := chatStore("open", customerID)
	fs.insertMessageFn = func(context.Context, store.ChatMessage) (store.ChatMessage, error) {
		return store.ChatMessage{}, store.ErrConversationClosed
	}
	svc := newTestService(fs)
	_, err := svc.SendMessage(context.Background(), sessionOf(customerID), conversationID, MessageInput{Body: "hi"})
	if !errors.Is(err, errConversationClosed) {
		t.Fatalf("expected closed conversation, got %v", err)
	}
}

func TestAdminReplyJoinsAndPublishes(t *testing.T) {
	var joined []string
	fs := chatStore("open", customerID)
	fs.addParticipantFn = func(_ context.Context, id, userID, role string) error {
		joined = append(joined, userID+":"+role)
		return nil
	}
	svc := newTestService(fs)
	publisher := &fakePublisher{}
	svc.publisher = publisher

	payload, err := svc.SendMessage(context.Background(), sessionOf(adminID), conversationID, MessageInput{Body: "  Happy to help  "})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if payload["senderName"] != "Ada Admin" || payload["body"] != "Happy to help" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if len(joined) != 1 || joined[0] != adminID+":admin" {
		t.Fatalf("expected admin to join the conversation, got %v", joined)
	}

	frames := publisher.frames[conversationID]
	if len(frames) != 1 {
		t.Fatalf("expected one published frame, got %d", len(frames))
	}
	var frame realtime.Frame
	if err := json.Unmarshal(frames[0], &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != realtime.FrameMessage || frame.ConversationID != conversationID {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestSetConversationStatus(t *testing.T) {
	var updated string
	fs := chatStore("open", customerID)
	fs.setStatusFn = func(_ context.Context, _ string, status string) error {
		updated = status
		return nil
	}
	svc := newTestService(fs)
	publisher := &fakePublisher{}
	svc.publisher = publisher

	if _, err := svc.SetConversationStatus(context.Background(), conversationID, "archived"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
	if _, err := svc.SetConversationStatus(context.Background(), conversationID, "closed"); err != nil {
		t.Fatalf("SetConversationStatus: %v", err)
	}
	if updated != "closed" {
		t.Fatalf("expected closed, got %q", updated)
	}
	if len(publisher.frames[conversationID]) != 1 {
		t.Fatal("expected a status frame")
	}
}

func TestAuthorizeJoin(t *testing.T) {
	svc := newTestService(chatStore("open", customerID))
	ctx := context.Background()

	cases := []struct {
		name   string
		who    realtime.Identity
		id     string
		denied bool
	}{
		{name: "participant", who: realtime.Identity{UserID: customerID, Role: "customer"}, id: conversationID},
		{name: "outsider", who: realtime.Identity{UserID: otherID, Role: "customer"}, id: conversationID, denied: true},
		{name: "admin", who: realtime.Identity{UserID: adminID, Role: "admin"}, id: conversationID},
		{name: "admin unknown room", who: realtime.Identity{UserID: adminID, Role: "admin"}, id: otherID, denied: true},
		{name: "malformed id", who: realtime.Identity{UserID: customerID, Role: "customer"}, id: "lobby", denied: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.AuthorizeJoin(ctx, tc.who, tc.id)
			if tc.denied != errors.Is(err, realtime.ErrJoinDenied) {
				t.Fatalf("AuthorizeJoin = %v, denied=%v", err, tc.denied)
			}
		})
	}
}

func TestChatStatsUsesStartOfDay(t *testing.T) {
	var since time.Time
	fs := &fakeStore{chatStatsFn: func(_ context.Context, dayStart time.Time) (store.ChatStats, error) {
		since = dayStart
		return store.ChatStats{Total: 4, Open: 3, Closed: 1, UnreadForAdmin: 2, MessagesToday: 9}, nil
	}}
	svc := newTestService(fs)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }

	payload, err := svc.ChatStats(context.Background())
	if err != nil {
		t.Fatalf("ChatStats: %v", err)
	}
	if !since.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start of day, got %v", since)
	}
	if payload["unreadForAdmin"] != 2 || payload["messagesToday"] != 9 {
		t.Fatalf("unexpected stats %v", payload)
	}
}
