package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"colorcraft/api/internal/rbac"
	"colorcraft/api/internal/realtime"
	"colorcraft/api/internal/store"
	"colorcraft/api/internal/util"
)

const defaultConversationSubject = "General enquiry"

type ConversationInput struct {
	Subject string `json:"subject" validate:"max=200"`
	Body    string `json:"body" validate:"notblank,max=2000"`
}

type MessageInput struct {
	Body string `json:"body" validate:"notblank,max=2000"`
}

type ConversationListInput struct {
	Status string
	Limit  int
	Offset int
}

func (s *Service) StartConversation(ctx context.Context, session Session, input ConversationInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionChat) {
		return nil, errForbidden
	}
	if err := check(input); err != nil {
		return nil, err
	}
	conversation, first, err := s.store.CreateConversation(ctx, store.Conversation{
		ID:            util.NewID(),
		Subject:       firstNonBlank(input.Subject, defaultConversationSubject),
		CreatedBy:     session.UserID,
		CreatedByName: session.UserName,
	}, store.ChatMessage{
		ID:         util.NewID(),
		SenderID:   session.UserID,
		SenderName: session.UserName,
		SenderRole: session.Role,
		Body:       strings.TrimSpace(input.Body),
	})
	if err != nil {
		return nil, err
	}
	log.Info("conversation started", "conversation", conversation.ID, "by", session.UserID)
	return map[string]any{
		"conversation": conversationPayload(conversation),
		"message":      messagePayload(first),
	}, nil
}

func (s *Service) ListConversations(ctx context.Context, session Session, input ConversationListInput) ([]map[string]any, error) {
	filter := store.ConversationFilter{
		ViewerID: session.UserID,
		Status:   strings.TrimSpace(input.Status),
		Limit:    input.Limit,
		Offset:   input.Offset,
	}
	if !s.Can(session.Role, rbac.ActionChatModerate) {
		filter.ParticipantID = session.UserID
	}
	conversations, err := s.store.ListConversations(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		items = append(items, conversationPayload(conversation))
	}
	return items, nil
}

// conversationFor loads a conversation the caller may access: admins see
// every conversation, everyone else only those they participate in.
func (s *Service) conversationFor(ctx context.Context, session Session, conversationID string) (store.Conversation, bool, error) {
	if err := requireID(conversationID); err != nil {
		return store.Conversation{}, false, err
	}
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, false, err
	}
	_, err = s.store.GetParticipant(ctx, conversationID, session.UserID)
	switch {
	case err == nil:
		return conversation, true, nil
	case errors.Is(err, sql.ErrNoRows):
		if s.Can(session.Role, rbac.ActionChatModerate) {
			return conversation, false, nil
		}
		return store.Conversation{}, false, errForbidden
	default:
		return store.Conversation{}, false, err
	}
}

func (s *Service) ListMessages(ctx context.Context, session Session, conversationID, before string, limit int) (map[string]any, error) {
	conversation, _, err := s.conversationFor(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}
	var cursor *time.Time
	if before = strings.TrimSpace(before); before != "" {
		parsed, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			return nil, fieldError("before", "must be an RFC 3339 timestamp")
		}
		cursor = &parsed
	}
	messages, err := s.store.ListMessages(ctx, conversationID, cursor, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		items = append(items, messagePayload(message))
	}
	return map[string]any{
		"conversation": conversationPayload(conversation),
		"messages":     items,
	}, nil
}

func (s *Service) SendMessage(ctx context.Context, session Session, conversationID string, input MessageInput) (map[string]any, error) {
	conversation, participant, err := s.conversationFor(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}
	if err := check(input); err != nil {
		return nil, err
	}
	if conversation.Status == "closed" {
		return nil, errConversationClosed
	}
	if !participant {
		if err := s.store.AddParticipant(ctx, conversationID, session.UserID, string(rbac.RoleAdmin)); err != nil {
			return nil, err
		}
	}

	message, err := s.store.InsertMessage(ctx, store.ChatMessage{
		ID:             util.NewID(),
		ConversationID: conversationID,
		SenderID:       session.UserID,
		Body:           strings.TrimSpace(input.Body),
	})
	if errors.Is(err, store.ErrConversationClosed) {
		return nil, errConversationClosed
	}
	if err != nil {
		return nil, err
	}
	message.SenderName = session.UserName
	message.SenderRole = session.Role

	payload := messagePayload(message)
	s.publish(ctx, conversationID, realtime.Frame{Type: realtime.FrameMessage, ConversationID: conversationID, Data: payload})
	return payload, nil
}

func (s *Service) MarkConversationRead(ctx context.Context, session Session, conversationID string) error {
	_, participant, err := s.conversationFor(ctx, session, conversationID)
	if err != nil {
		return err
	}
	if !participant {
		if err := s.store.AddParticipant(ctx, conversationID, session.UserID, string(rbac.RoleAdmin)); err != nil {
			return err
		}
	}
	return s.store.MarkConversationRead(ctx, conversationID, session.UserID)
}

func (s *Service) SetConversationStatus(ctx context.Context, conversationID, status string) (map[string]any, error) {
	if err := requireID(conversationID); err != nil {
		return nil, err
	}
	if status != "open" && status != "closed" {
		return nil, fieldError("status", "must be one of: open, closed")
	}
	if err := s.store.SetConversationStatus(ctx, conversationID, status); err != nil {
		return nil, err
	}
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	payload := conversationPayload(conversation)
	s.publish(ctx, conversationID, realtime.Frame{Type: realtime.FrameStatus, ConversationID: conversationID, Data: payload})
	return payload, nil
}

func (s *Service) ChatStats(ctx context.Context) (map[string]any, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats, err := s.store.ChatStats(ctx, dayStart)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total":          stats.Total,
		"open":           stats.Open,
		"closed":         stats.Closed,
		"unreadForAdmin": stats.UnreadForAdmin,
		"messagesToday":  stats.MessagesToday,
	}, nil
}

// publish fans a frame out to the conversation room. Delivery failures are
// logged; the message is already stored.
func (s *Service) publish(ctx context.Context, conversationID string, frame realtime.Frame) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, conversationID, realtime.Encode(frame)); err != nil {
		log.Warn("publish chat frame", "conversation", conversationID, "type", frame.Type, "err", err)
	}
}

func conversationPayload(c store.Conversation) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"subject":       c.Subject,
		"status":        c.Status,
		"createdBy":     c.CreatedBy,
		"createdByName": c.CreatedByName,
		"lastMessage":   c.LastMessage,
		"lastMessageAt": timeOrNil(c.LastMessageAt),
		"unreadCount":   c.UnreadCount,
		"createdAt":     c.CreatedAt,
		"updatedAt":     c.UpdatedAt,
	}
}

func messagePayload(m store.ChatMessage) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"conversationId": m.ConversationID,
		"senderId":       m.SenderID,
		"senderName":     m.SenderName,
		"senderRole":     m.SenderRole,
		"body":           m.Body,
		"createdAt":      m.CreatedAt,
	}
}
