package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// unreadExpr counts messages from other senders newer than the viewer's read
// marker. The viewer ID is bound as the single placeholder.
const unreadExpr = `(SELECT COUNT(*) FROM chat_messages m
		WHERE m.conversation_id = cc.id
			AND m.sender_id <> ?
			AND m.created_at > COALESCE(
				(SELECT cp.last_read_at FROM chat_participants cp WHERE cp.conversation_id = cc.id AND cp.user_id = ?),
				'-infinity'::timestamptz))`

const lastMessageExpr = `COALESCE((SELECT m.body FROM chat_messages m WHERE m.conversation_id = cc.id ORDER BY m.created_at DESC LIMIT 1), '')`

func (s *PostgresStore) CreateConversation(ctx context.Context, conversation Conversation, first ChatMessage) (Conversation, ChatMessage, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO chat_conversations (id, subject, status, created_by, last_message_at)
			VALUES ($1, $2, 'open', $3, NOW())
			RETURNING status, last_message_at, created_at, updated_at
		`, conversation.ID, conversation.Subject, conversation.CreatedBy).Scan(
			&conversation.Status, &conversation.LastMessageAt, &conversation.CreatedAt, &conversation.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert conversation: %w", translate(err))
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (conversation_id, user_id, role, last_read_at)
			VALUES ($1, $2, 'customer', NOW())
		`, conversation.ID, conversation.CreatedBy); err != nil {
			return fmt.Errorf("insert participant: %w", translate(err))
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO chat_messages (id, conversation_id, sender_id, body)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, first.ID, conversation.ID, first.SenderID, first.Body).Scan(&first.CreatedAt); err != nil {
			return fmt.Errorf("insert first message: %w", translate(err))
		}
		return nil
	})
	if err != nil {
		return Conversation{}, ChatMessage{}, err
	}
	first.ConversationID = conversation.ID
	conversation.LastMessage = first.Body
	return conversation, first, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT cc.id, cc.subject, cc.status, cc.created_by, u.display_name, cc.last_message_at, cc.created_at, cc.updated_at
		FROM chat_conversations cc
		JOIN users u ON u.id = cc.created_by
		WHERE cc.id=$1
	`, id).Scan(&c.ID, &c.Subject, &c.Status, &c.CreatedBy, &c.CreatedByName, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]Conversation, error) {
	builder := psql.Select(
		"cc.id", "cc.subject", "cc.status", "cc.created_by", "u.display_name",
		"cc.last_message_at", "cc.created_at", "cc.updated_at", lastMessageExpr,
	).
		Column(sq.Expr(unreadExpr, filter.ViewerID, filter.ViewerID)).
		From("chat_conversations cc").
		Join("users u ON u.id = cc.created_by")
	if filter.ParticipantID != "" {
		builder = builder.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM chat_participants p WHERE p.conversation_id = cc.id AND p.user_id = ?)",
			filter.ParticipantID,
		))
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"cc.status": filter.Status})
	}
	query, args, err := builder.
		OrderBy("cc.last_message_at DESC NULLS LAST", "cc.created_at DESC").
		Limit(uint64(clampLimit(filter.Limit, 50, 200))).
		Offset(uint64(max(filter.Offset, 0))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build conversation list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Subject, &c.Status, &c.CreatedBy, &c.CreatedByName,
			&c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &c.LastMessage, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

// GetParticipant returns sql.ErrNoRows when the user is not part of the
// conversation.
func (s *PostgresStore) GetParticipant(ctx context.Context, conversationID, userID string) (Participant, error) {
	var p Participant
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, role, joined_at, last_read_at
		FROM chat_participants WHERE conversation_id=$1 AND user_id=$2
	`, conversationID, userID).Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt, &p.LastReadAt)
	if err != nil {
		return Participant{}, err
	}
	return p, nil
}

func (s *PostgresStore) AddParticipant(ctx context.Context, conversationID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_participants (conversation_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID, role)
	if err != nil {
		return fmt.Errorf("add participant: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM chat_participants WHERE conversation_id=$1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int) ([]ChatMessage, error) {
	builder := psql.Select(
		"m.id", "m.conversation_id", "m.sender_id", "u.display_name", "u.role", "m.body", "m.created_at",
	).From("chat_messages m").
		Join("users u ON u.id = m.sender_id").
		Where(sq.Eq{"m.conversation_id": conversationID})
	if before != nil {
		builder = builder.Where(sq.Lt{"m.created_at": *before})
	}
	query, args, err := builder.OrderBy("m.created_at DESC").Limit(uint64(clampLimit(limit, 50, 200))).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build message list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.SenderRole, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	// newest-first page, returned oldest-first
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

var ErrConversationClosed = errors.New("conversation closed")

// InsertMessage stores a message and bumps the conversation activity marker.
// The sender's own read marker moves with it.
func (s *PostgresStore) InsertMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM chat_conversations WHERE id=$1 FOR UPDATE`, m.ConversationID).Scan(&status); err != nil {
			return err
		}
		if status == "closed" {
			return ErrConversationClosed
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO chat_messages (id, conversation_id, sender_id, body)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, m.ID, m.ConversationID, m.SenderID, m.Body).Scan(&m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", translate(err))
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_conversations SET last_message_at=$2, updated_at=NOW() WHERE id=$1
		`, m.ConversationID, m.CreatedAt); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE chat_participants SET last_read_at=$3 WHERE conversation_id=$1 AND user_id=$2
		`, m.ConversationID, m.SenderID, m.CreatedAt); err != nil {
			return fmt.Errorf("advance read marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return ChatMessage{}, err
	}
	return m, nil
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_participants SET last_read_at=NOW() WHERE conversation_id=$1 AND user_id=$2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) SetConversationStatus(ctx context.Context, conversationID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_conversations SET status=$2, updated_at=NOW() WHERE id=$1
	`, conversationID, status)
	if err != nil {
		return fmt.Errorf("set conversation status: %w", translate(err))
	}
	return requireAffected(result)
}

// ChatStats aggregates dashboard counters. A message counts as unread for
// admins when a non-admin sent it after the latest admin read marker in its
// conversation.
func (s *PostgresStore) ChatStats(ctx context.Context, dayStart time.Time) (ChatStats, error) {
	var stats ChatStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chat_conversations),
			(SELECT COUNT(*) FROM chat_conversations WHERE status='open'),
			(SELECT COUNT(*) FROM chat_conversations WHERE status='closed'),
			(SELECT COUNT(*) FROM chat_messages m
				JOIN users u ON u.id = m.sender_id
				WHERE u.role <> 'admin'
					AND m.created_at > COALESCE(
						(SELECT MAX(cp.last_read_at) FROM chat_participants cp
							WHERE cp.conversation_id = m.conversation_id AND cp.role = 'admin'),
						'-infinity'::timestamptz)),
			(SELECT COUNT(*) FROM chat_messages WHERE created_at >= $1)
	`, dayStart).Scan(&stats.Total, &stats.Open, &stats.Closed, &stats.UnreadForAdmin, &stats.MessagesToday)
	if err != nil {
		return ChatStats{}, fmt.Errorf("chat stats: %w", err)
	}
	return stats, nil
}
