package app

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"colorcraft/api/internal/rbac"
	"colorcraft/api/internal/store"
)

type RoleInput struct {
	Role string `json:"role" validate:"required,oneof=admin contributor customer"`
}

type DeactivateInput struct {
	Deactivated bool `json:"deactivated"`
}

func (s *Service) ListUsers(ctx context.Context, query, role string, limit, offset int) (map[string]any, error) {
	role = strings.TrimSpace(role)
	if role != "" && !rbac.Valid(role) {
		return nil, fieldError("role", "must be one of: admin, contributor, customer")
	}
	users, total, err := s.store.ListUsers(ctx, store.UserFilter{
		Query:  query,
		Role:   role,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return map[string]any{"items": items, "total": total}, nil
}

func (s *Service) ChangeUserRole(ctx context.Context, session Session, userID string, input RoleInput) (map[string]any, error) {
	if err := requireID(userID); err != nil {
		return nil, err
	}
	if userID == session.UserID {
		return nil, errSelfModification
	}
	if err := check(input); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserRole(ctx, userID, input.Role); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	log.Info("user role changed", "user", userID, "role", input.Role, "by", session.UserID)
	return userPayload(user), nil
}

func (s *Service) SetUserDeactivated(ctx context.Context, session Session, userID string, input DeactivateInput) (map[string]any, error) {
	if err := requireID(userID); err != nil {
		return nil, err
	}
	if userID == session.UserID {
		return nil, errSelfModification
	}
	if err := s.store.SetUserDeactivated(ctx, userID, input.Deactivated); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	log.Info("user activation changed", "user", userID, "deactivated", input.Deactivated, "by", session.UserID)
	return userPayload(user), nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":              user.ID,
		"email":           user.Email,
		"displayName":     user.DisplayName,
		"role":            user.Role,
		"isEmailVerified": user.IsEmailVerified,
		"deactivatedAt":   timeOrNil(user.DeactivatedAt),
		"createdAt":       user.CreatedAt,
	}
}
