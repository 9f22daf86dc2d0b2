package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"colorcraft/api/internal/rbac"
)

func (s *HTTPServer) chatRoutes(r chi.Router) {
	r.Use(s.allow(rbac.ActionChat))

	r.Get("/conversations", s.handleConversationList)
	r.Post("/conversations", s.handleConversationCreate)
	r.Get("/conversations/{id}/messages", s.handleMessageList)
	r.Post("/conversations/{id}/messages", s.handleMessageSend)
	r.Post("/conversations/{id}/read", s.handleConversationRead)

	r.Group(func(r chi.Router) {
		r.Use(s.allow(rbac.ActionChatModerate))
		r.Put("/conversations/{id}/status", s.handleConversationStatus)
		r.Get("/stats", s.handleChatStats)
	})
}

func (s *HTTPServer) handleConversationList(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListConversations(r.Context(), sessionFrom(r), ConversationListInput{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var body ConversationInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.StartConversation(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleMessageList(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListMessages(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), r.URL.Query().Get("before"), queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	var body MessageInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.SendMessage(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleConversationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkConversationRead(r.Context(), sessionFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleConversationStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.SetConversationStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleChatStats(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ChatStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
