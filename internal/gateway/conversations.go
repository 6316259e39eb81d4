package gateway

import (
	"net/http"
	"strings"

	"recruitbot/internal/domain"
)

type createConversationRequest struct {
	OwnerID         string `json:"owner_id"`
	Title           string `json:"title"`
	ContextType     string `json:"context_type"`
	ContextEntityID string `json:"context_entity_id"`
}

func (s *Server) handleCreateConversation(rw http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(rw, http.StatusBadRequest, "owner_id is required")
		return
	}
	kind := domain.ContextKind(req.ContextType)
	switch kind {
	case domain.ContextNone, domain.ContextCandidate, domain.ContextVacancy:
	default:
		writeError(rw, http.StatusBadRequest, "unknown context_type: "+req.ContextType)
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), domain.NewConversation{
		OwnerID: req.OwnerID,
		Title:   req.Title,
		Context: domain.ContextTag{Kind: kind, EntityID: req.ContextEntityID},
	})
	if err != nil {
		s.storeError(rw, "create conversation", err)
		return
	}
	s.logger.Info("conversation created", "id", conv.ID, "owner", conv.OwnerID, "context", conv.Context)
	writeJSON(rw, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(rw http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		writeError(rw, http.StatusBadRequest, "owner_id is required")
		return
	}
	convs, err := s.store.ListConversations(r.Context(), owner)
	if err != nil {
		s.storeError(rw, "list conversations", err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleRenameConversation(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(rw, http.StatusBadRequest, "title is required")
		return
	}
	id := r.PathValue("id")
	if err := s.store.RenameConversation(r.Context(), id, req.Title); err != nil {
		s.storeError(rw, "rename conversation", err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "renamed", "id": id})
}

func (s *Server) handleDeleteConversation(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		s.storeError(rw, "delete conversation", err)
		return
	}
	s.logger.Info("conversation deleted", "id", id)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleListMessages(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		s.storeError(rw, "get conversation", err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		s.storeError(rw, "list messages", err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"messages": msgs})
}
