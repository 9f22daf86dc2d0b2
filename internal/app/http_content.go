package app

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"colorcraft/api/internal/rbac"
	"colorcraft/api/internal/search"
)

const maxUploadBody = MaxImageBytes + 1<<20

func (s *HTTPServer) portfolioRoutes(r chi.Router) {
	r.With(s.allow(rbac.ActionContentRead)).Get("/", s.handlePortfolioList)
	r.With(s.allow(rbac.ActionContentWrite)).Post("/", s.handlePortfolioCreate)
	r.Route("/{id}", func(r chi.Router) {
		r.With(s.allow(rbac.ActionContentRead)).Get("/", s.handlePortfolioGet)
		r.With(s.allow(rbac.ActionContentWrite)).Put("/", s.handlePortfolioUpdate)
		r.With(s.allow(rbac.ActionContentDelete)).Delete("/", s.handlePortfolioDelete)
		r.With(s.allow(rbac.ActionContentWrite)).Post("/images", s.handlePortfolioImageUpload)
		r.With(s.allow(rbac.ActionContentDelete)).Delete("/images", s.handlePortfolioImageDelete)
		r.With(s.allow(rbac.ActionContentDelete)).Post("/resync", s.handlePortfolioResync)
		r.With(s.allow(rbac.ActionContentRead)).Get("/export", s.handlePortfolioExport)
	})
}

func (s *HTTPServer) serviceRoutes(r chi.Router) {
	r.With(s.allow(rbac.ActionContentRead)).Get("/", s.handleServiceList)
	r.With(s.allow(rbac.ActionContentWrite)).Post("/", s.handleServiceCreate)
	r.With(s.allow(rbac.ActionContentRead)).Get("/{id}", s.handleServiceGet)
	r.With(s.allow(rbac.ActionContentWrite)).Put("/{id}", s.handleServiceUpdate)
	r.With(s.allow(rbac.ActionContentDelete)).Delete("/{id}", s.handleServiceDelete)
}

func (s *HTTPServer) handlePortfolioList(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListPortfolio(r.Context(), portfolioListInput(r), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func portfolioListInput(r *http.Request) PortfolioListInput {
	return PortfolioListInput{
		Category: r.URL.Query().Get("category"),
		Featured: queryBool(r, "featured"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	}
}

func (s *HTTPServer) handlePortfolioGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetPortfolioItem(r.Context(), chi.URLParam(r, "id"), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePortfolioCreate(w http.ResponseWriter, r *http.Request) {
	var body PortfolioInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.CreatePortfolioItem(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handlePortfolioUpdate(w http.ResponseWriter, r *http.Request) {
	var body PortfolioInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.UpdatePortfolioItem(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePortfolioDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePortfolioItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handlePortfolioImageUpload accepts multipart form data with a "file" part
// and a "type" field of before or after.
func (s *HTTPServer) handlePortfolioImageUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, errImageTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected multipart form data", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, fieldError("file", "is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, MaxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Failed to read upload", nil)
		return
	}

	payload, err := s.service.UploadPortfolioImage(r.Context(), ImageUpload{
		PortfolioID: chi.URLParam(r, "id"),
		Type:        r.FormValue("type"),
		Data:        data,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handlePortfolioImageDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		s.fail(w, r, fieldError("url", "is required"))
		return
	}
	payload, err := s.service.DeletePortfolioImage(r.Context(), chi.URLParam(r, "id"), body.URL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePortfolioResync(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ResyncPortfolioImages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePortfolioExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportPortfolio(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleServiceList(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListServices(r.Context(), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleServiceGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleServiceCreate(w http.ResponseWriter, r *http.Request) {
	var body ServiceInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.CreateService(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleServiceUpdate(w http.ResponseWriter, r *http.Request) {
	var body ServiceInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.UpdateService(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleServiceDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteService(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSearch serves the dashboard search. scope=crm needs crm.manage,
// anything else needs content.read and also sees unpublished rows.
func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	scope, action := search.ScopeContent, rbac.ActionContentRead
	if strings.EqualFold(r.URL.Query().Get("scope"), string(search.ScopeCRM)) {
		scope, action = search.ScopeCRM, rbac.ActionCRMManage
	}
	if !s.service.Can(session.Role, action) {
		s.forbid(w, r, session, action)
		return
	}
	query := r.URL.Query()
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query.Get("q"), scope, query.Get("type"), queryInt(r, "limit"), queryInt(r, "offset")))
}
