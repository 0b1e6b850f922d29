// Package api exposes the version manager over HTTP under /v1.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/entity"
	"github.com/aquamarinepk/vstore/middleware"
	"github.com/aquamarinepk/vstore/version"
)

// Error codes written in the error envelope.
const (
	CodeUnknownEntity  = "unknown_entity"
	CodeInvalidPayload = "invalid_payload"
	CodeNotFound       = "not_found"
	CodeDuplicateKey   = "duplicate_key"
	CodeConflict       = "conflict"
	CodeAlreadyMerged  = "already_merged"
	CodeValidation     = "validation_failed"
	CodeInternal       = "internal_error"
)

const maxBodyBytes = 4 << 20

// Handler serves entity writes, reads and branch operations.
type Handler struct {
	manager *version.Manager
	log     vstore.Logger
	errs    vstore.ErrorReporter
}

func NewHandler(m *version.Manager, log vstore.Logger, errs vstore.ErrorReporter) *Handler {
	if log == nil {
		log = vstore.NewNoopLogger()
	}
	if errs == nil {
		errs = vstore.NoopErrorReporter{}
	}
	return &Handler{manager: m, log: log, errs: errs}
}

// Module adapts NewHandler to the HTTP server module factory.
func Module(m *version.Manager) vstore.HTTPModuleFactory {
	return func(deps *vstore.Deps) (vstore.HTTPModule, error) {
		if m == nil {
			return nil, errors.New("api: version manager is required")
		}
		log := deps.Logger
		if log == nil {
			log = vstore.NewNoopLogger()
		}
		return NewHandler(m, log.With("component", "api"), deps.Errors), nil
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.VersionContext())

		r.Route("/versions/{versionID}", func(r chi.Router) {
			r.Get("/", h.handleBranch)
			r.Get("/records", h.handleListVersion)
			r.Post("/merge", h.handleMerge)
		})

		r.Route("/{entity}", func(r chi.Router) {
			r.Get("/", h.handleReadBasic)
			r.Post("/", h.handleInsert)
			r.Patch("/", h.handleUpdate)
			r.Put("/", h.handleUpsert)
			r.Delete("/", h.handleDelete)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGet)
				r.Get("/detail", h.handleDetail)
				r.Post("/versions", h.handleCreateVersion)
			})
		})
	})
}

// definition resolves the {entity} parameter. Plural names are accepted.
func (h *Handler) definition(w http.ResponseWriter, r *http.Request) (*entity.Definition, bool) {
	name := chi.URLParam(r, "entity")
	reg := h.manager.Registry()
	if def, ok := reg.Get(name); ok {
		return def, true
	}
	if def, ok := reg.Get(vstore.Singularize(name)); ok {
		return def, true
	}
	vstore.Error(w, http.StatusNotFound, CodeUnknownEntity, fmt.Sprintf("unknown entity %q", name))
	return nil, false
}

func meta(vctx version.Context) map[string]any {
	m := map[string]any{"version_id": vctx.Version()}
	if vctx.Scope != "" {
		m["scope"] = vctx.Scope
	}
	return m
}

// writeError maps version error kinds to status codes. Anything unexpected is
// reported and answered with 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, version.ErrAlreadyMerged):
		vstore.Error(w, http.StatusGone, CodeAlreadyMerged, err.Error())
	case errors.Is(err, version.ErrNotFound):
		vstore.Error(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, version.ErrDuplicateKey):
		vstore.Error(w, http.StatusConflict, CodeDuplicateKey, err.Error())
	case errors.Is(err, version.ErrConflict):
		vstore.Error(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, version.ErrValidation):
		fields := version.FieldErrors(err)
		details := make([]vstore.FieldDetail, 0, len(fields))
		for _, f := range fields {
			details = append(details, vstore.FieldDetail{Field: f.Field, Message: f.Message})
		}
		vstore.Error(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), details...)
	default:
		h.log.Error("request failed", "path", r.URL.Path, "method", r.Method, "error", err)
		h.errs.Report(r.Context(), err, map[string]any{
			"request_id": vstore.RequestIDFrom(r.Context()),
			"path":       r.URL.Path,
			"method":     r.Method,
		})
		vstore.Error(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeRows accepts a single object or an array of objects.
func decodeRows(r *http.Request) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if len(raw) > 0 && raw[0] == '[' {
		var rows []map[string]any
		if err := dec.Decode(&rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.New("body must be an object or an array of objects")
	}
	return []map[string]any{row}, nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
