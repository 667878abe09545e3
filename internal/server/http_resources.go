package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/resource"
	"github.com/qvarn/qvarn/internal/store"
)

func (h *typeHandler) routeItems(r *mux.Router) {
	r.HandleFunc(h.path, handle(h.handleList)).Methods(http.MethodGet)
	r.HandleFunc(h.path, handle(h.handleCreate)).Methods(http.MethodPost)
	r.HandleFunc(h.path+"/search/{criteria:.+}", handle(h.handleSearch)).Methods(http.MethodGet)
	r.HandleFunc(h.path+"/{id}", handle(h.handleGet)).Methods(http.MethodGet)
	r.HandleFunc(h.path+"/{id}", handle(h.handleUpdate)).Methods(http.MethodPut)
	r.HandleFunc(h.path+"/{id}", handle(h.handleDelete)).Methods(http.MethodDelete)

	v := h.svc.Type().Current()
	for _, name := range v.SubpathNames() {
		if v.IsFile(name) {
			r.HandleFunc(h.path+"/{id}/"+name, handle(func(w http.ResponseWriter, r *http.Request) error {
				return h.handleGetFile(w, r, name)
			})).Methods(http.MethodGet)
			r.HandleFunc(h.path+"/{id}/"+name, handle(func(w http.ResponseWriter, r *http.Request) error {
				return h.handlePutFile(w, r, name)
			})).Methods(http.MethodPut)
			continue
		}
		r.HandleFunc(h.path+"/{id}/"+name, handle(func(w http.ResponseWriter, r *http.Request) error {
			return h.handleGetSubitem(w, r, name)
		})).Methods(http.MethodGet)
		r.HandleFunc(h.path+"/{id}/"+name, handle(func(w http.ResponseWriter, r *http.Request) error {
			return h.handleUpdateSubitem(w, r, name)
		})).Methods(http.MethodPut)
	}
}

// idList renders ids as the {resources:[{id}]} list body.
func idList(ids []string) map[string]any {
	out := make([]map[string]string, len(ids))
	for i, id := range ids {
		out[i] = map[string]string{"id": id}
	}
	return map[string]any{"resources": out}
}

// handleList handles GET /T.
func (h *typeHandler) handleList(w http.ResponseWriter, r *http.Request) error {
	ids, err := h.svc.List(r.Context())
	if err != nil {
		return err
	}
	h.logAccess(r, ids)
	writeJSON(w, http.StatusOK, idList(ids))
	return nil
}

// handleCreate handles POST /T.
func (h *typeHandler) handleCreate(w http.ResponseWriter, r *http.Request) error {
	body, err := decodeBody(r)
	if err != nil {
		return err
	}
	doc, err := h.svc.Create(r.Context(), body)
	if err != nil {
		return err
	}
	w.Header().Set("Location", h.path+"/"+model.ID(doc))
	writeJSON(w, http.StatusCreated, doc)
	return nil
}

// handleGet handles GET /T/{id}.
func (h *typeHandler) handleGet(w http.ResponseWriter, r *http.Request) error {
	id, err := pathVar(r, "id")
	if err != nil {
		return err
	}
	doc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		return err
	}
	h.logAccess(r, []string{id})
	writeJSON(w, http.StatusOK, doc)
	return nil
}

// handleUpdate handles PUT /T/{id}.
func (h *typeHandler) handleUpdate(w http.ResponseWriter, r *http.Request) error {
	id, err := pathVar(r, "id")
	if err != nil {
		return err
	}
	body, err := decodeBody(r)
	if err != nil {
		return err
	}
	doc, err := h.svc.Update(r.Context(), id, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

// handleDelete handles DELETE /T/{id}.
func (h *typeHandler) handleDelete(w http.ResponseWriter, r *http.Request) error {
	id, err := pathVar(r, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{})
	return nil
}

// handleSearch handles GET /T/search/{criteria}.
func (h *typeHandler) handleSearch(w http.ResponseWriter, r *http.Request) error {
	segments, err := store.SplitCriteria(mux.Vars(r)["criteria"])
	if err != nil {
		return err
	}
	docs, err := h.svc.Search(r.Context(), segments)
	if err != nil {
		return err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = model.ID(d)
	}
	h.logAccess(r, ids)
	writeJSON(w, http.StatusOK, map[string]any{"resources": docs})
	return nil
}

func (h *typeHandler) handleGetSubitem(w http.ResponseWriter, r *http.Request, name string) error {
	id, err := pathVar(r, "id")
	if err != nil {
		return err
	}
	doc, err := h.svc.GetSubitem(r.Context(), id, name)
	if err != nil {
		return err
	}
	h.logAccess(r, []string{id})
	writeJSON(w, http.StatusOK, doc)
	return nil
}

func (h *typeHandler) handleUpdateSubitem(w http.ResponseWriter, r *http.Request, name string) error {
	id, err := pathVar(r, "id")
	if err != nil {
		return err
	}
	body, err := decodeBody(r)
	if err != nil {
		return err
	}
	doc, err := h.svc.UpdateSubitem(r.Context(), id, name, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

// handleGetFile writes the stored bytes with their content type and the
// parent's revision in the Revision header.
func (h *typeHandler) handleGetFile(w http.ResponseWriter, r *http.Request, name string) error {
	id, err := pathVar(r, "id")
	if err != nil {
		return err
	}
	f, err := h.svc.GetFile(r.Context(), id, name)
	if err != nil {
		return err
	}
	h.logAccess(r, []string{id})
	if f.ContentType != "" {
		w.Header().Set("Content-Type", f.ContentType)
	}
	w.Header().Set("Revision", f.Revision)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Body)
	return nil
}

func (h *typeHandler) handlePutFile(w http.ResponseWriter, r *http.Request, name string) error {
	id, err := pathVar(r, "id")
	if err != nil {
		return err
	}
	revision := r.Header.Get("Revision")
	if revision == "" {
		return model.ErrNoItemRevision(id)
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return model.ErrUnsupportedMediaType(ct)
	}
	if r.ContentLength < 0 {
		return model.ErrLengthRequired()
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return model.ErrBadRequestBody("reading body: " + err.Error())
	}
	rev, err := h.svc.PutFile(r.Context(), id, name, revision, resource.File{Body: body, ContentType: ct})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "revision": rev})
	return nil
}

// logAccess writes access-log records naming the ids a request returned.
func (h *typeHandler) logAccess(r *http.Request, ids []string) {
	if !h.opts.AccessLog || len(ids) == 0 {
		return
	}
	size := h.opts.AccessLogChunkSize
	if size <= 0 {
		size = len(ids)
	}
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		slog.Info("access-log",
			"method", r.Method,
			"path", r.URL.EscapedPath(),
			"type", h.svc.Type().Type,
			"subject", subjectFrom(r.Context()),
			"ids", ids[start:end],
		)
	}
}
