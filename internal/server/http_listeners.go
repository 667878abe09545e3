package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qvarn/qvarn/internal/model"
)

func (h *typeHandler) routeListeners(r *mux.Router) {
	base := h.path + "/listeners"
	r.HandleFunc(base, handle(h.handleListListeners)).Methods(http.MethodGet)
	r.HandleFunc(base, handle(h.handleCreateListener)).Methods(http.MethodPost)
	r.HandleFunc(base+"/{listener_id}", handle(h.handleGetListener)).Methods(http.MethodGet)
	r.HandleFunc(base+"/{listener_id}", handle(h.handleUpdateListener)).Methods(http.MethodPut)
	r.HandleFunc(base+"/{listener_id}", handle(h.handleDeleteListener)).Methods(http.MethodDelete)
	r.HandleFunc(base+"/{listener_id}/notifications", handle(h.handleListNotifications)).Methods(http.MethodGet)
	r.HandleFunc(base+"/{listener_id}/notifications/{notification_id}", handle(h.handleGetNotification)).Methods(http.MethodGet)
	r.HandleFunc(base+"/{listener_id}/notifications/{notification_id}", handle(h.handleDeleteNotification)).Methods(http.MethodDelete)
}

func (h *typeHandler) handleListListeners(w http.ResponseWriter, r *http.Request) error {
	ids, err := h.svc.ListListeners(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, idList(ids))
	return nil
}

func (h *typeHandler) handleCreateListener(w http.ResponseWriter, r *http.Request) error {
	body, err := decodeBody(r)
	if err != nil {
		return err
	}
	doc, err := h.svc.CreateListener(r.Context(), body)
	if err != nil {
		return err
	}
	w.Header().Set("Location", h.path+"/listeners/"+model.ID(doc))
	writeJSON(w, http.StatusCreated, doc)
	return nil
}

func (h *typeHandler) handleGetListener(w http.ResponseWriter, r *http.Request) error {
	id, err := pathVar(r, "listener_id")
	if err != nil {
		return err
	}
	doc, err := h.svc.GetListener(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

func (h *typeHandler) handleUpdateListener(w http.ResponseWriter, r *http.Request) error {
	id, err := pathVar(r, "listener_id")
	if err != nil {
		return err
	}
	body, err := decodeBody(r)
	if err != nil {
		return err
	}
	doc, err := h.svc.UpdateListener(r.Context(), id, body)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

func (h *typeHandler) handleDeleteListener(w http.ResponseWriter, r *http.Request) error {
	id, err := pathVar(r, "listener_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteListener(r.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{})
	return nil
}

// handleListNotifications returns the listener's notification ids, oldest
// first.
func (h *typeHandler) handleListNotifications(w http.ResponseWriter, r *http.Request) error {
	id, err := pathVar(r, "listener_id")
	if err != nil {
		return err
	}
	ids, err := h.svc.ListNotifications(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, idList(ids))
	return nil
}

func (h *typeHandler) handleGetNotification(w http.ResponseWriter, r *http.Request) error {
	listenerID, err := pathVar(r, "listener_id")
	if err != nil {
		return err
	}
	id, err := pathVar(r, "notification_id")
	if err != nil {
		return err
	}
	doc, err := h.svc.GetNotification(r.Context(), listenerID, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

func (h *typeHandler) handleDeleteNotification(w http.ResponseWriter, r *http.Request) error {
	listenerID, err := pathVar(r, "listener_id")
	if err != nil {
		return err
	}
	id, err := pathVar(r, "notification_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteNotification(r.Context(), listenerID, id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{})
	return nil
}
