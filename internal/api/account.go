package api

import (
	"net/http"

	"github.com/haasonsaas/unibox/internal/profile"
	"github.com/haasonsaas/unibox/internal/settings"
	"github.com/haasonsaas/unibox/internal/tickets"
)

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	current, err := h.cfg.Settings.Effective(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var update settings.Update
	if err := decodeJSON(r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.cfg.Settings.Update(r.Context(), update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) mute(w http.ResponseWriter, r *http.Request) {
	updated, err := h.cfg.Settings.Mute(r.Context(), r.PathValue("channel"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) unmute(w http.ResponseWriter, r *http.Request) {
	updated, err := h.cfg.Settings.Unmute(r.Context(), r.PathValue("channel"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.cfg.Profiles.Get(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var update profile.Update
	if err := decodeJSON(r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.cfg.Profiles.Update(r.Context(), update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	list, err := h.cfg.Tickets.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) createTicket(w http.ResponseWriter, r *http.Request) {
	var req tickets.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ticket, err := h.cfg.Tickets.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) getTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.cfg.Tickets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) updateTicket(w http.ResponseWriter, r *http.Request) {
	var req tickets.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ticket, err := h.cfg.Tickets.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) deleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Tickets.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
