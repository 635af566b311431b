package api

import (
	"fmt"
	"net/http"

	"github.com/haasonsaas/unibox/pkg/models"
)

// CreateChannelRequest is the body of POST /api/channels.
type CreateChannelRequest struct {
	ChannelType models.ChannelType `json:"channel_type"`
	DisplayName string             `json:"display_name"`
	Credentials models.Credentials `json:"credentials"`
}

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	conns, err := h.cfg.Channels.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]*models.ChannelConnection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := models.ParseChannelType(string(req.ChannelType)); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	conn, err := h.cfg.Channels.Create(r.Context(), req.ChannelType, req.DisplayName, req.Credentials)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn.Public())
}

func (h *Handler) getChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := h.cfg.Channels.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn.Public())
}

func (h *Handler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Channels.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
