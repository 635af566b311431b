package api

import (
	"net/http"

	"github.com/haasonsaas/unibox/internal/inbox"
	"github.com/haasonsaas/unibox/pkg/models"
)

const maxListLimit = 500

// ReplyRequest is the body of POST /api/messages/{id}/reply.
type ReplyRequest struct {
	Content string `json:"content"`
}

// StarRequest is the optional body of POST /api/messages/{id}/star.
type StarRequest struct {
	Starred *bool `json:"starred,omitempty"`
}

// queryFrom reads view, status, starred, channel, q and limit. status is
// an alias for view; starred=true selects the starred view.
func queryFrom(r *http.Request) (inbox.Query, error) {
	params := r.URL.Query()
	view := params.Get("view")
	if status := params.Get("status"); status != "" {
		view = status
	}
	starred, err := parseBoolParam(r, "starred")
	if err != nil {
		return inbox.Query{}, err
	}
	if starred {
		view = string(inbox.ViewStarred)
	}
	parsed, err := inbox.ParseView(view)
	if err != nil {
		return inbox.Query{}, err
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		return inbox.Query{}, err
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return inbox.Query{
		View:      parsed,
		ChannelID: params.Get("channel"),
		Search:    params.Get("q"),
		Limit:     limit,
	}, nil
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	q, err := queryFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.cfg.Inbox.List(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) listThreads(w http.ResponseWriter, r *http.Request) {
	q, err := queryFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	threads, err := h.cfg.Inbox.Threads(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if threads == nil {
		threads = []inbox.Thread{}
	}
	for i := range threads {
		if threads[i].Replies == nil {
			threads[i].Replies = []*models.Message{}
		}
	}
	writeJSON(w, http.StatusOK, threads)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.cfg.Inbox.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	msg, err := h.cfg.Inbox.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	msg, err := h.cfg.Inbox.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reply, err := h.cfg.Inbox.Reply(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (h *Handler) star(w http.ResponseWriter, r *http.Request) {
	var req StarRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	starred := true
	if req.Starred != nil {
		starred = *req.Starred
	}
	h.setStarred(w, r, starred)
}

func (h *Handler) unstar(w http.ResponseWriter, r *http.Request) {
	h.setStarred(w, r, false)
}

func (h *Handler) setStarred(w http.ResponseWriter, r *http.Request, starred bool) {
	msg, err := h.cfg.Inbox.Star(r.Context(), r.PathValue("id"), starred)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
