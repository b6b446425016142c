package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"lracoord/internal/coordinator"
	"lracoord/internal/linkheader"
	"lracoord/internal/participant"
)

// handleListOrInfo serves "GET {prefix}/" (list, spec.md §6) and
// "GET {prefix}/{uid}" (info), distinguished by whatever path remains
// after the prefix once every more specific pattern has failed to match.
func (h *Handler) handleListOrInfo(w http.ResponseWriter, r *http.Request) {
	uid := h.trailingSegment(r)
	if uid == "" {
		h.handleList(w, r)
		return
	}
	h.handleInfo(w, r, uid)
}

func (h *Handler) trailingSegment(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("Status")
	lras, err := h.engine.ListLRAs(statusFilter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lras)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request, uid string) {
	info, err := h.engine.GetInfo(h.fullID(uid))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	status, err := h.engine.GetStatus(h.fullID(uid))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, status.String())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("ClientID")
	parent := q.Get("ParentLRA")

	var timeLimit int64
	if v := q.Get("TimeLimit"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: invalid TimeLimit", coordinator.ErrBadRequest))
			return
		}
		timeLimit = parsed
	}

	id, err := h.engine.StartLRA(r.Context(), clientID, timeLimit, parent)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", id)
	writeText(w, http.StatusCreated, id)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	var timeLimit int64
	if v := r.URL.Query().Get("TimeLimit"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: invalid TimeLimit", coordinator.ErrBadRequest))
			return
		}
		timeLimit = parsed
	}
	if err := h.engine.Renew(r.Context(), h.fullID(uid), timeLimit); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	status, err := h.engine.Close(r.Context(), h.fullID(uid))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, status.String())
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	status, err := h.engine.Cancel(r.Context(), h.fullID(uid))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, status.String())
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: cannot read body", coordinator.ErrBadRequest))
		return
	}
	recoveryURI := strings.TrimSpace(string(body))
	if err := h.engine.Leave(r.Context(), h.fullID(uid), recoveryURI); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleJoin implements spec.md §4.1's two enlistment shapes: a Link
// header listing rel-qualified endpoints, or a plain-text body base URI
// that compensate/complete/etc. are derived from by suffix.
func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")

	var rec *participant.Record
	if lh := r.Header.Get("Link"); lh != "" {
		parsed, err := linkheader.Parse(lh)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: %v", coordinator.ErrInternal, err))
			return
		}
		byRel := linkheader.ByRel(parsed)
		if byRel[linkheader.RelCompensate] == "" {
			h.writeError(w, fmt.Errorf("%w: Link header missing compensate rel", coordinator.ErrBadRequest))
			return
		}
		rec = &participant.Record{
			CompensateURI: byRel[linkheader.RelCompensate],
			CompleteURI:   byRel[linkheader.RelComplete],
			StatusURI:     byRel[linkheader.RelStatus],
			ForgetURI:     byRel[linkheader.RelForget],
			AfterURI:      byRel[linkheader.RelAfter],
		}
		if body, err := io.ReadAll(r.Body); err == nil {
			rec.UserData = body
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: cannot read body", coordinator.ErrPreconditionFailed))
			return
		}
		base := strings.TrimSpace(string(body))
		u, err := validAbsoluteURI(base)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: %v", coordinator.ErrPreconditionFailed, err))
			return
		}
		rec = &participant.Record{
			CompensateURI: u + "/compensate",
			CompleteURI:   u + "/complete",
			StatusURI:     u + "/status",
			ForgetURI:     u + "/forget",
			AfterURI:      u + "/after",
		}
	}

	if v := r.URL.Query().Get("TimeLimit"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.TimeLimitMillis = parsed
		}
	}

	recoveryURI, err := h.engine.Join(r.Context(), h.fullID(uid), rec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Long-Running-Action-Recovery", recoveryURI)
	w.Header().Set("Location", recoveryURI)
	writeText(w, http.StatusOK, recoveryURI)
}

func (h *Handler) handleRecovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.InRecovery())
}

func validAbsoluteURI(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty participant base uri")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", fmt.Errorf("invalid participant base uri %q", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

