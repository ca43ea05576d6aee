// Package httpapi exposes the public operations of the autobase
// orchestrator over HTTP, in the teacher's handlers style: one Handler
// struct wrapping the core, one method per route, JSON in and out.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lineage/lineage/autobase"
)

// Handler contains the HTTP handlers for the control-plane API.
type Handler struct {
	Base *autobase.Autobase
	Log  *zap.Logger
}

// NewHandler creates and returns a new Handler instance.
func NewHandler(base *autobase.Autobase, log *zap.Logger) *Handler {
	return &Handler{Base: base, Log: log}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Append handles POST /append: appends one value, or a batch of values
// submitted together as one atomic group, to the local writer's log
// (spec §6's overloaded "append(value | value[])").
func (h *Handler) Append(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value  string   `json:"value"`
		Values []string `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Log.Error("failed to decode append request", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	values := req.Values
	if len(values) == 0 {
		values = []string{req.Value}
	}
	raw := make([][]byte, len(values))
	for i, v := range values {
		raw[i] = []byte(v)
	}

	lengths, err := h.Base.AppendBatch(raw)
	if err != nil {
		h.Log.Error("append failed", zap.Error(err))
		if err == autobase.ErrNotWritable {
			h.writeError(w, http.StatusConflict, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if len(req.Values) == 0 {
		h.writeJSON(w, http.StatusCreated, map[string]int{"length": lengths[0]})
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string][]int{"lengths": lengths})
}

// Ack handles POST /ack.
func (h *Handler) Ack(w http.ResponseWriter, r *http.Request) {
	if err := h.Base.Ack(); err != nil {
		h.Log.Error("ack failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Update handles POST /update.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wait bool `json:"wait"`
	}
	// A missing or invalid body defaults to waiting, matching Update's
	// own default behaviour as a public operation.
	req.Wait = true
	_ = json.NewDecoder(r.Body).Decode(&req)

	length, err := h.Base.Update(req.Wait)
	if err != nil {
		h.Log.Error("update failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"length": length})
}

// Checkpoint handles GET /checkpoint.
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.Base.Checkpoint()
	if err != nil {
		h.Log.Error("checkpoint failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cp == nil {
		h.writeError(w, http.StatusNotFound, errNoCheckpoint)
		return
	}
	h.writeJSON(w, http.StatusOK, cp)
}

// Writable handles GET /writable.
func (h *Handler) Writable(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"writable": h.Base.Writable()})
}

// ViewBlocks handles GET /views/{name}: a debugging aid reading back a
// named view's persisted blocks, mirroring the teacher's read-only
// /nodes/highest-weight style routes.
func (h *Handler) ViewBlocks(w http.ResponseWriter, r *http.Request, name string) {
	v, ok := h.Base.Views().View(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, errUnknownView)
		return
	}
	if !v.IsReady() {
		h.writeError(w, http.StatusNotFound, errViewNotReady)
		return
	}

	raw, err := v.IndexedBlocks()
	if err != nil {
		h.Log.Error("failed reading view blocks", zap.String("view", name), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	blocks := make([]string, 0, len(raw))
	for _, b := range raw {
		blocks = append(blocks, string(b))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"name": name, "blocks": blocks})
}
