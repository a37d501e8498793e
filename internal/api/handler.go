package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/confreg/internal/pgo"
	"github.com/eugenenazirov/confreg/internal/registry"
	"github.com/eugenenazirov/confreg/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires the registry, snapshot storage and PGO gate into HTTP handlers.
type Handler struct {
	registry *registry.Registry
	storage  storage.Storage
	gate     *pgo.Gate
	logger   *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the logger used for configuration changes.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(reg *registry.Registry, store storage.Storage, gate *pgo.Gate, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry: reg,
		storage:  store,
		gate:     gate,
		logger:   zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:     "ok",
		Timestamp:  h.clock(),
		Namespaces: h.registry.Namespaces(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, h.registry.Save())
}

func (h *Handler) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	ignoreUnknown, err := queryBool(r, "ignore_unknown")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "ignore_unknown must be a boolean")
		return
	}

	var snap registry.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	var opts []registry.LoadOption
	if ignoreUnknown {
		opts = append(opts, registry.IgnoreUnknown())
	}
	before := h.registry.Save()
	if err := h.registry.Load(snap, opts...); err != nil {
		writeConfigError(w, err)
		return
	}

	after := h.registry.Save()
	changes := before.Diff(after)
	h.logger.Info("configuration loaded",
		zap.Int("entries", snap.Len()),
		zap.Int("changed", len(changes)),
		zap.String("request_id", requestIDFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, loadResponse{
		Changes: changes,
		Config:  after,
	})
}

func (h *Handler) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := h.registry.Namespace(r.PathValue("namespace"))
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ns.Save())
}

func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	ns, name, ok := h.lookupSetting(w, r)
	if !ok {
		return
	}
	resp, err := describeSetting(ns, name)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	ns, name, ok := h.lookupSetting(w, r)
	if !ok {
		return
	}

	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "value is required")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(req.Value))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse value")
		return
	}
	if err := ns.SetDecoded(name, value); err != nil {
		writeConfigError(w, err)
		return
	}

	h.logger.Info("setting updated",
		zap.String("setting", registry.QualifiedName(ns.Name(), name)),
		zap.String("request_id", requestIDFromContext(r.Context())),
	)

	resp, err := describeSetting(ns, name)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	resp.Message = "Setting updated successfully"
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, snapshotListResponse{Snapshots: h.storage.List()})
}

func (h *Handler) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap := h.registry.Save()
	if err := h.storage.Put(name, snap); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshotResponse{
		Name:     name,
		SavedAt:  h.clock(),
		Snapshot: snap,
		Message:  "Snapshot saved successfully",
	})
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap, err := h.storage.Get(name)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Name: name, Snapshot: snap})
}

func (h *Handler) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap, err := h.storage.Get(name)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	before := h.registry.Save()
	if err := h.registry.Load(snap); err != nil {
		writeConfigError(w, err)
		return
	}
	after := h.registry.Save()

	h.logger.Info("snapshot restored",
		zap.String("snapshot", name),
		zap.String("request_id", requestIDFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, loadResponse{
		Changes: before.Diff(after),
		Config:  after,
		Message: "Snapshot restored successfully",
	})
}

func (h *Handler) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Delete(r.PathValue("name")); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePGO(w http.ResponseWriter, r *http.Request) {
	rank := 0
	if raw := r.URL.Query().Get("rank"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "Invalid request", "rank must be a non-negative integer")
			return
		}
		rank = value
	}

	st := h.gate.Status(rank)
	writeJSON(w, http.StatusOK, pgoResponse{Status: st, Filename: st.Filename()})
}

func (h *Handler) lookupSetting(w http.ResponseWriter, r *http.Request) (*registry.Namespace, string, bool) {
	ns, err := h.registry.Namespace(r.PathValue("namespace"))
	if err != nil {
		writeConfigError(w, err)
		return nil, "", false
	}
	return ns, r.PathValue("name"), true
}

func describeSetting(ns *registry.Namespace, name string) (settingResponse, error) {
	value, err := ns.Get(name)
	if err != nil {
		return settingResponse{}, err
	}
	prov, err := ns.Provenance(name)
	if err != nil {
		return settingResponse{}, err
	}
	return settingResponse{
		Name:        registry.QualifiedName(ns.Name(), name),
		Kind:        prov.Kind.String(),
		Value:       value,
		Default:     prov.Default,
		Source:      prov.Source.String(),
		Env:         prov.Env,
		ReadOnly:    prov.ReadOnly,
		Doc:         prov.Doc,
		Explanation: prov.String(),
	}, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

type settingResponse struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Value       any    `json:"value"`
	Default     any    `json:"default"`
	Source      string `json:"source"`
	Env         string `json:"env,omitempty"`
	ReadOnly    bool   `json:"readOnly"`
	Doc         string `json:"doc,omitempty"`
	Explanation string `json:"explanation"`
	Message     string `json:"message,omitempty"`
}

type loadResponse struct {
	Changes []registry.Change `json:"changes"`
	Config  registry.Snapshot `json:"config"`
	Message string            `json:"message,omitempty"`
}

type snapshotListResponse struct {
	Snapshots []string `json:"snapshots"`
}

type snapshotResponse struct {
	Name     string            `json:"name"`
	SavedAt  time.Time         `json:"savedAt,omitzero"`
	Snapshot registry.Snapshot `json:"snapshot"`
	Message  string            `json:"message,omitempty"`
}

type pgoResponse struct {
	pgo.Status
	Filename string `json:"filename,omitempty"`
}

type healthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Namespaces []string  `json:"namespaces"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// writeConfigError maps registry error kinds to HTTP statuses.
func writeConfigError(w http.ResponseWriter, err error) {
	switch registry.KindOf(err) {
	case registry.KindUnknownSetting, registry.KindUnknownNamespace:
		writeError(w, http.StatusNotFound, "Not found", err.Error(), "GET /api/config lists every registered setting")
	case registry.KindImmutableSetting:
		writeError(w, http.StatusConflict, "Immutable setting", err.Error())
	case registry.KindTypeMismatch, registry.KindUnsupportedType:
		writeError(w, http.StatusBadRequest, "Invalid value", err.Error())
	default:
		writeInternalError(w, err)
	}
}

func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidSnapshotName):
		writeError(w, http.StatusBadRequest, "Invalid snapshot name", err.Error())
	case errors.Is(err, storage.ErrSnapshotNotFound):
		writeError(w, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, storage.ErrStorageFull):
		writeError(w, http.StatusInsufficientStorage, "Storage full", err.Error(), "DELETE an unused snapshot first")
	default:
		writeInternalError(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
