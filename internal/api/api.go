// Package api implements the inbound control-plane HTTP surface (spec
// §6 Inbound): task submission plus the barrier, openFile, closeFile,
// deleteFile, registerData and cancelApplication control RPCs, grounded
// on storage-service/internal/api's chi handler pattern.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamodel"
	"github.com/compsweave/taskrt/internal/runtime"
	"github.com/compsweave/taskrt/pkg/wire"
)

// Handler serves the master's inbound control-plane routes.
type Handler struct {
	rt  *runtime.Runtime
	log *zap.Logger
}

// NewHandler builds a Handler bound to rt.
func NewHandler(rt *runtime.Runtime, log *zap.Logger) *Handler {
	return &Handler{rt: rt, log: log.Named("api")}
}

// RegisterRoutes mounts every control-plane route under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/tasks", h.submitTask)
	r.Get("/v1/tasks/{id}", h.describeTask)
	r.Post("/v1/tasks/{id}/cancel", h.cancelTask)

	r.Post("/v1/apps/{app}/barrier", h.barrier)
	r.Post("/v1/apps/{app}/groups/{group}/barrier", h.barrierGroup)
	r.Post("/v1/apps/{app}/cancel", h.cancelApplication)

	r.Post("/v1/data", h.registerData)
	r.Post("/v1/data/{did}/open", h.openFile)
	r.Post("/v1/data/{did}/close", h.closeFile)
	r.Delete("/v1/data/{did}", h.deleteFile)

	h.log.Info("control-plane routes registered")
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.log.Error("encode response failed", zap.Error(err))
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message string, err error) {
	fields := []zap.Field{zap.Int("status_code", code), zap.String("message", message)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	h.log.Warn("control-plane request failed", fields...)
	h.respondJSON(w, code, map[string]string{"error": message})
}

func parseDID(r *http.Request, key string) (datamodel.DID, error) {
	raw := chi.URLParam(r, key)
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return datamodel.DID(n), nil
}

func parseTaskID(r *http.Request, key string) (datamodel.TaskID, error) {
	raw := chi.URLParam(r, key)
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return datamodel.TaskID(n), nil
}

// submitTask handles the typed submission RPC of spec §6 Inbound.
func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var body wire.SubmitTask
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid submission payload", err)
		return
	}

	task, err := fromWireSubmission(body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid task definition", err)
		return
	}

	if err := h.rt.SubmitTask(task); err != nil {
		h.respondError(w, http.StatusConflict, "task rejected", err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": uint64(task.ID)})
}

// describeTask implements the /v1/tasks/{id} introspection endpoint
// (SPEC_FULL §3 Supplemented features).
func (h *Handler) describeTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r, "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid task id", err)
		return
	}
	desc, ok := h.rt.DescribeTask(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "unknown task", nil)
		return
	}
	h.respondJSON(w, http.StatusOK, desc)
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r, "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid task id", err)
		return
	}
	h.rt.CancelTask(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) barrier(w http.ResponseWriter, r *http.Request) {
	app := datamodel.AppID(chi.URLParam(r, "app"))
	if err := h.rt.Barrier(r.Context(), app); err != nil {
		h.respondError(w, http.StatusGatewayTimeout, "barrier wait failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) barrierGroup(w http.ResponseWriter, r *http.Request) {
	app := datamodel.AppID(chi.URLParam(r, "app"))
	group := chi.URLParam(r, "group")
	if err := h.rt.BarrierGroup(r.Context(), app, group); err != nil {
		h.respondError(w, http.StatusGatewayTimeout, "barrier wait failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelApplication(w http.ResponseWriter, r *http.Request) {
	app := datamodel.AppID(chi.URLParam(r, "app"))
	h.rt.CancelApplication(app)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) registerData(w http.ResponseWriter, r *http.Request) {
	did := h.rt.RegisterData()
	h.respondJSON(w, http.StatusCreated, map[string]uint64{"did": uint64(did)})
}

func (h *Handler) openFile(w http.ResponseWriter, r *http.Request) {
	did, err := parseDID(r, "did")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid data id", err)
		return
	}
	dii, err := h.rt.OpenFile(r.Context(), did)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "openFile failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"renaming": string(dii)})
}

func (h *Handler) closeFile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Renaming string `json:"renaming"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid closeFile payload", err)
		return
	}
	h.rt.CloseFile(datamodel.DII(body.Renaming))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	did, err := parseDID(r, "did")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid data id", err)
		return
	}
	if err := h.rt.DeleteFile(r.Context(), did); err != nil {
		h.respondError(w, http.StatusNotFound, "deleteFile failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
