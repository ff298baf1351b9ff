package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamanager"
	"github.com/compsweave/taskrt/internal/datamodel"
)

// DataHandler serves a worker's local registers over HTTP so other
// workers' internal/transfer.Provider can pull them as transfer sources (spec §6:
// "each transport backend... the core knows only the interface" — this is
// the worker side of that pull contract).
type DataHandler struct {
	dm  *datamanager.Manager
	log *zap.Logger
}

// NewDataHandler builds a DataHandler over dm.
func NewDataHandler(dm *datamanager.Manager, log *zap.Logger) *DataHandler {
	return &DataHandler{dm: dm, log: log.Named("data_handler")}
}

// RegisterRoutes mounts the data-pull route under r.
func (h *DataHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/data/{dii}", h.getObject)
}

func (h *DataHandler) getObject(w http.ResponseWriter, r *http.Request) {
	dii := datamodel.DII(chi.URLParam(r, "dii"))
	value, err := h.dm.GetObject(dii)
	if err != nil {
		var rerr *datamodel.RuntimeError
		code := http.StatusInternalServerError
		if errors.As(err, &rerr) && rerr.Kind == datamodel.KindDependency {
			code = http.StatusNotFound
		}
		h.log.Warn("data pull failed", zap.String("renaming", string(dii)), zap.Error(err))
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}
