package datamanager

import (
	"fmt"
	"os"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// LoadParam rehydrates the in-memory value for param.ReadDII just before
// execution: a final cache lookup after any pending transfer has already
// completed (spec §4.5).
func (m *Manager) LoadParam(param *datamodel.Param) ([]byte, error) {
	dii := param.ReadDII
	if dii == "" && len(param.Value) > 0 {
		return param.Value, nil
	}

	r, ok := m.lookup(dii)
	if !ok {
		return nil, datamodel.NewRuntimeError(datamodel.KindDependency, fmt.Errorf("loadParam: no register for %s", dii))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.local {
		return nil, datamodel.NewRuntimeError(datamodel.KindTransfer, fmt.Errorf("loadParam: %s not yet local", dii))
	}

	switch {
	case r.storageID != "" && m.storage != nil:
		v, err := m.storage.GetByID(r.storageID)
		if err != nil {
			return nil, datamodel.NewRuntimeError(datamodel.KindStorageBackend, err)
		}
		return v, nil
	case len(r.objectValue) > 0:
		return r.objectValue, nil
	case len(r.filePaths) > 0:
		b, err := os.ReadFile(r.filePaths[0])
		if err != nil {
			return nil, datamodel.NewRuntimeError(datamodel.KindTransfer, err)
		}
		return b, nil
	default:
		return nil, datamodel.NewRuntimeError(datamodel.KindDependency, fmt.Errorf("loadParam: %s has no materialized value", dii))
	}
}

// StoreParam publishes a produced value into the registry for
// param.WriteDII: an object value, a file path, or a binding handle,
// depending on param.Type (spec §4.5).
func (m *Manager) StoreParam(param *datamodel.Param, value []byte) error {
	dii := param.WriteDII
	if dii == "" {
		return datamodel.NewRuntimeError(datamodel.KindDependency, fmt.Errorf("storeParam: no write renaming for param"))
	}

	r := m.getOrCreate(dii)
	r.mu.Lock()
	defer r.mu.Unlock()

	switch param.Type {
	case datamodel.TypeFile:
		path := m.targetPath(&datamodel.Param{ReadDII: dii})
		if err := os.WriteFile(path, value, 0o644); err != nil {
			return datamodel.NewRuntimeError(datamodel.KindStorageBackend, err)
		}
		r.filePaths = []string{path}
	case datamodel.TypeBindingObject:
		r.bindingHandle = string(value)
	case datamodel.TypePSCO, datamodel.TypeExternalPSCO:
		r.storageID = param.StorageID
	default:
		r.objectValue = value
	}
	r.local = true
	return nil
}

// GetObject is a synchronous lookup that loads from disk/storage if
// needed, the Data Manager's external query surface (spec §4.5).
func (m *Manager) GetObject(dataMgmtID datamodel.DII) ([]byte, error) {
	return m.LoadParam(&datamodel.Param{ReadDII: dataMgmtID})
}
