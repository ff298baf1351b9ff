package datamanager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// FetchParam satisfies param's data-fetch contract for the value named by
// param.ReadDII, dispatching per type tag (spec §4.5). listener is called
// exactly once, synchronously if the value is already local, asynchronously
// via the TransferProvider otherwise. Duplicate fetches of the same
// renaming attach to the in-flight request rather than issuing a second
// transfer (invariant (i) of §4.5).
func (m *Manager) FetchParam(param *datamodel.Param, idx int, listener Listener) {
	dii := param.ReadDII
	if dii == "" {
		listener.ErrorFetchingValue(dii, datamodel.KindDependency)
		return
	}

	switch param.Type {
	case datamodel.TypeFile:
		m.fetchFile(param, idx, listener)
	case datamodel.TypeObject:
		m.fetchObject(param, idx, listener)
	case datamodel.TypePSCO, datamodel.TypeExternalPSCO:
		m.fetchPSCO(param, idx, listener)
	case datamodel.TypeBindingObject:
		m.fetchBindingObject(param, idx, listener)
	case datamodel.TypeCollection:
		m.fetchCollection(param, idx, listener)
	default:
		// STREAM and primitive values travel inline in param.Value; nothing
		// to fetch.
		listener.FetchedValue(dii)
	}
}

// attachOrTransfer implements the at-most-one-in-flight invariant: if a
// transfer for dii is already running, listener is queued onto it;
// otherwise the caller's transfer closure runs and every queued listener
// fires once it completes.
func (m *Manager) attachOrTransfer(dii datamodel.DII, param *datamodel.Param, idx int, listener Listener) {
	m.inFlightMu.Lock()
	if waiters, inFlight := m.inFlight[dii]; inFlight {
		m.inFlight[dii] = append(waiters, listener)
		m.inFlightMu.Unlock()
		return
	}
	m.inFlight[dii] = []Listener{listener}
	m.inFlightMu.Unlock()

	if m.transfer == nil {
		m.completeInFlight(dii, nil, datamodel.KindTransfer)
		return
	}
	m.transfer.AskForTransfer(param, idx, listenerFunc{
		onFetched: func(renaming datamodel.DII) {
			r := m.getOrCreate(renaming)
			r.mu.Lock()
			r.local = true
			path := filepath.Join(m.workspaceDir, string(renaming))
			if _, err := os.Stat(path); err == nil {
				r.filePaths = append(r.filePaths, path)
			}
			r.mu.Unlock()
			m.completeInFlight(renaming, nil, 0)
		},
		onError: func(renaming datamodel.DII, kind datamodel.ErrorKind) {
			m.completeInFlight(renaming, nil, kind)
		},
	})
}

func (m *Manager) completeInFlight(dii datamodel.DII, _ error, errKind datamodel.ErrorKind) {
	m.inFlightMu.Lock()
	waiters := m.inFlight[dii]
	delete(m.inFlight, dii)
	m.inFlightMu.Unlock()

	for _, w := range waiters {
		if errKind != 0 {
			w.ErrorFetchingValue(dii, errKind)
		} else {
			w.FetchedValue(dii)
		}
	}
}

// fetchFile implements the FILE contract: local path already present ->
// fetchedLocalParameter; else copy/atomic-move from a known local register;
// else transfer (spec §4.5).
func (m *Manager) fetchFile(param *datamodel.Param, idx int, listener Listener) {
	dii := param.ReadDII
	targetPath := m.targetPath(param)

	if _, err := os.Stat(targetPath); err == nil {
		listener.FetchedValue(dii)
		return
	}

	if r, ok := m.lookup(dii); ok {
		r.mu.Lock()
		paths := append([]string(nil), r.filePaths...)
		r.mu.Unlock()
		if len(paths) > 0 {
			preserve := param.Access.Mode != datamodel.W
			if err := m.materializeFile(paths[0], targetPath, preserve); err != nil {
				listener.ErrorFetchingValue(dii, datamodel.KindTransfer)
				return
			}
			m.recordFilePath(dii, targetPath)
			listener.FetchedValue(dii)
			return
		}
	}

	m.attachOrTransfer(dii, param, idx, listener)
}

// materializeFile copies src to dst when preserve is true, otherwise moves
// it, falling back from an atomic rename to a copy-then-remove if the
// filesystem rejects atomic rename across devices — logged as a warning,
// controlled by Manager.allowNonAtomicMove (spec §4.5 open question,
// SPEC_FULL transfer.allowNonAtomicMove).
func (m *Manager) materializeFile(src, dst string, preserve bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if preserve {
		return copyFile(src, dst)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if !m.allowNonAtomicMove {
		return fmt.Errorf("atomic move of %s to %s failed and non-atomic fallback is disabled", src, dst)
	}
	if m.log != nil {
		m.log.Warn("atomic move failed, falling back to copy+remove", "src", src, "dst", dst)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func (m *Manager) targetPath(param *datamodel.Param) string {
	return filepath.Join(m.workspaceDir, string(param.ReadDII))
}

func (m *Manager) recordFilePath(dii datamodel.DII, path string) {
	r := m.getOrCreate(dii)
	r.mu.Lock()
	r.filePaths = append(r.filePaths, path)
	r.local = true
	r.mu.Unlock()
}

// fetchObject implements the OBJECT contract: if the register for
// param.ReadDII is already local the fetch succeeds at once; else
// transfer. The value is not cloned or moved to another renaming.
func (m *Manager) fetchObject(param *datamodel.Param, idx int, listener Listener) {
	dii := param.ReadDII
	if r, ok := m.lookup(dii); ok {
		r.mu.Lock()
		local := r.local
		r.mu.Unlock()
		if local {
			listener.FetchedValue(dii)
			return
		}
	}
	m.attachOrTransfer(dii, param, idx, listener)
}

// fetchPSCO implements the PSCO/EXTERNAL_PSCO contract: the id itself is
// the value, so fetching is registering the storage id and reporting
// success immediately (spec §4.5).
func (m *Manager) fetchPSCO(param *datamodel.Param, idx int, listener Listener) {
	dii := param.ReadDII
	r := m.getOrCreate(dii)
	r.mu.Lock()
	r.storageID = param.StorageID
	r.local = true
	r.mu.Unlock()
	listener.FetchedValue(dii)
}

// fetchBindingObject implements the strict fallback order of §4.5:
// in-process binding cache -> an already-local register for the renaming
// -> load from file -> transfer. No step is skipped. No cached entry is
// copied or moved to another renaming.
func (m *Manager) fetchBindingObject(param *datamodel.Param, idx int, listener Listener) {
	dii := param.ReadDII

	if r, ok := m.lookup(dii); ok {
		r.mu.Lock()
		handle := r.bindingHandle
		r.mu.Unlock()
		if handle != "" {
			listener.FetchedValue(dii)
			return
		}
	}

	if r, ok := m.lookup(dii); ok {
		r.mu.Lock()
		local := r.local
		r.mu.Unlock()
		if local {
			listener.FetchedValue(dii)
			return
		}
	}

	targetPath := m.targetPath(param)
	if _, err := os.Stat(targetPath); err == nil {
		m.recordFilePath(dii, targetPath)
		listener.FetchedValue(dii)
		return
	}

	m.attachOrTransfer(dii, param, idx, listener)
}

// fetchCollection implements the COLLECTION contract: recursively fetch
// every sub-parameter under a composite listener that fires once after all
// children report in, then write the manifest (spec §4.5).
func (m *Manager) fetchCollection(param *datamodel.Param, idx int, listener Listener) {
	dii := param.ReadDII
	children := param.Collection
	if len(children) == 0 {
		listener.FetchedValue(dii)
		return
	}

	composite := newCompositeListener(dii, len(children), listenerFunc{
		onFetched: func(datamodel.DII) {
			if err := m.writeManifest(param); err != nil {
				listener.ErrorFetchingValue(dii, datamodel.KindStorageBackend)
				return
			}
			listener.FetchedValue(dii)
		},
		onError: func(_ datamodel.DII, kind datamodel.ErrorKind) {
			listener.ErrorFetchingValue(dii, kind)
		},
	})

	for i := range children {
		child := &children[i]
		m.FetchParam(child, i, listenerFunc{
			onFetched: func(datamodel.DII) { composite.childDone(nil) },
			onError: func(_ datamodel.DII, kind datamodel.ErrorKind) {
				k := kind
				composite.childDone(&k)
			},
		})
	}
}

// writeManifest writes one "<type-ordinal> <value>" line per child into the
// collection's manifest file (spec §4.5 COLLECTION contract).
func (m *Manager) writeManifest(param *datamodel.Param) error {
	path := m.targetPath(param)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for i := range param.Collection {
		child := &param.Collection[i]
		line := fmt.Sprintf("%d %s\n", int(child.Type), child.ReadDII)
		if _, err := f.WriteString(line); err != nil {
			return err
		}
	}
	return nil
}
