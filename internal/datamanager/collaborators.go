package datamanager

import (
	"sync"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// Listener is the fetchParam completion callback (spec §4.5, §6 Data
// Provider collaborator). Exactly one of the two methods is called once
// per fetch.
type Listener interface {
	FetchedValue(renaming datamodel.DII)
	ErrorFetchingValue(renaming datamodel.DII, kind datamodel.ErrorKind)
}

// TransferProvider is the Data Provider collaborator of spec §6:
// askForTransfer pulls renaming onto this worker from any source in
// param.Sources.
type TransferProvider interface {
	AskForTransfer(param *datamodel.Param, idx int, listener Listener)
}

// StorageCollaborator is the pluggable PSCO backend of spec §6. A nil
// StorageCollaborator disables PSCO support silently.
type StorageCollaborator interface {
	Init(cfgPath string) error
	Finish() error
	GetByID(pscoID string) ([]byte, error)
	NewReplica(pscoID, host string) error
	NewVersion(pscoID string) (string, error)
}

// listenerFunc adapts two closures into a Listener.
type listenerFunc struct {
	onFetched func(datamodel.DII)
	onError   func(datamodel.DII, datamodel.ErrorKind)
}

func (f listenerFunc) FetchedValue(renaming datamodel.DII) { f.onFetched(renaming) }
func (f listenerFunc) ErrorFetchingValue(renaming datamodel.DII, kind datamodel.ErrorKind) {
	f.onError(renaming, kind)
}

// compositeListener is the "all children must succeed" listener used by
// fetchCollection (spec §4.5 COLLECTION contract): it fires the wrapped
// listener exactly once, after every child has reported in, taking the
// first error if any.
type compositeListener struct {
	mu        sync.Mutex
	remaining int
	renaming  datamodel.DII
	inner     Listener
	firstErr  *datamodel.ErrorKind
}

func newCompositeListener(renaming datamodel.DII, n int, inner Listener) *compositeListener {
	return &compositeListener{remaining: n, renaming: renaming, inner: inner}
}

func (c *compositeListener) childDone(err *datamodel.ErrorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && c.firstErr == nil {
		c.firstErr = err
	}
	c.remaining--
	if c.remaining > 0 {
		return
	}
	if c.firstErr != nil {
		c.inner.ErrorFetchingValue(c.renaming, *c.firstErr)
		return
	}
	c.inner.FetchedValue(c.renaming)
}
