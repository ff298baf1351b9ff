// Package datamanager implements the Worker Data Manager (component A):
// a per-worker subsystem that fetches, caches, copies, and invalidates
// parameter values, preserving or consuming source registers according to
// each parameter's type tag (spec §4.5).
package datamanager

import (
	"sync"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// register is the per-worker record of where one renaming physically
// lives: an in-memory value, one or more files, a storage id, or a
// binding-object handle. Exactly the shapes the type tags in §4.5 need.
type register struct {
	mu sync.Mutex

	renaming datamodel.DII
	local    bool // true once this worker holds a usable copy

	filePaths     []string
	objectValue   []byte
	storageID     string
	bindingHandle string

	sources []datamodel.SourceLocation
}

// Manager is the Worker Data Manager. The registers map is guarded by mu
// (coarse, held only for lookup/insert); value/file-list mutation on a
// found register takes that register's own lock instead, never both at
// once — the two-level locking policy of spec §5.
type Manager struct {
	mu        sync.Mutex
	registers map[datamodel.DII]*register

	inFlight   map[datamodel.DII][]Listener
	inFlightMu sync.Mutex

	workerID           string
	workspaceDir       string
	transfer           TransferProvider
	storage            StorageCollaborator
	allowNonAtomicMove bool
	log                Logger
}

// Logger is the minimal structured-logging surface Manager needs, so this
// package does not force a zap dependency on callers that inject a test
// double.
type Logger interface {
	Warn(msg string, fields ...any)
	Info(msg string, fields ...any)
}

// Options configures a Manager.
type Options struct {
	WorkerID           string
	WorkspaceDir       string
	Transfer           TransferProvider
	Storage            StorageCollaborator // nil disables PSCO support silently
	AllowNonAtomicMove bool
	Log                Logger
}

// New builds a Manager.
func New(opts Options) *Manager {
	return &Manager{
		registers:          make(map[datamodel.DII]*register),
		inFlight:           make(map[datamodel.DII][]Listener),
		workerID:           opts.WorkerID,
		workspaceDir:       opts.WorkspaceDir,
		transfer:           opts.Transfer,
		storage:            opts.Storage,
		allowNonAtomicMove: opts.AllowNonAtomicMove,
		log:                opts.Log,
	}
}

func (m *Manager) getOrCreate(dii datamodel.DII) *register {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registers[dii]
	if !ok {
		r = &register{renaming: dii}
		m.registers[dii] = r
	}
	return r
}

func (m *Manager) lookup(dii datamodel.DII) (*register, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registers[dii]
	return r, ok
}

// removeObsoletes evicts the registers for names, clearing their file
// entries. Idempotent: removing an already-absent name is a no-op
// (spec §4.5 round-trip properties).
func (m *Manager) RemoveObsoletes(names []datamodel.DII) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.registers, n)
	}
}
