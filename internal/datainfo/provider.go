// Package datainfo implements the Data Info Provider (component B): the
// global versioned data registry that allocates data instance ids,
// advances versions on writes, and resolves reads to concrete producers
// (spec §4.1). It is called by the Task Analyser and directly by the
// Runtime's file RPCs, from more than one goroutine, so its state is
// guarded by one mutex taken for the whole duration of each call rather
// than fine-grained per-field locking.
package datainfo

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamodel"
	"github.com/compsweave/taskrt/internal/ids"
)

// version is one entry in a DID's version chain.
type version struct {
	num         datamodel.Version
	dii         datamodel.DII
	readerCount int
	invalidated bool
	committed   bool // true once the producing task's endTask has run

	// sharedMode is set when this version is the live target of a
	// concurrent (C) or commutative (M) write group; sharedPending counts
	// the writers still in flight.
	sharedMode    datamodel.AccessMode
	isShared      bool
	sharedPending int

	drained     chan struct{}
	drainedOnce sync.Once
}

func (v *version) closeDrained() {
	v.drainedOnce.Do(func() { close(v.drained) })
}

// chain is the per-DID version list.
type chain struct {
	did      datamodel.DID
	versions []*version
	deleted  bool
}

func (c *chain) latest() *version {
	if len(c.versions) == 0 {
		return nil
	}
	return c.versions[len(c.versions)-1]
}

// Provider is the Data Info Provider.
type Provider struct {
	alloc *ids.Allocator
	log   *zap.Logger

	mu     sync.Mutex
	chains map[datamodel.DID]*chain
	byDII  map[datamodel.DII]*version
	diiDID map[datamodel.DII]datamodel.DID
}

// New builds a Provider that mints renamings through alloc.
func New(alloc *ids.Allocator, log *zap.Logger) *Provider {
	return &Provider{
		alloc:  alloc,
		log:    log,
		chains: make(map[datamodel.DID]*chain),
		byDII:  make(map[datamodel.DII]*version),
		diiDID: make(map[datamodel.DII]datamodel.DID),
	}
}

// NewData allocates a fresh DID and registers an (initially version-less)
// chain for it, implementing "DIDs are created on first access" (§3
// Lifecycles). Call this once per logical file path / object handle the
// first time the runtime sees it.
func (p *Provider) NewData() datamodel.DID {
	did := p.alloc.NewDID()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains[did] = &chain{did: did}
	return did
}

// DataHasBeenAccessed reports whether did has at least one version.
func (p *Provider) DataHasBeenAccessed(did datamodel.DID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chains[did]
	return ok && len(c.versions) > 0
}

// RegisterAccess allocates/resolves DIIs for access per §4.1.
func (p *Provider) RegisterAccess(app datamodel.AppID, acc datamodel.Access) (datamodel.AccessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.chains[acc.DID]
	if !ok || c.deleted {
		return datamodel.AccessResult{}, fmt.Errorf("registerAccess %s on did %d: %w", acc.Mode, acc.DID, datamodel.ErrUnknownData)
	}

	var res datamodel.AccessResult

	switch acc.Mode {
	case datamodel.R:
		last := c.latest()
		if last == nil {
			return res, fmt.Errorf("registerAccess R on did %d: %w (no version produced yet)", acc.DID, datamodel.ErrUnknownData)
		}
		last.readerCount++
		res.ReadDII, res.HasRead = last.dii, true

	case datamodel.W:
		pred := c.latest()
		nv := p.appendVersion(c)
		if pred != nil {
			// Pure W: no reader will ever need the predecessor again.
			pred.invalidated = true
			pred.closeDrained()
		}
		res.WriteDII, res.HasWrite = nv.dii, true

	case datamodel.RW:
		pred := c.latest()
		if pred == nil {
			return res, fmt.Errorf("registerAccess RW on did %d: %w (no version to read)", acc.DID, datamodel.ErrUnknownData)
		}
		pred.readerCount++
		res.ReadDII, res.HasRead = pred.dii, true
		nv := p.appendVersion(c)
		res.WriteDII, res.HasWrite = nv.dii, true

	case datamodel.C, datamodel.M:
		if last := c.latest(); last != nil && !last.isShared {
			last.readerCount++
			res.ReadDII, res.HasRead = last.dii, true
		} else if last != nil && last.isShared {
			// A C/M-reader following an in-flight shared group observes
			// the group's own (not-yet-committed) version as its read
			// side, matching "C-readers see the final merged version".
			res.ReadDII, res.HasRead = last.dii, true
		}
		target := c.latest()
		if target == nil || !target.isShared {
			target = p.appendVersion(c)
			target.isShared = true
			target.sharedMode = acc.Mode
		}
		target.sharedPending++
		res.WriteDII, res.HasWrite = target.dii, true

	default:
		return res, fmt.Errorf("registerAccess: unknown access mode %v", acc.Mode)
	}

	return res, nil
}

func (p *Provider) appendVersion(c *chain) *version {
	num := datamodel.Version(len(c.versions) + 1)
	dv := datamodel.DV{DID: c.did, Version: num}
	dii := ids.Renaming(dv)
	v := &version{num: num, dii: dii, drained: make(chan struct{})}
	c.versions = append(c.versions, v)
	p.byDII[dii] = v
	p.diiDID[dii] = c.did
	return v
}

// FinishAccess decrements the reader count for dii; if the count reaches
// zero and a newer version exists, the version is marked obsolete.
// Double-finish is idempotent (§4.1 Failure).
func (p *Provider) FinishAccess(dii datamodel.DII) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.byDII[dii]
	if !ok {
		p.log.Warn("finishAccess on unknown renaming, treated as idempotent no-op", zap.String("dii", string(dii)))
		return
	}

	did := p.diiDID[dii]
	c := p.chains[did]

	if v.isShared && v.sharedPending > 0 {
		v.sharedPending--
		if v.sharedPending == 0 {
			// The shared group has drained: the version is now committed
			// and becomes the stable latest; any predecessor is obsolete.
			v.committed = true
			v.closeDrained()
			if idx := indexOf(c, v); idx > 0 {
				pred := c.versions[idx-1]
				if pred.readerCount == 0 {
					pred.invalidated = true
					pred.closeDrained()
				}
			}
		}
		return
	}

	if v.readerCount > 0 {
		v.readerCount--
	}
	if v.readerCount == 0 && !v.isLatestLocked(c) {
		v.invalidated = true
		v.closeDrained()
	}
}

func (v *version) isLatestLocked(c *chain) bool {
	return len(c.versions) > 0 && c.versions[len(c.versions)-1] == v
}

func indexOf(c *chain, v *version) int {
	for i, e := range c.versions {
		if e == v {
			return i
		}
	}
	return -1
}

// MarkProduced commits a write renaming once its producing task finishes
// successfully. Not part of the externally visible §4.1 surface by name,
// but required to implement endTask's "mark the data produced" effect
// (§4.2) without conflating it with FinishAccess's reader bookkeeping.
func (p *Provider) MarkProduced(dii datamodel.DII) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.byDII[dii]; ok {
		v.committed = true
		v.closeDrained()
	}
}

// InvalidateWrite marks a write renaming as never-published, implementing
// endTask's success=false branch (§4.2) and the cancellation invariant of
// §8 property 6.
func (p *Provider) InvalidateWrite(dii datamodel.DII) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.byDII[dii]; ok {
		v.invalidated = true
		v.committed = false
		v.closeDrained()
	}
}

// DeleteData marks all versions of did obsolete; backing storage eviction
// is left to the caller once outstanding readers drain (§4.1).
func (p *Provider) DeleteData(did datamodel.DID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chains[did]
	if !ok {
		return fmt.Errorf("deleteData on did %d: %w", did, datamodel.ErrUnknownData)
	}
	for _, v := range c.versions {
		v.invalidated = true
		v.closeDrained()
	}
	c.deleted = true
	return nil
}

// WaitTicket is returned by BlockDataAndGetResultFile; the caller Awaits it
// before touching the backing file/value.
type WaitTicket struct {
	ready <-chan struct{}
}

// Await blocks until the pinned version is committed (or ctx is done).
func (t WaitTicket) Await(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlockDataAndGetResultFile pins the latest version of did (incrementing
// its reader count) and returns a ticket the caller awaits, implementing
// synchronous user-thread reads (§4.1).
func (p *Provider) BlockDataAndGetResultFile(did datamodel.DID) (datamodel.DII, WaitTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chains[did]
	if !ok {
		return "", WaitTicket{}, fmt.Errorf("blockDataAndGetResultFile on did %d: %w", did, datamodel.ErrUnknownData)
	}
	last := c.latest()
	if last == nil {
		return "", WaitTicket{}, fmt.Errorf("blockDataAndGetResultFile on did %d: %w (no version yet)", did, datamodel.ErrUnknownData)
	}
	last.readerCount++
	return last.dii, WaitTicket{ready: last.drained0OrCommitted()}, nil
}

// drained0OrCommitted returns an already-closed channel for a version
// that is already committed, else the version's own drained channel —
// closed once its producing task commits it (MarkProduced) or, for a
// shared write group, once the group finishes draining.
func (v *version) drained0OrCommitted() <-chan struct{} {
	if v.committed {
		done := make(chan struct{})
		close(done)
		return done
	}
	return v.drained
}

// WaitForDataReadyToDelete is called before a filesystem-level deletion
// (§4.1). It blocks until ticket is ready, i.e. until the pinned version
// is committed or invalidated; it does not wait for other readers of that
// version to finish.
func (p *Provider) WaitForDataReadyToDelete(ctx context.Context, did datamodel.DID, ticket WaitTicket) error {
	return ticket.Await(ctx)
}

// FindWaitedConcurrent blocks until all concurrent-mode accesses to did
// have finished (§4.1, §4.2 edge case C).
func (p *Provider) FindWaitedConcurrent(ctx context.Context, did datamodel.DID) error {
	p.mu.Lock()
	c, ok := p.chains[did]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("findWaitedConcurrent on did %d: %w", did, datamodel.ErrUnknownData)
	}
	last := c.latest()
	p.mu.Unlock()
	if last == nil || !last.isShared {
		return nil
	}
	select {
	case <-last.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
