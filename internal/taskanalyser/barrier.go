package taskanalyser

import (
	"context"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// Barrier blocks the caller until every task app registered before the
// call is in a terminal state (§4.2).
func (a *Analyser) Barrier(ctx context.Context, app datamodel.AppID) error {
	wait, done := a.registerAppWaiter(app)
	if done {
		return nil
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BarrierGroup is Barrier scoped to a user-defined group within app.
func (a *Analyser) BarrierGroup(ctx context.Context, app datamodel.AppID, group string) error {
	wait, done := a.registerGroupWaiter(app, group)
	if done {
		return nil
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Analyser) registerAppWaiter(app datamodel.AppID) (<-chan struct{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.appPending[app] <= 0 {
		return nil, true
	}
	ch := make(chan struct{})
	a.appWaiters[app] = append(a.appWaiters[app], ch)
	return ch, false
}

func (a *Analyser) registerGroupWaiter(app datamodel.AppID, group string) (<-chan struct{}, bool) {
	key := groupKey(app, group)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.groupPending[key] <= 0 {
		return nil, true
	}
	ch := make(chan struct{})
	a.groupWaiters[key] = append(a.groupWaiters[key], ch)
	return ch, false
}

// fireAppWaiters closes and clears every registered waiter for app. Must
// be called with the lock held.
func (a *Analyser) fireAppWaiters(app datamodel.AppID) {
	for _, ch := range a.appWaiters[app] {
		close(ch)
	}
	delete(a.appWaiters, app)
}

func (a *Analyser) fireGroupWaiters(key string) {
	for _, ch := range a.groupWaiters[key] {
		close(ch)
	}
	delete(a.groupWaiters, key)
}

// FindWaitedTask implements the semaphore-style notification used by a
// synchronous user-thread read of did: it pins did's latest version and
// waits for the producing task's write to commit (§4.2).
func (a *Analyser) FindWaitedTask(ctx context.Context, did datamodel.DID) error {
	_, ticket, err := a.dip.BlockDataAndGetResultFile(did)
	if err != nil {
		return err
	}
	return ticket.Await(ctx)
}

// FindWaitedConcurrent waits until all concurrent-mode accesses to did
// have finished, delegating to the Data Info Provider (§4.2, §4.1).
func (a *Analyser) FindWaitedConcurrent(ctx context.Context, did datamodel.DID) error {
	return a.dip.FindWaitedConcurrent(ctx, did)
}

// CancelApplication transitions every pending task of app to CANCELLED and
// notifies waiters (§4.2).
func (a *Analyser) CancelApplication(app datamodel.AppID) {
	a.mu.Lock()
	ids := append([]datamodel.TaskID(nil), a.appTasks[app]...)
	a.mu.Unlock()

	for _, id := range ids {
		a.CancelTask(id)
	}
}
