package discovery

import (
	"context"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// WorkerObserver is the Scheduler's half of the discovery contract: new
// healthy instances fire WorkerJoined, instances that drop out of the
// healthy set fire WorkerLeft (spec §4.4 workerAdded/workerRemoved).
type WorkerObserver interface {
	WorkerJoined(entry *consulapi.ServiceEntry)
	WorkerLeft(workerID string)
}

// Watcher polls Consul's health-checked service catalog for ServiceName
// and diffs it against the last known healthy set, using blocking queries
// so it only wakes on a catalog change (the teacher's DiscoverService,
// extended with Consul's WaitIndex blocking-query mechanism for a push-like
// watch instead of a tight poll loop).
type Watcher struct {
	client   *consulapi.Client
	observer WorkerObserver
	log      *zap.Logger
	known    map[string]struct{}
}

func NewWatcher(client *consulapi.Client, observer WorkerObserver, log *zap.Logger) *Watcher {
	return &Watcher{client: client, observer: observer, log: log, known: make(map[string]struct{})}
}

// Run blocks until ctx is cancelled, firing WorkerJoined/WorkerLeft as the
// healthy set changes.
func (w *Watcher) Run(ctx context.Context) {
	var waitIndex uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, meta, err := w.client.Health().Service(ServiceName, "", true, &consulapi.QueryOptions{
			WaitIndex: waitIndex,
			WaitTime:  30 * time.Second,
		})
		if err != nil {
			w.log.Warn("discovery watch query failed, backing off", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		waitIndex = meta.LastIndex

		seen := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			id := e.Service.ID
			seen[id] = struct{}{}
			if _, ok := w.known[id]; !ok {
				w.observer.WorkerJoined(e)
			}
		}
		for id := range w.known {
			if _, ok := seen[id]; !ok {
				w.observer.WorkerLeft(id)
			}
		}
		w.known = seen
	}
}
