package scheduler

import (
	"sort"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// WorkerView is the Scheduler's view of one worker: what it is running,
// its local queue, its declared capacity, and the data it is known to
// hold (for data-locality scoring) (§4.4).
type WorkerView struct {
	ID       string
	Kind     string
	Total    datamodel.ResourceVector
	Used     datamodel.ResourceVector
	Running  map[datamodel.TaskID]*datamodel.Task
	Local    []*datamodel.Task // localQueue: actions placed but not yet RUNNING
	Present  map[datamodel.DII]int64 // renaming -> size in bytes, for locality scoring
	Degraded bool
}

// NewWorkerView builds a WorkerView with the given declared capacity.
func NewWorkerView(id, kind string, total datamodel.ResourceVector) *WorkerView {
	return &WorkerView{
		ID:      id,
		Kind:    kind,
		Total:   total,
		Running: make(map[datamodel.TaskID]*datamodel.Task),
		Present: make(map[datamodel.DII]int64),
	}
}

// Available returns the unused slice of each resource dimension.
func (w *WorkerView) Available() datamodel.ResourceVector {
	return datamodel.ResourceVector{
		Cores:        w.Total.Cores - w.Used.Cores,
		MemoryMB:     w.Total.MemoryMB - w.Used.MemoryMB,
		StorageMB:    w.Total.StorageMB - w.Used.StorageMB,
		Accelerators: w.Total.Accelerators - w.Used.Accelerators,
	}
}

// Fits reports whether req can be satisfied by this worker's currently
// free resources.
func (w *WorkerView) Fits(req datamodel.ResourceVector) bool {
	avail := w.Available()
	return avail.Cores >= req.Cores &&
		avail.MemoryMB >= req.MemoryMB &&
		avail.StorageMB >= req.StorageMB &&
		avail.Accelerators >= req.Accelerators
}

func (w *WorkerView) reserve(req datamodel.ResourceVector) {
	w.Used.Cores += req.Cores
	w.Used.MemoryMB += req.MemoryMB
	w.Used.StorageMB += req.StorageMB
	w.Used.Accelerators += req.Accelerators
}

func (w *WorkerView) release(req datamodel.ResourceVector) {
	w.Used.Cores -= req.Cores
	w.Used.MemoryMB -= req.MemoryMB
	w.Used.StorageMB -= req.StorageMB
	w.Used.Accelerators -= req.Accelerators
}

// resourceScore is min_i(available_i / requested_i) across the requested
// vector's nonzero dimensions (§4.4 resourceScore), higher when the
// worker has more slack relative to what is asked.
func resourceScore(avail, req datamodel.ResourceVector) float64 {
	best := -1.0
	consider := func(a, r float64) {
		if r <= 0 {
			return
		}
		ratio := a / r
		if best < 0 || ratio < best {
			best = ratio
		}
	}
	consider(avail.Cores, req.Cores)
	consider(avail.MemoryMB, req.MemoryMB)
	consider(avail.StorageMB, req.StorageMB)
	consider(avail.Accelerators, req.Accelerators)
	if best < 0 {
		return 0
	}
	return best
}

// sortedWorkerIDs returns worker ids in lexicographic order, used to break
// ties deterministically (§4.4 Placement policy).
func sortedWorkerIDs(workers map[string]*WorkerView) []string {
	ids := make([]string, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
