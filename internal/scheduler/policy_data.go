package scheduler

import "github.com/compsweave/taskrt/internal/datamodel"

// DataScheduler favours the worker already holding the most of an
// action's input data, falling back to priority/FIFO among ties (§4.4
// Variants).
type DataScheduler struct{}

func NewDataScheduler() *DataScheduler { return &DataScheduler{} }

func (DataScheduler) Score(action *datamodel.Task, worker *WorkerView, impl *datamodel.ImplementationCandidate, profile *Profile) Score {
	bytes, count := dataLocalityScore(action, worker)
	return Score{
		Priority:          action.Priority,
		DataLocality:       bytes,
		DataLocalityCount: count,
		Resource:          resourceScore(worker.Available(), impl.Resources),
		Implementation:    implementationScore(action, worker, profile),
	}
}

func (DataScheduler) OnActionReady(action *datamodel.Task) {}

func (DataScheduler) OnActionEnd(action *datamodel.Task, worker *WorkerView, success bool) {}

// dataLocalityScore is the sum over action's read parameters of
// size(param) if present on worker, else 0 (§4.4 dataLocalityScore). The
// returned count of present params is used only to break ties when two
// workers hold an equal number of bytes.
func dataLocalityScore(action *datamodel.Task, worker *WorkerView) (bytes float64, count int) {
	for i := range action.Params {
		p := &action.Params[i]
		for _, f := range p.Flatten() {
			if !f.Access.Mode.ReadsData() || f.ReadDII == "" {
				continue
			}
			size, ok := worker.Present[f.ReadDII]
			if !ok {
				continue
			}
			bytes += float64(size)
			count++
		}
	}
	return bytes, count
}
