// Package ids allocates the process-unique identifiers the runtime needs:
// DIDs, task ids and application ids. DID/task-id allocation is a simple
// atomic counter (the Data Info Provider is the sole writer, per §5);
// renamings are formatted from the DID and version; app and worker ids
// use github.com/google/uuid the way the teacher mints Provider.ID and
// Task.ID.
package ids

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/compsweave/taskrt/internal/datamodel"
)

// Allocator hands out monotonically increasing DIDs and task ids.
type Allocator struct {
	nextDID  atomic.Uint64
	nextTask atomic.Uint64
}

// NewAllocator returns an Allocator starting both counters at 1 (0 is
// reserved as "no id").
func NewAllocator() *Allocator {
	return &Allocator{}
}

// NewDID allocates a fresh, process-unique DID.
func (a *Allocator) NewDID() datamodel.DID {
	return datamodel.DID(a.nextDID.Add(1))
}

// NewTaskID allocates a fresh, process-unique TaskID.
func (a *Allocator) NewTaskID() datamodel.TaskID {
	return datamodel.TaskID(a.nextTask.Add(1))
}

// NewAppID mints a fresh application id.
func NewAppID() datamodel.AppID {
	return datamodel.AppID(uuid.New().String())
}

// Renaming builds the `d<did>_v<ver>` opaque renaming string for a DV. The
// exact format is not externally visible by contract (§4.1 Policies) but
// must be stable within a process.
func Renaming(dv datamodel.DV) datamodel.DII {
	return datamodel.DII(fmt.Sprintf("d%d_v%d", dv.DID, dv.Version))
}

// NewWorkerID mints a fresh worker registration id for discovery.
func NewWorkerID() string {
	return uuid.New().String()
}
