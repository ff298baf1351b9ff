package runtime

import (
	"strconv"

	"github.com/compsweave/taskrt/internal/datamodel"
	"github.com/compsweave/taskrt/pkg/wire"
)

// toWireJobDispatch builds the outbound job message for task, already
// placed on impl (spec §6 Outbound: "renamings, source locations,
// implementation, sandbox path, tracing flags").
func toWireJobDispatch(task *datamodel.Task, impl *datamodel.ImplementationCandidate) wire.JobDispatch {
	msg := wire.JobDispatch{
		TaskID:    uint64(task.ID),
		AppID:     string(task.App),
		Signature: task.Signature,
		Implementation: wire.ImplementationWire{
			ID:             impl.ID,
			WorkerKind:     impl.WorkerKind,
			Cores:          impl.Resources.Cores,
			MemoryMB:       impl.Resources.MemoryMB,
			StorageMB:      impl.Resources.StorageMB,
			Accelerators:   impl.Resources.Accelerators,
			TimeoutMs:      impl.TimeoutMs,
			MaxRetries:     impl.MaxRetries,
			ContainerImage: impl.ContainerImage,
		},
		SandboxPath:  sandboxPath(task),
		DispatchedAt: now(),
	}
	for _, p := range task.Params {
		msg.Params = append(msg.Params, toWireParam(p))
	}
	return msg
}

func toWireParam(p datamodel.Param) wire.ParamWire {
	w := wire.ParamWire{
		Direction:  p.Direction.String(),
		Type:       p.Type.String(),
		Stream:     p.Stream.String(),
		Prefix:     p.Prefix,
		FormalName: p.FormalName,
		ReadDII:    string(p.ReadDII),
		WriteDII:   string(p.WriteDII),
		StorageID:  p.StorageID,
		Value:      p.Value,
	}
	for _, s := range p.Sources {
		w.Sources = append(w.Sources, wire.SourceRef{WorkerID: s.WorkerID, FilePath: s.FilePath})
	}
	for _, c := range p.Collection {
		w.Collection = append(w.Collection, toWireParam(c))
	}
	return w
}

// sandboxPath names the per-task workspace directory a worker executes
// the job under, keyed by signature and task id so distinct tasks never
// share one; every attempt of the same task uses the same directory.
func sandboxPath(task *datamodel.Task) string {
	return "task-" + task.Signature + "-" + strconv.FormatUint(uint64(task.ID), 10)
}
