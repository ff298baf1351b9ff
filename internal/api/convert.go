package api

import (
	"fmt"
	"strconv"

	"github.com/compsweave/taskrt/internal/datamodel"
	"github.com/compsweave/taskrt/pkg/wire"
)

var directionByWire = map[string]datamodel.AccessMode{
	"R": datamodel.R, "W": datamodel.W, "RW": datamodel.RW, "C": datamodel.C, "M": datamodel.M,
}

var typeByWire = map[string]datamodel.TypeTag{
	"FILE": datamodel.TypeFile, "OBJECT": datamodel.TypeObject, "PSCO": datamodel.TypePSCO,
	"EXTERNAL_PSCO": datamodel.TypeExternalPSCO, "BINDING_OBJECT": datamodel.TypeBindingObject,
	"COLLECTION": datamodel.TypeCollection, "STREAM": datamodel.TypeStream, "PRIMITIVE": datamodel.TypePrimitive,
}

var streamByWire = map[string]datamodel.StreamRole{
	"": datamodel.StreamNone, "STDIN": datamodel.StreamStdin, "STDOUT": datamodel.StreamStdout, "STDERR": datamodel.StreamStderr,
}

// fromWireSubmission translates a wire.SubmitTask payload into the
// datamodel.Task the Task Analyser expects (spec §6 Inbound: "params[]
// encodes for each: direction, type tag, stream role, prefix,
// original-name, payload").
func fromWireSubmission(body wire.SubmitTask) (*datamodel.Task, error) {
	task := &datamodel.Task{
		App:       datamodel.AppID(body.AppID),
		Group:     body.Group,
		Signature: body.Signature,
		Priority:  body.Priority,
	}

	for _, impl := range body.Implementations {
		task.Implementations = append(task.Implementations, datamodel.ImplementationCandidate{
			ID:         impl.ID,
			WorkerKind: impl.WorkerKind,
			Resources: datamodel.ResourceVector{
				Cores:        impl.Cores,
				MemoryMB:     impl.MemoryMB,
				StorageMB:    impl.StorageMB,
				Accelerators: impl.Accelerators,
			},
			TimeoutMs:      impl.TimeoutMs,
			MaxRetries:     impl.MaxRetries,
			ContainerImage: impl.ContainerImage,
		})
	}

	for _, p := range body.Params {
		param, err := fromWireParam(p)
		if err != nil {
			return nil, err
		}
		task.Params = append(task.Params, param)
	}

	return task, nil
}

func fromWireParam(p wire.ParamWire) (datamodel.Param, error) {
	mode, ok := directionByWire[p.Direction]
	if !ok {
		return datamodel.Param{}, fmt.Errorf("unknown access direction %q", p.Direction)
	}
	typ, ok := typeByWire[p.Type]
	if !ok {
		return datamodel.Param{}, fmt.Errorf("unknown type tag %q", p.Type)
	}
	stream, ok := streamByWire[p.Stream]
	if !ok {
		return datamodel.Param{}, fmt.Errorf("unknown stream role %q", p.Stream)
	}

	did, err := parseDIDFromDII(p.ReadDII, p.WriteDII, p.FormalName)
	if err != nil {
		return datamodel.Param{}, err
	}

	param := datamodel.Param{
		Access:     datamodel.Access{DID: did, Mode: mode},
		Direction:  mode,
		Stream:     stream,
		Prefix:     p.Prefix,
		FormalName: p.FormalName,
		Type:       typ,
		StorageID:  p.StorageID,
		Value:      p.Value,
	}
	for _, s := range p.Sources {
		param.Sources = append(param.Sources, datamodel.SourceLocation{WorkerID: s.WorkerID, FilePath: s.FilePath})
	}
	for _, c := range p.Collection {
		sub, err := fromWireParam(c)
		if err != nil {
			return datamodel.Param{}, err
		}
		param.Collection = append(param.Collection, sub)
	}
	return param, nil
}

// parseDIDFromDII resolves the logical DID a submission references. A
// fresh submission names its data by formal name under the caller's own
// numbering; the language binding is expected to have already called
// registerData and substituted the resulting numeric id into FormalName
// for FILE/OBJECT params, since the wire format carries no separate
// "did" field (spec §6 only names appId/signature/implementations/params).
func parseDIDFromDII(readDII, writeDII, formalName string) (datamodel.DID, error) {
	n, err := strconv.ParseUint(formalName, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("param %q: formal_name must carry the registered data id: %w", formalName, err)
	}
	return datamodel.DID(n), nil
}
