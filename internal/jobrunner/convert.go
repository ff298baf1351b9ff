// Package jobrunner is the worker-side counterpart to internal/runtime: it
// takes one wire.JobDispatch, drives the Worker Data Manager to fetch its
// inputs, runs the task through an internal/executor.Executor, stores its
// outputs, and reports a wire.Completion back to the master (spec §5/§6).
package jobrunner

import (
	"fmt"

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

// fromWireParam mirrors internal/api's wire-to-domain param conversion for
// the dispatch message's direction, grounded the same way (spec §6
// Outbound): the wire shape carries exactly what §4.5's type-tag
// dispatch table needs.
func fromWireParam(p wire.ParamWire) (datamodel.Param, error) {
	mode, ok := directionByWire[p.Direction]
	if !ok {
		return datamodel.Param{}, fmt.Errorf("jobrunner: unknown access direction %q", p.Direction)
	}
	typ, ok := typeByWire[p.Type]
	if !ok {
		return datamodel.Param{}, fmt.Errorf("jobrunner: unknown type tag %q", p.Type)
	}
	stream, ok := streamByWire[p.Stream]
	if !ok {
		return datamodel.Param{}, fmt.Errorf("jobrunner: unknown stream role %q", p.Stream)
	}

	param := datamodel.Param{
		Direction:  mode,
		Stream:     stream,
		Prefix:     p.Prefix,
		FormalName: p.FormalName,
		Type:       typ,
		ReadDII:    datamodel.DII(p.ReadDII),
		WriteDII:   datamodel.DII(p.WriteDII),
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

