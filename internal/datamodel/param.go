package datamodel

// StreamRole binds a parameter to a standard stream, or none.
type StreamRole int

const (
	StreamNone StreamRole = iota
	StreamStdin
	StreamStdout
	StreamStderr
)

func (s StreamRole) String() string {
	switch s {
	case StreamStdin:
		return "STDIN"
	case StreamStdout:
		return "STDOUT"
	case StreamStderr:
		return "STDERR"
	default:
		return ""
	}
}

// TypeTag is the tagged-variant kind of a parameter (§9: polymorphism over
// parameter kinds lives in a handler table keyed by this tag, not via
// inheritance).
type TypeTag int

const (
	TypeFile TypeTag = iota
	TypeObject
	TypePSCO
	TypeExternalPSCO
	TypeBindingObject
	TypeCollection
	TypeStream
	TypePrimitive
)

func (t TypeTag) String() string {
	switch t {
	case TypeFile:
		return "FILE"
	case TypeObject:
		return "OBJECT"
	case TypePSCO:
		return "PSCO"
	case TypeExternalPSCO:
		return "EXTERNAL_PSCO"
	case TypeBindingObject:
		return "BINDING_OBJECT"
	case TypeCollection:
		return "COLLECTION"
	case TypeStream:
		return "STREAM"
	case TypePrimitive:
		return "PRIMITIVE"
	default:
		return "UNKNOWN"
	}
}

// Param is one formal parameter of a task invocation: an access plus role
// metadata (§3).
type Param struct {
	Access       Access
	Direction    AccessMode
	Stream       StreamRole
	Prefix       string
	FormalName   string
	Type         TypeTag
	Sources      []SourceLocation // known worker-side locations, for transfer
	StorageID    string           // populated for PSCO/EXTERNAL_PSCO
	Collection   []Param          // ordered sub-parameters, when Type == TypeCollection
	Value        []byte           // inline serialized payload, for primitives/small objects

	// Resolved at registerAccess time; empty until the Task Analyser fills
	// them in.
	ReadDII  DII
	WriteDII DII
}

// SourceLocation names a worker that is known to hold a live copy of a
// renaming, used by the transfer provider collaborator (§6).
type SourceLocation struct {
	WorkerID string
	FilePath string
}

// Flatten returns the parameter tree as a flat slice in depth-first order,
// used to compute collection dependencies element-wise (§4.2 edge cases).
func (p *Param) Flatten() []*Param {
	if p.Type != TypeCollection {
		return []*Param{p}
	}
	out := make([]*Param, 0, len(p.Collection))
	for i := range p.Collection {
		out = append(out, p.Collection[i].Flatten()...)
	}
	return out
}
