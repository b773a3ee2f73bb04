package listing

import (
	"cmp"
	"fmt"
)

// MnemonicOperand is the operand index used for references attached to
// the instruction as a whole, such as flow references.
const MnemonicOperand = -1

// RefType is the kind of a reference.
type RefType int

const (
	RefData RefType = iota
	RefRead
	RefWrite
	RefReadWrite
	RefConditionalJump
	RefUnconditionalJump
	RefConditionalCall
	RefUnconditionalCall
	RefComputedJump
	RefComputedCall
)

var refTypeNames = [...]string{
	RefData:              "data",
	RefRead:              "data-read",
	RefWrite:             "data-write",
	RefReadWrite:         "data-rw",
	RefConditionalJump:   "cond-jump",
	RefUnconditionalJump: "jump",
	RefConditionalCall:   "cond-call",
	RefUnconditionalCall: "call",
	RefComputedJump:      "computed-jump",
	RefComputedCall:      "computed-call",
}

func (t RefType) String() string {
	if t >= 0 && int(t) < len(refTypeNames) {
		return refTypeNames[t]
	}
	return fmt.Sprintf("RefType(%d)", int(t))
}

func (t RefType) IsFlow() bool {
	return t >= RefConditionalJump
}

// ParseRefType converts the textual form used in project files.
func ParseRefType(s string) (RefType, error) {
	for i, name := range refTypeNames {
		if name == s {
			return RefType(i), nil
		}
	}
	return RefData, fmt.Errorf("unknown reference type %q", s)
}

// refTypeForFlow maps an instruction flow type to the type of the
// reference created for its static targets.
func refTypeForFlow(f FlowType) (RefType, bool) {
	switch f {
	case FlowConditionalJump:
		return RefConditionalJump, true
	case FlowUnconditionalJump:
		return RefUnconditionalJump, true
	case FlowConditionalCall:
		return RefConditionalCall, true
	case FlowUnconditionalCall, FlowCallTerminator:
		return RefUnconditionalCall, true
	case FlowComputedJump:
		return RefComputedJump, true
	case FlowComputedCall, FlowComputedCallTerminator:
		return RefComputedCall, true
	}
	return RefData, false
}

// SourceType records who created a reference.
type SourceType int

const (
	// SourceDefault references are produced by the program itself when an
	// instruction is created and are regenerated whenever it is recreated.
	SourceDefault SourceType = iota
	SourceAnalysis
	SourceImported
	SourceUserDefined
)

var sourceTypeNames = [...]string{
	SourceDefault:     "default",
	SourceAnalysis:    "analysis",
	SourceImported:    "imported",
	SourceUserDefined: "user",
}

func (s SourceType) String() string {
	if s >= 0 && int(s) < len(sourceTypeNames) {
		return sourceTypeNames[s]
	}
	return fmt.Sprintf("SourceType(%d)", int(s))
}

// ParseSourceType converts the textual form used in project files.
// The empty string is SourceUserDefined.
func ParseSourceType(s string) (SourceType, error) {
	if s == "" {
		return SourceUserDefined, nil
	}
	for i, name := range sourceTypeNames {
		if name == s {
			return SourceType(i), nil
		}
	}
	return SourceDefault, fmt.Errorf("unknown source type %q", s)
}

// Reference is a directed edge from an operand of the code at From to an
// address or a register. A register reference has a non-empty Register
// and ignores To.
type Reference struct {
	From     Address
	To       Address
	Register string
	Operand  int
	Type     RefType
	Source   SourceType
}

type refKey struct {
	to       Address
	register string
	operand  int
}

func (r Reference) key() refKey {
	if r.Register != "" {
		return refKey{register: r.Register, operand: r.Operand}
	}
	return refKey{to: r.To, operand: r.Operand}
}

func (r Reference) String() string {
	to := r.To.String()
	if r.Register != "" {
		to = r.Register
	}
	return fmt.Sprintf("%s -> %s [%s, %s, op %d]", r.From, to, r.Type, r.Source, r.Operand)
}

func compareReferences(a, b Reference) int {
	if c := cmp.Compare(a.From, b.From); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Operand, b.Operand); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Register, b.Register); c != 0 {
		return c
	}
	return cmp.Compare(a.To, b.To)
}
