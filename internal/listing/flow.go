package listing

import "fmt"

// FlowType classifies how control leaves an instruction.
type FlowType int

const (
	FlowFallThrough FlowType = iota
	FlowConditionalJump
	FlowUnconditionalJump
	FlowConditionalCall
	FlowUnconditionalCall
	FlowComputedJump
	FlowComputedCall
	FlowCallTerminator
	FlowComputedCallTerminator
	FlowTerminator
)

var flowTypeNames = [...]string{
	FlowFallThrough:            "fall-through",
	FlowConditionalJump:        "cond-jump",
	FlowUnconditionalJump:      "jump",
	FlowConditionalCall:        "cond-call",
	FlowUnconditionalCall:      "call",
	FlowComputedJump:           "computed-jump",
	FlowComputedCall:           "computed-call",
	FlowCallTerminator:         "call-terminator",
	FlowComputedCallTerminator: "computed-call-terminator",
	FlowTerminator:             "terminator",
}

func (f FlowType) String() string {
	if f >= 0 && int(f) < len(flowTypeNames) {
		return flowTypeNames[f]
	}
	return fmt.Sprintf("FlowType(%d)", int(f))
}

// HasFallThrough reports whether execution may continue at the next
// instruction.
func (f FlowType) HasFallThrough() bool {
	switch f {
	case FlowUnconditionalJump, FlowComputedJump, FlowTerminator,
		FlowCallTerminator, FlowComputedCallTerminator:
		return false
	}
	return true
}

func (f FlowType) IsCall() bool {
	switch f {
	case FlowConditionalCall, FlowUnconditionalCall, FlowComputedCall,
		FlowCallTerminator, FlowComputedCallTerminator:
		return true
	}
	return false
}

func (f FlowType) IsJump() bool {
	switch f {
	case FlowConditionalJump, FlowUnconditionalJump, FlowComputedJump:
		return true
	}
	return false
}

func (f FlowType) IsComputed() bool {
	switch f {
	case FlowComputedJump, FlowComputedCall, FlowComputedCallTerminator:
		return true
	}
	return false
}

func (f FlowType) IsConditional() bool {
	return f == FlowConditionalJump || f == FlowConditionalCall
}

// FlowOverride is an analyst annotation that replaces the natural flow
// classification of an instruction.
type FlowOverride int

const (
	FlowOverrideNone FlowOverride = iota
	FlowOverrideBranch
	FlowOverrideCall
	FlowOverrideCallReturn
	FlowOverrideReturn
)

var flowOverrideNames = [...]string{
	FlowOverrideNone:       "none",
	FlowOverrideBranch:     "branch",
	FlowOverrideCall:       "call",
	FlowOverrideCallReturn: "call-return",
	FlowOverrideReturn:     "return",
}

func (o FlowOverride) String() string {
	if o >= 0 && int(o) < len(flowOverrideNames) {
		return flowOverrideNames[o]
	}
	return fmt.Sprintf("FlowOverride(%d)", int(o))
}

// ParseFlowOverride converts the textual form used in project files.
// The empty string is FlowOverrideNone.
func ParseFlowOverride(s string) (FlowOverride, error) {
	if s == "" {
		return FlowOverrideNone, nil
	}
	for i, name := range flowOverrideNames {
		if name == s {
			return FlowOverride(i), nil
		}
	}
	return FlowOverrideNone, fmt.Errorf("unknown flow override %q", s)
}

// Apply returns the flow type f takes under the override. Instructions
// that only fall through are never affected.
func (o FlowOverride) Apply(f FlowType) FlowType {
	if f == FlowFallThrough {
		return f
	}
	switch o {
	case FlowOverrideBranch:
		switch f {
		case FlowConditionalCall:
			return FlowConditionalJump
		case FlowUnconditionalCall, FlowCallTerminator:
			return FlowUnconditionalJump
		case FlowComputedCall, FlowComputedCallTerminator, FlowTerminator:
			return FlowComputedJump
		}
	case FlowOverrideCall:
		switch f {
		case FlowConditionalJump:
			return FlowConditionalCall
		case FlowUnconditionalJump, FlowCallTerminator:
			return FlowUnconditionalCall
		case FlowComputedJump, FlowComputedCallTerminator, FlowTerminator:
			return FlowComputedCall
		}
	case FlowOverrideCallReturn:
		if f.IsComputed() || f == FlowTerminator {
			return FlowComputedCallTerminator
		}
		return FlowCallTerminator
	case FlowOverrideReturn:
		return FlowTerminator
	}
	return f
}
