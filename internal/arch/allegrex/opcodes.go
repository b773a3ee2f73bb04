package allegrex

import "mipstash/internal/listing"

// format selects how an instruction's operand fields are printed.
type format int

const (
	fmtNone format = iota
	fmtRdRsRt
	fmtRdRtSa
	fmtRdRtRs
	fmtRsRt
	fmtRdRs
	fmtRd
	fmtRs
	fmtRtRsImm
	fmtRtRsUimm
	fmtRtImm
	fmtRtMem
	fmtFtMem
	fmtRsRtOff
	fmtRsOff
	fmtOff
	fmtVfpuOff
	fmtTarget
	fmtCode
)

type opcode struct {
	name   string
	format format
	flow   listing.FlowType
	delay  bool
}

func alu(name string, f format) *opcode {
	return &opcode{name: name, format: f}
}

func branch(name string, f format, flow listing.FlowType) *opcode {
	return &opcode{name: name, format: f, flow: flow, delay: true}
}

var primary = map[uint32]*opcode{
	0x02: branch("j", fmtTarget, listing.FlowUnconditionalJump),
	0x03: branch("jal", fmtTarget, listing.FlowUnconditionalCall),
	0x04: branch("beq", fmtRsRtOff, listing.FlowConditionalJump),
	0x05: branch("bne", fmtRsRtOff, listing.FlowConditionalJump),
	0x06: branch("blez", fmtRsOff, listing.FlowConditionalJump),
	0x07: branch("bgtz", fmtRsOff, listing.FlowConditionalJump),
	0x08: alu("addi", fmtRtRsImm),
	0x09: alu("addiu", fmtRtRsImm),
	0x0a: alu("slti", fmtRtRsImm),
	0x0b: alu("sltiu", fmtRtRsImm),
	0x0c: alu("andi", fmtRtRsUimm),
	0x0d: alu("ori", fmtRtRsUimm),
	0x0e: alu("xori", fmtRtRsUimm),
	0x0f: alu("lui", fmtRtImm),
	0x14: branch("beql", fmtRsRtOff, listing.FlowConditionalJump),
	0x15: branch("bnel", fmtRsRtOff, listing.FlowConditionalJump),
	0x16: branch("blezl", fmtRsOff, listing.FlowConditionalJump),
	0x17: branch("bgtzl", fmtRsOff, listing.FlowConditionalJump),
	0x20: alu("lb", fmtRtMem),
	0x21: alu("lh", fmtRtMem),
	0x22: alu("lwl", fmtRtMem),
	0x23: alu("lw", fmtRtMem),
	0x24: alu("lbu", fmtRtMem),
	0x25: alu("lhu", fmtRtMem),
	0x26: alu("lwr", fmtRtMem),
	0x28: alu("sb", fmtRtMem),
	0x29: alu("sh", fmtRtMem),
	0x2a: alu("swl", fmtRtMem),
	0x2b: alu("sw", fmtRtMem),
	0x2e: alu("swr", fmtRtMem),
	0x31: alu("lwc1", fmtFtMem),
	0x39: alu("swc1", fmtFtMem),
}

var special = map[uint32]*opcode{
	0x00: alu("sll", fmtRdRtSa),
	0x02: alu("srl", fmtRdRtSa),
	0x03: alu("sra", fmtRdRtSa),
	0x04: alu("sllv", fmtRdRtRs),
	0x06: alu("srlv", fmtRdRtRs),
	0x07: alu("srav", fmtRdRtRs),
	0x08: branch("jr", fmtRs, listing.FlowComputedJump),
	0x09: branch("jalr", fmtRdRs, listing.FlowComputedCall),
	0x0a: alu("movz", fmtRdRsRt),
	0x0b: alu("movn", fmtRdRsRt),
	0x0c: alu("syscall", fmtCode),
	0x0d: alu("break", fmtCode),
	0x0f: alu("sync", fmtNone),
	0x10: alu("mfhi", fmtRd),
	0x11: alu("mthi", fmtRs),
	0x12: alu("mflo", fmtRd),
	0x13: alu("mtlo", fmtRs),
	0x16: alu("clz", fmtRdRs),
	0x17: alu("clo", fmtRdRs),
	0x18: alu("mult", fmtRsRt),
	0x19: alu("multu", fmtRsRt),
	0x1a: alu("div", fmtRsRt),
	0x1b: alu("divu", fmtRsRt),
	0x20: alu("add", fmtRdRsRt),
	0x21: alu("addu", fmtRdRsRt),
	0x22: alu("sub", fmtRdRsRt),
	0x23: alu("subu", fmtRdRsRt),
	0x24: alu("and", fmtRdRsRt),
	0x25: alu("or", fmtRdRsRt),
	0x26: alu("xor", fmtRdRsRt),
	0x27: alu("nor", fmtRdRsRt),
	0x2a: alu("slt", fmtRdRsRt),
	0x2b: alu("sltu", fmtRdRsRt),
	0x2c: alu("max", fmtRdRsRt),
	0x2d: alu("min", fmtRdRsRt),
}

var regimm = map[uint32]*opcode{
	0x00: branch("bltz", fmtRsOff, listing.FlowConditionalJump),
	0x01: branch("bgez", fmtRsOff, listing.FlowConditionalJump),
	0x02: branch("bltzl", fmtRsOff, listing.FlowConditionalJump),
	0x03: branch("bgezl", fmtRsOff, listing.FlowConditionalJump),
	0x10: branch("bltzal", fmtRsOff, listing.FlowConditionalCall),
	0x11: branch("bgezal", fmtRsOff, listing.FlowConditionalCall),
	0x12: branch("bltzall", fmtRsOff, listing.FlowConditionalCall),
	0x13: branch("bgezall", fmtRsOff, listing.FlowConditionalCall),
}

// Indexed by the tf/likely bits of a COP1 branch.
var cop1Branch = [4]*opcode{
	branch("bc1f", fmtOff, listing.FlowConditionalJump),
	branch("bc1t", fmtOff, listing.FlowConditionalJump),
	branch("bc1fl", fmtOff, listing.FlowConditionalJump),
	branch("bc1tl", fmtOff, listing.FlowConditionalJump),
}

// Indexed by the tf/likely bits of a VFPU condition branch.
var vfpuBranch = [4]*opcode{
	branch("bvf", fmtVfpuOff, listing.FlowConditionalJump),
	branch("bvt", fmtVfpuOff, listing.FlowConditionalJump),
	branch("bvfl", fmtVfpuOff, listing.FlowConditionalJump),
	branch("bvtl", fmtVfpuOff, listing.FlowConditionalJump),
}

// Pseudo instructions selected from specific operand values.
var (
	opNop = alu("nop", fmtNone)
	opB   = branch("b", fmtOff, listing.FlowUnconditionalJump)
	opBal = branch("bal", fmtOff, listing.FlowUnconditionalCall)
	opRet = branch("jr", fmtRs, listing.FlowTerminator)
)

var regNames = [32]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

const regRA = 31
