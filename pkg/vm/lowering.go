package vm

import (
	"fmt"
	"sort"

	"github.com/hmny-jack/toolchain/pkg/asm"
)

// ----------------------------------------------------------------------------
// VM Lowerer

// The Lowerer takes a 'vm.Program' (one or more modules, each a flat list of VM
// operations) and produces the equivalent 'asm.Program': a single, already
// concatenated list of Assembler instructions implementing the VM's stack
// machine and its function calling convention on top of the Hack platform.
//
// Modules are processed in alphabetical order so that the generated Assembler
// text is reproducible across runs (maps don't provide one on their own).
type Lowerer struct {
	program []moduleEntry

	module      string // Name of the module currently being lowered, used for 'static' segment naming
	function    string // Fully qualified name of the function currently being lowered, used for label scoping
	nCompare    uint   // Counter to keep 'eq'/'gt'/'lt' labels unique across the whole program
	nReturnAddr uint   // Counter to keep 'call' return-address labels unique across the whole program
}

type moduleEntry struct {
	name string
	ops  Module
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil nor empty.
func NewLowerer(p Program) Lowerer {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]moduleEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, moduleEntry{name: name, ops: p[name]})
	}

	return Lowerer{program: entries}
}

// Triggers the lowering process. It iterates module by module, operation by operation
// and produces the equivalent sequence of 'asm.Instruction', accumulating them in a
// single flat 'asm.Program' (there's no concept of separate translation units past this point).
func (l *Lowerer) Lowerer() (asm.Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given program is empty or nil")
	}

	program := asm.Program{}
	for _, entry := range l.program {
		l.module = entry.name

		for _, operation := range entry.ops {
			converted, err := l.HandleOperation(operation)
			if err != nil {
				return nil, fmt.Errorf("error lowering module '%s': %w", entry.name, err)
			}
			program = append(program, converted...)
		}
	}

	return program, nil
}

// Dispatches a single VM operation to its specialized handler based on its dynamic type.
func (l *Lowerer) HandleOperation(operation Operation) ([]asm.Instruction, error) {
	switch tOperation := operation.(type) {
	case MemoryOp:
		return l.HandleMemoryOp(tOperation)
	case ArithmeticOp:
		return l.HandleArithmeticOp(tOperation)
	case LabelDecl:
		return l.HandleLabelDecl(tOperation)
	case GotoOp:
		return l.HandleGotoOp(tOperation)
	case FuncDecl:
		return l.HandleFuncDecl(tOperation)
	case FuncCallOp:
		return l.HandleFuncCallOp(tOperation)
	case ReturnOp:
		return l.HandleReturnOp(tOperation)
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", operation)
	}
}

// ----------------------------------------------------------------------------
// Stack helpers

// Appends the D register to the top of the stack and advances the stack pointer.
func pushD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// Retracts the stack pointer and loads the former top of the stack into D.
func popD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// segmentBase maps a 'real' (pointer-indirected) segment to the register holding its base address.
func segmentBase(segment SegmentType) (string, error) {
	switch segment {
	case Local:
		return "LCL", nil
	case Argument:
		return "ARG", nil
	case This:
		return "THIS", nil
	case That:
		return "THAT", nil
	default:
		return "", fmt.Errorf("segment '%s' has no indirected base register", segment)
	}
}

// ----------------------------------------------------------------------------
// Memory Op

// Converts a 'vm.MemoryOp' (push/pop on a named segment) to its Assembler counterpart.
func (l *Lowerer) HandleMemoryOp(op MemoryOp) ([]asm.Instruction, error) {
	if op.Operation == Push {
		return l.generatePush(op)
	}
	return l.generatePop(op)
}

func (l *Lowerer) generatePush(op MemoryOp) ([]asm.Instruction, error) {
	var load []asm.Instruction

	switch op.Segment {
	case Constant:
		load = []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)}, asm.CInstruction{Dest: "D", Comp: "A"},
		}

	case Local, Argument, This, That:
		base, err := segmentBase(op.Segment)
		if err != nil {
			return nil, err
		}
		load = []asm.Instruction{
			asm.AInstruction{Location: base}, asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(op.Offset)}, asm.CInstruction{Dest: "A", Comp: "D+A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}

	case Temp:
		load = []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(5 + op.Offset)}, asm.CInstruction{Dest: "D", Comp: "M"},
		}

	case Pointer:
		load = []asm.Instruction{
			asm.AInstruction{Location: pointerTarget(op.Offset)}, asm.CInstruction{Dest: "D", Comp: "M"},
		}

	case Static:
		load = []asm.Instruction{
			asm.AInstruction{Location: l.staticName(op.Offset)}, asm.CInstruction{Dest: "D", Comp: "M"},
		}

	default:
		return nil, fmt.Errorf("unrecognized segment '%s' for push operation", op.Segment)
	}

	return append(load, pushD()...), nil
}

func (l *Lowerer) generatePop(op MemoryOp) ([]asm.Instruction, error) {
	switch op.Segment {
	case Local, Argument, This, That:
		base, err := segmentBase(op.Segment)
		if err != nil {
			return nil, err
		}
		address := []asm.Instruction{
			asm.AInstruction{Location: base}, asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(op.Offset)}, asm.CInstruction{Dest: "D", Comp: "D+A"},
			asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
		}
		store := []asm.Instruction{
			asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}
		return append(append(address, popD()...), store...), nil

	case Temp:
		store := []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(5 + op.Offset)}, asm.CInstruction{Dest: "M", Comp: "D"},
		}
		return append(popD(), store...), nil

	case Pointer:
		store := []asm.Instruction{
			asm.AInstruction{Location: pointerTarget(op.Offset)}, asm.CInstruction{Dest: "M", Comp: "D"},
		}
		return append(popD(), store...), nil

	case Static:
		store := []asm.Instruction{
			asm.AInstruction{Location: l.staticName(op.Offset)}, asm.CInstruction{Dest: "M", Comp: "D"},
		}
		return append(popD(), store...), nil

	default:
		return nil, fmt.Errorf("unrecognized segment '%s' for pop operation", op.Segment)
	}
}

func pointerTarget(offset uint16) string {
	if offset == 0 {
		return "THIS"
	}
	return "THAT"
}

func (l *Lowerer) staticName(offset uint16) string {
	return fmt.Sprintf("%s.%d", l.module, offset)
}

// ----------------------------------------------------------------------------
// Arithmetic Op

// Converts a 'vm.ArithmeticOp' to its Assembler counterpart, every variant pops its
// operand(s) off the stack and pushes back a single result without touching SP twice.
func (l *Lowerer) HandleArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	switch op.Operation {
	case Neg:
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "-M"},
		}, nil

	case Not:
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "!M"},
		}, nil

	case Add, Sub, And, Or:
		return l.binaryArithmetic(op.Operation)

	case Eq, Gt, Lt:
		return l.comparison(op.Operation)

	default:
		return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
	}
}

// binaryArithmetic emits the shared 2-operand, pop-once-net prologue (D=y, A=&x) followed
// by the operation-specific 'comp' that folds the result back into x's stack slot.
func (l *Lowerer) binaryArithmetic(operation ArithOpType) ([]asm.Instruction, error) {
	comp, err := binaryCompFor(operation)
	if err != nil {
		return nil, err
	}

	return []asm.Instruction{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"}, asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}, nil
}

func binaryCompFor(operation ArithOpType) (string, error) {
	switch operation {
	case Add:
		return "M+D", nil
	case Sub:
		return "M-D", nil
	case And:
		return "D&M", nil
	case Or:
		return "D|M", nil
	default:
		return "", fmt.Errorf("'%s' is not a binary arithmetic operation", operation)
	}
}

// comparison emits x-y, a conditional jump on the requested relation and pushes -1 (true)
// or 0 (false) back in x's former slot, using a pair of program-wide unique labels.
func (l *Lowerer) comparison(operation ArithOpType) ([]asm.Instruction, error) {
	jump, err := jumpFor(operation)
	if err != nil {
		return nil, err
	}

	trueLabel := fmt.Sprintf("COMPARE_TRUE.%d", l.nCompare)
	endLabel := fmt.Sprintf("COMPARE_END.%d", l.nCompare)
	l.nCompare++

	return []asm.Instruction{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"}, asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},

		asm.AInstruction{Location: trueLabel}, asm.CInstruction{Comp: "D", Jump: jump},

		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.AInstruction{Location: endLabel}, asm.CInstruction{Comp: "0", Jump: "JMP"},

		asm.LabelDecl{Name: trueLabel},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "-1"},

		asm.LabelDecl{Name: endLabel},
	}, nil
}

func jumpFor(operation ArithOpType) (string, error) {
	switch operation {
	case Eq:
		return "JEQ", nil
	case Gt:
		return "JGT", nil
	case Lt:
		return "JLT", nil
	default:
		return "", fmt.Errorf("'%s' is not a comparison operation", operation)
	}
}

// ----------------------------------------------------------------------------
// Control flow & function Ops

// scopedLabel namespaces a VM label under the function it's declared in, matching the
// convention used by every mainstream VM translator to avoid cross-function collisions.
func (l *Lowerer) scopedLabel(label string) string {
	if l.function == "" {
		return label
	}
	return fmt.Sprintf("%s$%s", l.function, label)
}

// Converts a 'vm.LabelDecl' to an 'asm.LabelDecl', namespaced under the current function.
func (l *Lowerer) HandleLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	return []asm.Instruction{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

// Converts a 'vm.GotoOp' to its Assembler counterpart: an unconditional jump always taken,
// a conditional jump taken only when the popped stack top is non-zero.
func (l *Lowerer) HandleGotoOp(op GotoOp) ([]asm.Instruction, error) {
	target := l.scopedLabel(op.Label)

	if op.Jump == Unconditional {
		return []asm.Instruction{
			asm.AInstruction{Location: target}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}

	return append(popD(), asm.AInstruction{Location: target}, asm.CInstruction{Comp: "D", Jump: "JNE"}), nil
}

// Converts a 'vm.FuncDecl' to its Assembler counterpart: a label followed by 'NLocal'
// zero-initialized locals (unrolled, since the count is known at lowering time).
func (l *Lowerer) HandleFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	l.function = op.Name

	converted := []asm.Instruction{asm.LabelDecl{Name: op.Name}}
	for i := uint16(0); i < op.NLocal; i++ {
		converted = append(converted,
			asm.AInstruction{Location: "0"}, asm.CInstruction{Dest: "D", Comp: "A"})
		converted = append(converted, pushD()...)
	}

	return converted, nil
}

// pushRegister pushes the current value held by a built-in register (LCL, ARG, ...).
func pushRegister(name string) []asm.Instruction {
	load := []asm.Instruction{asm.AInstruction{Location: name}, asm.CInstruction{Dest: "D", Comp: "M"}}
	return append(load, pushD()...)
}

// Converts a 'vm.FuncCallOp' to the Hack calling convention: push the return address and
// the caller's segment pointers, reposition ARG/LCL for the callee and jump to it.
func (l *Lowerer) HandleFuncCallOp(op FuncCallOp) ([]asm.Instruction, error) {
	returnLabel := l.scopedLabel(fmt.Sprintf("ret.%d", l.nReturnAddr))
	l.nReturnAddr++

	converted := []asm.Instruction{
		asm.AInstruction{Location: returnLabel}, asm.CInstruction{Dest: "D", Comp: "A"},
	}
	converted = append(converted, pushD()...)
	converted = append(converted, pushRegister("LCL")...)
	converted = append(converted, pushRegister("ARG")...)
	converted = append(converted, pushRegister("THIS")...)
	converted = append(converted, pushRegister("THAT")...)

	converted = append(converted,
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: fmt.Sprint(op.NArgs + 5)}, asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: op.Name}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: returnLabel},
	)

	return converted, nil
}

// Converts a 'vm.ReturnOp' to the Hack calling convention: restore the caller's segment
// pointers and stack from the current frame, then jump back to the saved return address.
//
// The return address is read out of the frame into R14 before 'ARG' is overwritten with
// the return value, otherwise a zero-argument call would clobber it before it's read.
func (l *Lowerer) HandleReturnOp(ReturnOp) ([]asm.Instruction, error) {
	converted := []asm.Instruction{
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "5"}, asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "M", Comp: "D"},
	}

	converted = append(converted, popD()...)
	converted = append(converted,
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THAT"}, asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THIS"}, asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},

		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return converted, nil
}
