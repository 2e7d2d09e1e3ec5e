package vm_test

import (
	"testing"

	"github.com/hmny-jack/toolchain/pkg/asm"
	"github.com/hmny-jack/toolchain/pkg/vm"
)

func TestLowererMemoryOp(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{"Main": vm.Module{}})

	t.Run("push constant", func(t *testing.T) {
		inst, err := lowerer.HandleMemoryOp(vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 5})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(inst) != 7 {
			t.Fatalf("expected 7 instructions for a constant push, got %d", len(inst))
		}
		if inst[0] != (asm.AInstruction{Location: "5"}) {
			t.Fatalf("expected first instruction to load the constant, got %#v", inst[0])
		}
	})

	t.Run("pop local", func(t *testing.T) {
		inst, err := lowerer.HandleMemoryOp(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Local, Offset: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inst[0] != (asm.AInstruction{Location: "LCL"}) {
			t.Fatalf("expected pop local to first dereference LCL, got %#v", inst[0])
		}
	})

	t.Run("push/pop pointer", func(t *testing.T) {
		push, err := lowerer.HandleMemoryOp(vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if push[0] != (asm.AInstruction{Location: "THIS"}) {
			t.Fatalf("expected pointer 0 to target THIS, got %#v", push[0])
		}

		pop, err := lowerer.HandleMemoryOp(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		last := pop[len(pop)-1]
		if last != (asm.CInstruction{Dest: "M", Comp: "D"}) {
			t.Fatalf("expected pop pointer 1 to end by storing into THAT, got %#v", last)
		}
	})

	t.Run("static segment is namespaced by module", func(t *testing.T) {
		program := vm.Program{"Foo": vm.Module{vm.MemoryOp{Operation: vm.Push, Segment: vm.Static, Offset: 3}}}
		staticLowerer := vm.NewLowerer(program)
		compiled, err := staticLowerer.Lowerer()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if compiled[0] != (asm.AInstruction{Location: "Foo.3"}) {
			t.Fatalf("expected static segment to resolve to 'Foo.3', got %#v", compiled[0])
		}
	})

	t.Run("constant cannot be popped", func(t *testing.T) {
		if _, err := lowerer.HandleMemoryOp(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Constant, Offset: 0}); err == nil {
			t.Fatal("expected an error popping into the constant segment")
		}
	})
}

func TestLowererArithmeticOp(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{"Main": vm.Module{}})

	t.Run("binary ops fold the result back in place", func(t *testing.T) {
		for op, comp := range map[vm.ArithOpType]string{vm.Add: "M+D", vm.Sub: "M-D", vm.And: "D&M", vm.Or: "D|M"} {
			inst, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: op})
			if err != nil {
				t.Fatalf("unexpected error for %s: %v", op, err)
			}
			last := inst[len(inst)-1]
			if last != (asm.CInstruction{Dest: "M", Comp: comp}) {
				t.Fatalf("expected %s to end with comp '%s', got %#v", op, comp, last)
			}
		}
	})

	t.Run("unary ops", func(t *testing.T) {
		neg, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Neg})
		if err != nil || len(neg) != 3 {
			t.Fatalf("expected 3 instructions for neg, got %d (err=%v)", len(neg), err)
		}

		not, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Not})
		if err != nil || len(not) != 3 {
			t.Fatalf("expected 3 instructions for not, got %d (err=%v)", len(not), err)
		}
	})

	t.Run("comparisons use unique labels across calls", func(t *testing.T) {
		first, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Eq})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Eq})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		firstLabel := first[5].(asm.AInstruction).Location
		secondLabel := second[5].(asm.AInstruction).Location
		if firstLabel == secondLabel {
			t.Fatalf("expected distinct comparison labels across calls, got '%s' twice", firstLabel)
		}
	})
}

func TestLowererGotoAndLabel(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{"Main": vm.Module{}})

	if _, err := lowerer.HandleFuncDecl(vm.FuncDecl{Name: "Main.fibonacci", NLocal: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	label, err := lowerer.HandleLabelDecl(vm.LabelDecl{Name: "LOOP"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label[0] != (asm.LabelDecl{Name: "Main.fibonacci$LOOP"}) {
		t.Fatalf("expected label to be namespaced under the enclosing function, got %#v", label[0])
	}

	unconditional, err := lowerer.HandleGotoOp(vm.GotoOp{Jump: vm.Unconditional, Label: "LOOP"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unconditional[0] != (asm.AInstruction{Location: "Main.fibonacci$LOOP"}) {
		t.Fatalf("expected unconditional goto to target the namespaced label, got %#v", unconditional[0])
	}

	conditional, err := lowerer.HandleGotoOp(vm.GotoOp{Jump: vm.Conditional, Label: "LOOP"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conditional) <= len(unconditional) {
		t.Fatal("expected if-goto to pop the stack before jumping, unlike a plain goto")
	}
}

func TestLowererFuncDecl(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{"Main": vm.Module{}})

	inst, err := lowerer.HandleFuncDecl(vm.FuncDecl{Name: "Main.run", NLocal: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst[0] != (asm.LabelDecl{Name: "Main.run"}) {
		t.Fatalf("expected function declaration to start with its label, got %#v", inst[0])
	}
	// Label + 3 locals, each zero-initialized in 7 instructions (push constant 0)
	if len(inst) != 1+3*7 {
		t.Fatalf("expected label plus 3 zero-initialized locals, got %d instructions", len(inst))
	}
}

func TestLowererFuncCallAndReturn(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{"Main": vm.Module{}})

	call, err := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Math.multiply", NArgs: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := call[len(call)-1]
	if _, ok := last.(asm.LabelDecl); !ok {
		t.Fatalf("expected a call to end on its own return-address label, got %#v", last)
	}

	again, err := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Math.multiply", NArgs: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again[len(again)-1] == last {
		t.Fatal("expected distinct return-address labels across repeated calls to the same function")
	}

	ret, err := lowerer.HandleReturnOp(vm.ReturnOp{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := ret[len(ret)-1]
	if final != (asm.CInstruction{Comp: "0", Jump: "JMP"}) {
		t.Fatalf("expected return to end with an unconditional jump back to the caller, got %#v", final)
	}
}

func TestLowererEndToEnd(t *testing.T) {
	program := vm.Program{
		"Main": vm.Module{
			vm.FuncDecl{Name: "Main.main", NLocal: 0},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 2},
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 3},
			vm.ArithmeticOp{Operation: vm.Add},
			vm.ReturnOp{},
		},
	}

	lowerer := vm.NewLowerer(program)
	compiled, err := lowerer.Lowerer()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) == 0 {
		t.Fatal("expected a non-empty compiled asm.Program")
	}
	if compiled[0] != (asm.LabelDecl{Name: "Main.main"}) {
		t.Fatalf("expected the program to start with the function's label, got %#v", compiled[0])
	}
}

func TestLowererEmptyProgram(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{})
	if _, err := lowerer.Lowerer(); err == nil {
		t.Fatal("expected an error lowering an empty program")
	}
}
