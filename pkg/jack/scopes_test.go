package jack_test

import (
	"testing"

	"github.com/hmny-jack/toolchain/pkg/jack"
)

func TestScopeTableClassScope(t *testing.T) {
	test := func(st *jack.ScopeTable, lookup string, expectedVar jack.Variable, expectedOffset uint16, fail bool) {
		offset, variable, err := st.ResolveVariable(lookup)
		if err != nil && !fail {
			t.Fatalf("expected to find %s, got error: %v", lookup, err)
		}
		if !fail && variable != expectedVar {
			t.Errorf("expected to find variable '%s' as %+v, got %+v", lookup, expectedVar, variable)
		}
		if !fail && offset != expectedOffset {
			t.Errorf("expected to find offset %d for variable '%s', got '%d'", expectedOffset, lookup, offset)
		}
	}

	t.Run("Fields and statics are resolved by insertion order", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()

		intType := jack.DataType{Base: jack.IntType}
		charType := jack.DataType{Base: jack.CharType}
		stringType := jack.DataType{Base: jack.ObjectType, ClassName: "String"}
		boolType := jack.DataType{Base: jack.BooleanType}

		mustDefine(t, st, jack.Variable{Name: "test_field", Kind: jack.Field, Type: intType})
		mustDefine(t, st, jack.Variable{Name: "test_static", Kind: jack.Static, Type: stringType})
		mustDefine(t, st, jack.Variable{Name: "test_field_2", Kind: jack.Field, Type: charType})
		mustDefine(t, st, jack.Variable{Name: "test_static_2", Kind: jack.Static, Type: boolType})

		test(st, "test_field", jack.Variable{Name: "test_field", Kind: jack.Field, Type: intType}, 0, false)
		test(st, "test_static", jack.Variable{Name: "test_static", Kind: jack.Static, Type: stringType}, 0, false)
		test(st, "test_field_2", jack.Variable{Name: "test_field_2", Kind: jack.Field, Type: charType}, 1, false)
		test(st, "test_static_2", jack.Variable{Name: "test_static_2", Kind: jack.Static, Type: boolType}, 1, false)

		test(st, "random1", jack.Variable{}, 0, true)
		test(st, "random2", jack.Variable{}, 0, true)
	})

	t.Run("Duplicate field names are rejected", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()

		if _, err := st.Define(jack.Variable{Name: "dup", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}}); err != nil {
			t.Fatalf("expected first definition to succeed, got: %v", err)
		}
		if _, err := st.Define(jack.Variable{Name: "dup", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}}); err == nil {
			t.Fatalf("expected second definition of 'dup' to fail")
		}
	})

	t.Run("Cross-kind duplicates are rejected (static vs field)", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()

		if _, err := st.Define(jack.Variable{Name: "dup", Kind: jack.Static, Type: jack.DataType{Base: jack.IntType}}); err != nil {
			t.Fatalf("expected first definition to succeed, got: %v", err)
		}
		if _, err := st.Define(jack.Variable{Name: "dup", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}}); err == nil {
			t.Fatalf("expected 'field dup' to be rejected, a 'static dup' already exists in the class table")
		}
	})

	t.Run("StartClass resets fields and statics", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()
		mustDefine(t, st, jack.Variable{Name: "test_field", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}})
		mustDefine(t, st, jack.Variable{Name: "test_static", Kind: jack.Static, Type: jack.DataType{Base: jack.IntType}})

		st.StartClass() // begins a brand new class, old fields/statics must be gone

		test(st, "test_field", jack.Variable{}, 0, true)
		test(st, "test_static", jack.Variable{}, 0, true)
	})

	t.Run("FieldCount counts only instance fields", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()
		mustDefine(t, st, jack.Variable{Name: "a", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}})
		mustDefine(t, st, jack.Variable{Name: "b", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}})
		mustDefine(t, st, jack.Variable{Name: "c", Kind: jack.Static, Type: jack.DataType{Base: jack.IntType}})

		if count := st.FieldCount(); count != 2 {
			t.Errorf("expected FieldCount() to be 2, got %d", count)
		}
	})
}

func TestScopeTableSubroutineScope(t *testing.T) {
	test := func(st *jack.ScopeTable, lookup string, expectedVar jack.Variable, expectedOffset uint16, fail bool) {
		offset, variable, err := st.ResolveVariable(lookup)
		if err != nil && !fail {
			t.Fatalf("expected to find %s, got error: %v", lookup, err)
		}
		if !fail && variable != expectedVar {
			t.Errorf("expected to find variable '%s' as %+v, got %+v", lookup, expectedVar, variable)
		}
		if !fail && offset != expectedOffset {
			t.Errorf("expected to find offset %d for variable '%s', got '%d'", expectedOffset, lookup, offset)
		}
	}

	t.Run("Locals and parameters are resolved by insertion order", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()
		st.StartSubroutine()

		intType := jack.DataType{Base: jack.IntType}
		charType := jack.DataType{Base: jack.CharType}
		stringType := jack.DataType{Base: jack.ObjectType, ClassName: "String"}
		boolType := jack.DataType{Base: jack.BooleanType}

		mustDefine(t, st, jack.Variable{Name: "test_local", Kind: jack.Local, Type: intType})
		mustDefine(t, st, jack.Variable{Name: "test_parameter", Kind: jack.Parameter, Type: stringType})
		mustDefine(t, st, jack.Variable{Name: "test_local_2", Kind: jack.Local, Type: charType})
		mustDefine(t, st, jack.Variable{Name: "test_parameter_2", Kind: jack.Parameter, Type: boolType})

		test(st, "test_local", jack.Variable{Name: "test_local", Kind: jack.Local, Type: intType}, 0, false)
		test(st, "test_parameter", jack.Variable{Name: "test_parameter", Kind: jack.Parameter, Type: stringType}, 0, false)
		test(st, "test_local_2", jack.Variable{Name: "test_local_2", Kind: jack.Local, Type: charType}, 1, false)
		test(st, "test_parameter_2", jack.Variable{Name: "test_parameter_2", Kind: jack.Parameter, Type: boolType}, 1, false)

		test(st, "random1", jack.Variable{}, 0, true)
	})

	t.Run("Cross-kind duplicates are rejected (parameter vs local)", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()
		st.StartSubroutine()

		if _, err := st.Define(jack.Variable{Name: "dup", Kind: jack.Parameter, Type: jack.DataType{Base: jack.IntType}}); err != nil {
			t.Fatalf("expected first definition to succeed, got: %v", err)
		}
		if _, err := st.Define(jack.Variable{Name: "dup", Kind: jack.Local, Type: jack.DataType{Base: jack.IntType}}); err == nil {
			t.Fatalf("expected 'var dup' to be rejected, an 'arg dup' already exists in the subroutine table")
		}
	})

	t.Run("StartSubroutine resets locals and parameters but keeps fields", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()
		mustDefine(t, st, jack.Variable{Name: "shared", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}})

		st.StartSubroutine()
		mustDefine(t, st, jack.Variable{Name: "test_local", Kind: jack.Local, Type: jack.DataType{Base: jack.IntType}})
		test(st, "test_local", jack.Variable{Name: "test_local", Kind: jack.Local, Type: jack.DataType{Base: jack.IntType}}, 0, false)
		test(st, "shared", jack.Variable{Name: "shared", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}}, 0, false)

		st.StartSubroutine() // begins a brand new subroutine, old locals/parameters must be gone

		test(st, "test_local", jack.Variable{}, 0, true)
		test(st, "shared", jack.Variable{Name: "shared", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}}, 0, false)
	})

	t.Run("Locals resolve before fields of the same name", func(t *testing.T) {
		st := jack.NewScopeTable()
		st.StartClass()
		mustDefine(t, st, jack.Variable{Name: "shadowed", Kind: jack.Field, Type: jack.DataType{Base: jack.IntType}})

		st.StartSubroutine()
		mustDefine(t, st, jack.Variable{Name: "shadowed", Kind: jack.Local, Type: jack.DataType{Base: jack.BooleanType}})

		test(st, "shadowed", jack.Variable{Name: "shadowed", Kind: jack.Local, Type: jack.DataType{Base: jack.BooleanType}}, 0, false)
	})
}

func mustDefine(t *testing.T, st *jack.ScopeTable, v jack.Variable) {
	t.Helper()
	if _, err := st.Define(v); err != nil {
		t.Fatalf("expected to define '%s', got error: %v", v.Name, err)
	}
}
