package jack

import (
	"fmt"

	"github.com/hmny-jack/toolchain/pkg/utils"
)

// ----------------------------------------------------------------------------
// ScopeTable

// A scopedVariable is a Variable alongside the segment index handed out to it
// within its own Kind (static/field/parameter/local each count independently,
// even though static and field share a table, as do parameter and local).
type scopedVariable struct {
	variable Variable
	index    uint16
}

// A ScopeTable tracks every Variable visible at a given point of the compilation:
// one class table (static, field kinds) that lives for the whole class, and one
// subroutine table (parameter, local kinds) that gets cleared on every new
// subroutine. Both kinds sharing a single table is what makes 'Define' reject a
// class that declares 'static x' and 'field x', or a subroutine that declares
// 'arg x' and 'var x': uniqueness is checked against the whole table, not just
// the slice belonging to the new symbol's own kind. Indices are still handed out
// per-kind so a 'static 3' or 'local 1' segment offset is simply the position of
// insertion among variables of that same kind, and iterating it twice over the
// same declarations always yields the same order back (deterministic codegen).
type ScopeTable struct {
	class      utils.OrderedMap[string, scopedVariable]
	subroutine utils.OrderedMap[string, scopedVariable]

	nStatics, nFields    uint16
	nParameters, nLocals uint16
}

func NewScopeTable() *ScopeTable { return &ScopeTable{} }

// StartClass resets the class table; called once per Class being compiled.
func (st *ScopeTable) StartClass() {
	st.class = utils.OrderedMap[string, scopedVariable]{}
	st.nStatics, st.nFields = 0, 0
}

// StartSubroutine resets the subroutine table; called once per Subroutine.
// A method's implicit 'this' argument is registered by the caller via Define, same as
// any other parameter.
func (st *ScopeTable) StartSubroutine() {
	st.subroutine = utils.OrderedMap[string, scopedVariable]{}
	st.nParameters, st.nLocals = 0, 0
}

// Define registers a new Variable in the table matching its Kind, returning its
// freshly assigned segment index. Fails fatally if the name is already defined in
// the same scope (a class cannot declare 'static x' and 'field x' with the same
// name, neither can a subroutine redeclare 'arg x' as 'var x' or vice versa).
func (st *ScopeTable) Define(v Variable) (uint16, error) {
	table := st.tableFor(v.Kind)
	if table.Has(v.Name) {
		return 0, fmt.Errorf("'%s' is already defined in this scope", v.Name)
	}

	index := st.nextIndex(v.Kind)
	table.Set(v.Name, scopedVariable{variable: v, index: index})
	return index, nil
}

// ResolveVariable looks a name up across every scope, closest first: the subroutine
// table (parameters, locals), then the class table (fields, statics). Fails fatally
// when the name is undeclared in either of them.
func (st *ScopeTable) ResolveVariable(name string) (uint16, Variable, error) {
	tables := []*utils.OrderedMap[string, scopedVariable]{&st.subroutine, &st.class}

	for _, table := range tables {
		if sv, ok := table.Get(name); ok {
			return sv.index, sv.variable, nil
		}
	}

	return 0, Variable{}, fmt.Errorf("variable '%s' undeclared, not found in any scope", name)
}

// FieldCount reports how many instance fields the current class declares, needed
// by the lowerer to size the 'Memory.alloc' call emitted by a constructor.
func (st *ScopeTable) FieldCount() uint16 { return st.nFields }

func (st *ScopeTable) tableFor(kind VarKind) *utils.OrderedMap[string, scopedVariable] {
	switch kind {
	case Static, Field:
		return &st.class
	default: // Parameter, Local
		return &st.subroutine
	}
}

// nextIndex hands out the next segment offset for 'kind', counting each kind
// independently even though static/field (and parameter/local) share a table.
func (st *ScopeTable) nextIndex(kind VarKind) uint16 {
	switch kind {
	case Static:
		index := st.nStatics
		st.nStatics++
		return index
	case Field:
		index := st.nFields
		st.nFields++
		return index
	case Parameter:
		index := st.nParameters
		st.nParameters++
		return index
	default: // Local
		index := st.nLocals
		st.nLocals++
		return index
	}
}
