package jack

import (
	"fmt"
	"sort"

	"github.com/hmny-jack/toolchain/pkg/utils"
	"github.com/hmny-jack/toolchain/pkg/vm"
)

// ----------------------------------------------------------------------------
// Jack Lowerer

// The Lowerer takes a 'jack.Program' and produces its 'vm.Program' counterpart.
//
// Since we get a tree-like struct we are able to traverse it using a Depth First Search (DFS) algorithm
// on it. For each node visited we produce a list of 'vm.Operation' as counterpart as well as validating
// the input (undeclared variables, unknown subroutines of the program's own classes, ...) before proceeding
// with the processing. Calls to classes outside the program are emitted without any check.
type Lowerer struct {
	program utils.OrderedMap[string, Class] // The program to lower, ordered by class name for reproducible builds
	scopes  *ScopeTable                     // Keeps track of the scopes and declared variables of the class/subroutine being lowered
	class   Class                           // The class currently being lowered

	nWhile uint // Counter to produce unique 'while' labels
	nIf    uint // Counter to produce unique 'if' labels
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil nor empty.
func NewLowerer(p Program) Lowerer {
	// We convert the unordered 'jack.Program' (a map[string]Class) to an OrderedMap sorted by
	// class name: the built-in Go map has no iteration-order guarantee, and without a fixed order
	// the label counters below would be incremented a different number of times on different runs,
	// producing different (but equally valid) output for the same input. Sorting by name instead
	// gives a reproducible, deterministic build.
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]utils.MapEntry[string, Class], 0, len(names))
	for _, name := range names {
		entries = append(entries, utils.MapEntry[string, Class]{Key: name, Value: p[name]})
	}

	return Lowerer{program: utils.NewOrderedMapFromList(entries), scopes: NewScopeTable()}
}

// Triggers the lowering process. It iterates class by class and then statement by statement,
// recursively calling the necessary helper function based on the construct type (much like a
// recursive descent parser but for lowering), this means the AST is visited in DFS order.
func (l *Lowerer) Lowerer() (vm.Program, error) {
	if l.program.Size() == 0 {
		return nil, fmt.Errorf("the given program is empty or nil")
	}

	program := vm.Program{}
	for _, pair := range l.program.Pairs() {
		operations, err := l.HandleClass(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("error handling lowering of class '%s': %w", pair.Key, err)
		}
		program[pair.Key] = vm.Module(operations)
	}

	return program, nil
}

// Specialized function to convert a 'jack.Class' node to a list of 'vm.Operation'.
func (l *Lowerer) HandleClass(class Class) ([]vm.Operation, error) {
	l.class = class
	l.scopes.StartClass()

	for _, field := range class.Fields {
		if _, err := l.scopes.Define(field); err != nil {
			return nil, fmt.Errorf("error declaring field '%s' of class '%s': %w", field.Name, class.Name, err)
		}
	}

	operations := []vm.Operation{}
	for _, subroutine := range class.Subroutines {
		ops, err := l.HandleSubroutine(subroutine)
		if err != nil {
			return nil, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
		operations = append(operations, ops...)
	}

	return operations, nil
}

// Specialized function to convert a 'jack.Subroutine' node to a list of 'vm.Operation'.
func (l *Lowerer) HandleSubroutine(subroutine Subroutine) ([]vm.Operation, error) {
	l.scopes.StartSubroutine()

	// Methods receive the object instance as an implicit first argument: the subroutine's
	// own prelude pops it from 'argument 0' and sets the 'this' pointer accordingly, but the
	// scope table still needs an entry for it so later lookups of 'this' line up.
	if subroutine.Kind == Method {
		thisType := DataType{Base: ObjectType, ClassName: l.class.Name}
		if _, err := l.scopes.Define(Variable{Name: "this", Kind: Parameter, Type: thisType}); err != nil {
			return nil, fmt.Errorf("error declaring implicit 'this' parameter: %w", err)
		}
	}

	for _, arg := range subroutine.Arguments {
		if _, err := l.scopes.Define(arg); err != nil {
			return nil, fmt.Errorf("error declaring parameter '%s' of '%s': %w", arg.Name, subroutine.Name, err)
		}
	}
	for _, local := range subroutine.Locals {
		if _, err := l.scopes.Define(local); err != nil {
			return nil, fmt.Errorf("error declaring local '%s' of '%s': %w", local.Name, subroutine.Name, err)
		}
	}

	body := []vm.Operation{}
	for _, stmt := range subroutine.Statements {
		ops, err := l.HandleStatement(stmt)
		if err != nil {
			return nil, fmt.Errorf("error handling nested statement %T: %w", stmt, err)
		}
		body = append(body, ops...)
	}

	fName := fmt.Sprintf("%s.%s", l.class.Name, subroutine.Name)
	fDecl := vm.FuncDecl{Name: fName, NLocal: uint16(len(subroutine.Locals))}

	switch subroutine.Kind {
	case Constructor:
		// By convention constructors allocate the required memory for the object instance
		// themselves, then initialize each field to the desired value as per their own code.
		// Each field is exactly one word long, so the object is as many words as fields declared.
		prelude := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: l.scopes.FieldCount()},
			vm.FuncCallOp{Name: "Memory.alloc", NArgs: 1},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		return append(append([]vm.Operation{fDecl}, prelude...), body...), nil

	case Method:
		// The caller pushes the object instance pointer as the first argument; we pop it
		// straight into the 'this' pointer so fields can be read/written through it.
		prelude := []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Argument, Offset: 0},
			vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 0},
		}
		return append(append([]vm.Operation{fDecl}, prelude...), body...), nil

	default: // Function
		return append([]vm.Operation{fDecl}, body...), nil
	}
}

// Generalized function to lower multiple statement types, returning a 'vm.Operation' list.
func (l *Lowerer) HandleStatement(stmt Statement) ([]vm.Operation, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return l.HandleDoStmt(tStmt)
	case LetStmt:
		return l.HandleLetStmt(tStmt)
	case IfStmt:
		return l.HandleIfStmt(tStmt)
	case WhileStmt:
		return l.HandleWhileStmt(tStmt)
	case ReturnStmt:
		return l.HandleReturnStmt(tStmt)
	default:
		return nil, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Specialized function to convert a 'jack.DoStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleDoStmt(statement DoStmt) ([]vm.Operation, error) {
	ops, err := l.HandleCallExpr(statement.Call)
	if err != nil {
		return nil, fmt.Errorf("error handling nested call expression: %w", err)
	}

	// 'do' statements discard whatever value the callee returns.
	return append(ops, vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0}), nil
}

// segmentOf maps a Variable's Kind to the VM memory segment it's stored in.
func segmentOf(kind VarKind) (vm.SegmentType, error) {
	switch kind {
	case Local:
		return vm.Local, nil
	case Parameter:
		return vm.Argument, nil
	case Field:
		return vm.This, nil
	case Static:
		return vm.Static, nil
	default:
		return "", fmt.Errorf("variable kind '%s' is not supported", kind)
	}
}

// Specialized function to convert a 'jack.LetStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleLetStmt(statement LetStmt) ([]vm.Operation, error) {
	rhsOps, err := l.HandleExpression(statement.Value)
	if err != nil {
		return nil, fmt.Errorf("error handling RHS expression: %w", err)
	}

	offset, variable, err := l.scopes.ResolveVariable(statement.VarName)
	if err != nil {
		return nil, fmt.Errorf("error resolving variable '%s': %w", statement.VarName, err)
	}
	segment, err := segmentOf(variable.Kind)
	if err != nil {
		return nil, err
	}

	if statement.Index == nil { // Scalar assignment: 'let x = ...'
		return append(rhsOps, vm.MemoryOp{Operation: vm.Pop, Segment: segment, Offset: offset}), nil
	}

	// Array cell assignment: 'let a[i] = ...'. We compute the target address first and leave
	// the RHS value on the stack above it, then stash the value in 'temp' before overwriting
	// 'that' with the target address, since evaluating the RHS might itself use 'that'.
	indexOps, err := l.HandleExpression(statement.Index)
	if err != nil {
		return nil, fmt.Errorf("error handling index expression: %w", err)
	}

	ops := append(indexOps, vm.MemoryOp{Operation: vm.Push, Segment: segment, Offset: offset}, vm.ArithmeticOp{Operation: vm.Add})
	ops = append(ops, rhsOps...)
	ops = append(ops,
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.Temp, Offset: 0},
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 0},
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.That, Offset: 0},
	)
	return ops, nil
}

// Specialized function to convert a 'jack.WhileStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleWhileStmt(statement WhileStmt) ([]vm.Operation, error) {
	condOps, err := l.HandleExpression(statement.Condition)
	if err != nil {
		return nil, fmt.Errorf("error handling while condition: %w", err)
	}

	bodyOps := []vm.Operation{}
	for _, stmt := range statement.Body {
		ops, err := l.HandleStatement(stmt)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in while body: %w", err)
		}
		bodyOps = append(bodyOps, ops...)
	}

	id := l.nWhile
	l.nWhile++

	startLabel, endLabel := fmt.Sprintf("WHILE_START_%d", id), fmt.Sprintf("WHILE_END_%d", id)

	ops := []vm.Operation{vm.LabelDecl{Name: startLabel}}
	ops = append(ops, condOps...)
	ops = append(ops, vm.ArithmeticOp{Operation: vm.Not}, vm.GotoOp{Jump: vm.Conditional, Label: endLabel})
	ops = append(ops, bodyOps...)
	ops = append(ops, vm.GotoOp{Jump: vm.Unconditional, Label: startLabel}, vm.LabelDecl{Name: endLabel})

	return ops, nil
}

// Specialized function to convert a 'jack.IfStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleIfStmt(statement IfStmt) ([]vm.Operation, error) {
	condOps, err := l.HandleExpression(statement.Condition)
	if err != nil {
		return nil, fmt.Errorf("error handling if condition: %w", err)
	}

	thenOps := []vm.Operation{}
	for _, stmt := range statement.Then {
		ops, err := l.HandleStatement(stmt)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in 'then' block: %w", err)
		}
		thenOps = append(thenOps, ops...)
	}

	id := l.nIf
	l.nIf++

	if statement.Else == nil {
		elseLabel := fmt.Sprintf("IF_END_%d", id)

		ops := append([]vm.Operation{}, condOps...)
		ops = append(ops, vm.ArithmeticOp{Operation: vm.Not}, vm.GotoOp{Jump: vm.Conditional, Label: elseLabel})
		ops = append(ops, thenOps...)
		ops = append(ops, vm.LabelDecl{Name: elseLabel})
		return ops, nil
	}

	elseOps := []vm.Operation{}
	for _, stmt := range statement.Else {
		ops, err := l.HandleStatement(stmt)
		if err != nil {
			return nil, fmt.Errorf("error handling statement in 'else' block: %w", err)
		}
		elseOps = append(elseOps, ops...)
	}

	elseLabel, endLabel := fmt.Sprintf("IF_ELSE_%d", id), fmt.Sprintf("IF_END_%d", id)

	ops := append([]vm.Operation{}, condOps...)
	ops = append(ops, vm.ArithmeticOp{Operation: vm.Not}, vm.GotoOp{Jump: vm.Conditional, Label: elseLabel})
	ops = append(ops, thenOps...)
	ops = append(ops, vm.GotoOp{Jump: vm.Unconditional, Label: endLabel}, vm.LabelDecl{Name: elseLabel})
	ops = append(ops, elseOps...)
	ops = append(ops, vm.LabelDecl{Name: endLabel})
	return ops, nil
}

// Specialized function to convert a 'jack.ReturnStmt' to a list of 'vm.Operation'.
func (l *Lowerer) HandleReturnStmt(statement ReturnStmt) ([]vm.Operation, error) {
	if statement.Value == nil { // Bare 'return;': Jack still requires every function to leave a value behind
		return []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ReturnOp{},
		}, nil
	}

	ops, err := l.HandleExpression(statement.Value)
	if err != nil {
		return nil, fmt.Errorf("error handling return expression: %w", err)
	}

	return append(ops, vm.ReturnOp{}), nil
}

// Generalized function to lower multiple expression types, returning a 'vm.Operation' list.
func (l *Lowerer) HandleExpression(expr Expression) ([]vm.Operation, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		return l.HandleVarExpr(tExpr)
	case IntLiteral:
		return l.HandleIntLiteral(tExpr)
	case StringLiteral:
		return l.HandleStringLiteral(tExpr)
	case KeywordLiteral:
		return l.HandleKeywordLiteral(tExpr)
	case ArrayExpr:
		return l.HandleArrayExpr(tExpr)
	case UnaryExpr:
		return l.HandleUnaryExpr(tExpr)
	case BinaryExpr:
		return l.HandleBinaryExpr(tExpr)
	case CallExpr:
		return l.HandleCallExpr(tExpr)
	default:
		return nil, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Specialized function to convert a 'jack.VarExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleVarExpr(expression VarExpr) ([]vm.Operation, error) {
	if expression.Name == "this" {
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}}, nil
	}

	offset, variable, err := l.scopes.ResolveVariable(expression.Name)
	if err != nil {
		return nil, fmt.Errorf("error resolving variable '%s': %w", expression.Name, err)
	}
	segment, err := segmentOf(variable.Kind)
	if err != nil {
		return nil, err
	}

	return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: segment, Offset: offset}}, nil
}

// Specialized function to convert a 'jack.IntLiteral' to a list of 'vm.Operation'.
func (l *Lowerer) HandleIntLiteral(expression IntLiteral) ([]vm.Operation, error) {
	return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: expression.Value}}, nil
}

// Specialized function to convert a 'jack.StringLiteral' to a list of 'vm.Operation'.
func (l *Lowerer) HandleStringLiteral(expression StringLiteral) ([]vm.Operation, error) {
	ops := []vm.Operation{
		// Allocates enough space for the entire string via the 'String' class constructor.
		vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(len(expression.Value))},
		vm.FuncCallOp{Name: "String.new", NArgs: 1},
	}

	for _, char := range expression.Value {
		ops = append(ops, vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: uint16(char)})
		ops = append(ops, vm.FuncCallOp{Name: "String.appendChar", NArgs: 2})
	}

	return ops, nil
}

// Specialized function to convert a 'jack.KeywordLiteral' to a list of 'vm.Operation'.
func (l *Lowerer) HandleKeywordLiteral(expression KeywordLiteral) ([]vm.Operation, error) {
	switch expression.Keyword {
	case "this":
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}}, nil
	case "null", "false":
		return []vm.Operation{vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0}}, nil
	case "true":
		// 'true' is represented as every bit set, obtained by negating 0.
		return []vm.Operation{
			vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 0},
			vm.ArithmeticOp{Operation: vm.Not},
		}, nil
	default:
		return nil, fmt.Errorf("unrecognized keyword constant: %s", expression.Keyword)
	}
}

// Specialized function to convert a 'jack.ArrayExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleArrayExpr(expression ArrayExpr) ([]vm.Operation, error) {
	baseOps, err := l.HandleVarExpr(VarExpr{Name: expression.Name})
	if err != nil {
		return nil, fmt.Errorf("error handling base array expression: %w", err)
	}

	indexOps, err := l.HandleExpression(expression.Index)
	if err != nil {
		return nil, fmt.Errorf("error handling array index expression: %w", err)
	}

	return append(append(baseOps, indexOps...),
		vm.ArithmeticOp{Operation: vm.Add},
		vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 1},
		vm.MemoryOp{Operation: vm.Push, Segment: vm.That, Offset: 0},
	), nil
}

// Specialized function to convert a 'jack.UnaryExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleUnaryExpr(expression UnaryExpr) ([]vm.Operation, error) {
	ops, err := l.HandleExpression(expression.Operand)
	if err != nil {
		return nil, fmt.Errorf("error handling unary operand: %w", err)
	}

	switch expression.Op {
	case '-':
		return append(ops, vm.ArithmeticOp{Operation: vm.Neg}), nil
	case '~':
		return append(ops, vm.ArithmeticOp{Operation: vm.Not}), nil
	default:
		return nil, fmt.Errorf("unrecognized unary operator: %q", expression.Op)
	}
}

// Specialized function to convert a 'jack.BinaryExpr' to a list of 'vm.Operation'.
func (l *Lowerer) HandleBinaryExpr(expression BinaryExpr) ([]vm.Operation, error) {
	lhsOps, err := l.HandleExpression(expression.Left)
	if err != nil {
		return nil, fmt.Errorf("error handling LHS operand: %w", err)
	}
	rhsOps, err := l.HandleExpression(expression.Right)
	if err != nil {
		return nil, fmt.Errorf("error handling RHS operand: %w", err)
	}
	operands := append(lhsOps, rhsOps...)

	switch expression.Op {
	case '+':
		return append(operands, vm.ArithmeticOp{Operation: vm.Add}), nil
	case '-':
		return append(operands, vm.ArithmeticOp{Operation: vm.Sub}), nil
	case '*':
		return append(operands, vm.FuncCallOp{Name: "Math.multiply", NArgs: 2}), nil
	case '/':
		return append(operands, vm.FuncCallOp{Name: "Math.divide", NArgs: 2}), nil
	case '&':
		return append(operands, vm.ArithmeticOp{Operation: vm.And}), nil
	case '|':
		return append(operands, vm.ArithmeticOp{Operation: vm.Or}), nil
	case '<':
		return append(operands, vm.ArithmeticOp{Operation: vm.Lt}), nil
	case '>':
		return append(operands, vm.ArithmeticOp{Operation: vm.Gt}), nil
	case '=':
		return append(operands, vm.ArithmeticOp{Operation: vm.Eq}), nil
	default:
		return nil, fmt.Errorf("unrecognized binary operator: %q", expression.Op)
	}
}

// lookupSubroutine finds a subroutine by name inside 'class', linearly: classes rarely carry
// more than a handful of subroutines, so this isn't worth its own index structure.
func lookupSubroutine(class Class, name string) (Subroutine, bool) {
	for _, subroutine := range class.Subroutines {
		if subroutine.Name == name {
			return subroutine, true
		}
	}
	return Subroutine{}, false
}

// Specialized function to convert a 'jack.CallExpr' to a list of 'vm.Operation'. The grammar
// alone can't tell apart the three shapes a call can take, so we resolve it here:
//   - bareword 'f(...)': always a method/function of the class currently being compiled
//   - 'x.f(...)' where 'x' resolves as a declared variable: a method call on 'x's object
//   - 'x.f(...)' where 'x' doesn't resolve as a variable: a function/constructor of class 'x'
func (l *Lowerer) HandleCallExpr(expression CallExpr) ([]vm.Operation, error) {
	argsOps := []vm.Operation{}
	for _, arg := range expression.Args {
		ops, err := l.HandleExpression(arg)
		if err != nil {
			return nil, fmt.Errorf("error handling call argument: %w", err)
		}
		argsOps = append(argsOps, ops...)
	}
	nArgs := uint16(len(expression.Args))

	if !expression.IsQualified {
		_, exists := lookupSubroutine(l.class, expression.Method)
		if !exists {
			return nil, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.Method, l.class.Name)
		}

		fName := fmt.Sprintf("%s.%s", l.class.Name, expression.Method)
		thisOp := vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}
		return append(append([]vm.Operation{thisOp}, argsOps...), vm.FuncCallOp{Name: fName, NArgs: nArgs + 1}), nil
	}

	// 'Receiver.Method(...)': check whether 'Receiver' names a variable in scope first.
	if _, variable, err := l.scopes.ResolveVariable(expression.Receiver); err == nil {
		if variable.Type.Base != ObjectType {
			return nil, fmt.Errorf("variable '%s' is not an object, cannot call '%s' on it", expression.Receiver, expression.Method)
		}

		thisOps, err := l.HandleVarExpr(VarExpr{Name: expression.Receiver})
		if err != nil {
			return nil, fmt.Errorf("error handling receiver variable: %w", err)
		}

		fName := fmt.Sprintf("%s.%s", variable.Type.ClassName, expression.Method)
		return append(append(thisOps, argsOps...), vm.FuncCallOp{Name: fName, NArgs: nArgs + 1}), nil
	}

	// Not a variable: 'Receiver' names a class, and the call a function or constructor.
	// A class outside the compiled program (e.g. the OS library) is called as-is, unchecked.
	class, exists := l.program.Get(expression.Receiver)
	if !exists {
		fName := fmt.Sprintf("%s.%s", expression.Receiver, expression.Method)
		return append(argsOps, vm.FuncCallOp{Name: fName, NArgs: nArgs}), nil
	}
	routine, exists := lookupSubroutine(class, expression.Method)
	if !exists {
		return nil, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.Method, class.Name)
	}
	if routine.Kind == Method {
		return nil, fmt.Errorf("'%s.%s' is a method, it cannot be called without an object instance", class.Name, expression.Method)
	}

	fName := fmt.Sprintf("%s.%s", class.Name, expression.Method)
	return append(argsOps, vm.FuncCallOp{Name: fName, NArgs: nArgs}), nil
}
