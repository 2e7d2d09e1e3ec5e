package jack

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the Jack programming language.
//
// A program is basically a container of classes (the only top-level object allowed)
// and the program is started by locating the Main class and executing its 'main' method.
// Other than classes the other 4 main constructs are:
// - Variables: to declare containers of value (also used for class' fields)
// - Subroutines: to declare containers of instruction (also used for class' methods)
// - Statements: to perform a side effect, conditional jump or other program flow changes
// - Expressions: to perform a calculation that produces a result (arithmetic ops and so on...)

// A Jack Program is just a set of multiple classes, in the Jack spec each class is translated
// to its own .vm file (just like Java .class file) so the class is to be considered the top-level
// entity of the program and is mapped to a role equal to module or namespace in other languages.
type Program map[string]Class

// ----------------------------------------------------------------------------
// Classes

// A Class is a list of Fields that contains the state and Subroutines to change said state.
//
// Both Fields and Subroutines comes in a static variant (resp. static 'Variable' or function Subroutine) where
// the instance of the class is not scoped to the single object instantiation but to the program as a whole
type Class struct {
	Name        string       // The class name or id, will also identify the instantiated object type
	Fields      []Variable   // The variables (static or not) associated to the class or object instance
	Subroutines []Subroutine // The subroutines (static or not) associated to the class or object instance
}

// ----------------------------------------------------------------------------
// Subroutines

// A Subroutine is somewhat like a math function: it takes a series of inputs and returns an output.
//
// As part of its computation (statement evaluation) it may change the state of some variables in the
// program either by direct manipulation of the class' fields (static or not) or by just returning values
// that will influence the program flow once returned to the caller.
//
// Declaration order of Arguments and Locals is significant: it fixes the 'arg'/'local' segment
// index each one is assigned to during lowering, so both are kept as slices rather than maps.
type Subroutine struct {
	Name string         // Name/id, w/ the class id will identify universally the subroutine
	Kind SubroutineKind // Function kind, used to determine the codegen strategy during compilation phase

	Return    DataType // The type of value returned by the procedure ('void' for no value)
	Arguments []Variable
	Locals    []Variable // Every 'var' declared in the subroutine body, in declaration order

	Statements []Statement // The list of statements to be executed, a representation of the func program flow
}

type SubroutineKind string // Enum to manage the different kinds allowed for a Subroutine

const (
	Method      SubroutineKind = "method"
	Function    SubroutineKind = "function"
	Constructor SubroutineKind = "constructor"
)

// ----------------------------------------------------------------------------
// Statements

// A statement produces a side effect in the program flow whether by changing a var or jumping to another inst.
//
// We declare a shared 'Statement' interface for every macro operation available for
// the Jack language, then we define one after the other all the specific statements
// w/ their internal logic and required data to perform it (or compile it).
type Statement interface{ isStatement() }

type LetStmt struct { // Variable (or array cell) assignment construct
	VarName string     // The variable (or array) being assigned
	Index   Expression // non-nil only for 'let a[i] = ...'
	Value   Expression // The expression to be eval'd and assigned
}

type IfStmt struct { // Conditional jump construct, will have to fork the execution flow based on a condition
	Condition Expression // The expression to be eval'd, cast to a bool value
	Then      []Statement
	Else      []Statement // nil when there's no 'else' clause
}

type WhileStmt struct { // Conditional iteration construct, will execute a block based on a condition
	Condition Expression
	Body      []Statement
}

type DoStmt struct { // Unconditional call, will call another subroutine and ignore its return value
	Call CallExpr
}

type ReturnStmt struct { // Unconditional jump, will go back to the caller and provide it an (optional) output
	Value Expression // nil for a bare 'return;'
}

func (LetStmt) isStatement()    {}
func (IfStmt) isStatement()     {}
func (WhileStmt) isStatement()  {}
func (DoStmt) isStatement()     {}
func (ReturnStmt) isStatement() {}

// ----------------------------------------------------------------------------
// Expressions

// Expressions take one or two sub-expressions and create a new value that can be used further.
//
// We declare a shared 'Expression' interface for every macro operation available for
// the Jack language, then we define one after the other all the specific expressions
// w/ their internal logic and required data to perform it (or compile it).
type Expression interface{ isExpression() }

type VarExpr struct{ Name string } // Extracts the value contained in a variable

type IntLiteral struct{ Value uint16 }

type StringLiteral struct{ Value string }

// KeywordLiteral covers the 'true' | 'false' | 'null' | 'this' keyword constants,
// each of which lowers to a different VM op sequence (see lowering.go).
type KeywordLiteral struct{ Keyword string }

type ArrayExpr struct { // Extracts the value of a single cell/element of an array
	Name  string
	Index Expression
}

type UnaryExpr struct { // Applies a transformation to 1 expression to produce a new value
	Op      byte // '-' or '~'
	Operand Expression
}

type BinaryExpr struct { // Combines the value of 2 expressions to produce a new value
	Op    byte // one of + - * / & | < > =
	Left  Expression
	Right Expression
}

// CallExpr covers both bareword calls ('f(args)', IsQualified = false, Receiver = "")
// and qualified calls ('X.f(args)', IsQualified = true, Receiver = "X"). Whether 'X'
// turns out to name a variable, the current class, or another class is resolved
// during lowering: the grammar alone can't tell those apart.
type CallExpr struct {
	IsQualified bool
	Receiver    string
	Method      string
	Args        []Expression
}

func (VarExpr) isExpression()        {}
func (IntLiteral) isExpression()     {}
func (StringLiteral) isExpression()  {}
func (KeywordLiteral) isExpression() {}
func (ArrayExpr) isExpression()      {}
func (UnaryExpr) isExpression()      {}
func (BinaryExpr) isExpression()     {}
func (CallExpr) isExpression()       {}

// ----------------------------------------------------------------------------
// Variables

// Variables are containers of value that can be read/written through expressions/statements.
//
// The declared 'Variable' struct accommodates multiple configurations at the same time such as
// - Static & instanced fields for classes
// - Local variables and parameters for subroutines
type Variable struct {
	Name string   // The var name, acts as identifier in the scope it is declared
	Kind VarKind  // Determines both the storage segment and the symbol table it belongs to
	Type DataType // The data type defines how to read or cast the value contained by the variable
}

type VarKind string // Enum to manage the kinds allowed for a Variable

const (
	Local     VarKind = "local"
	Field     VarKind = "field"
	Static    VarKind = "static"
	Parameter VarKind = "parameter"
)

// DataType names either a primitive type or a class (object) type; 'ClassName' is
// only meaningful when 'Base == ObjectType'.
type DataType struct {
	Base      BaseType
	ClassName string
}

type BaseType string // Enum to manage the base kinds allowed for a DataType

const (
	IntType     BaseType = "int"
	CharType    BaseType = "char"
	BooleanType BaseType = "boolean"
	VoidType    BaseType = "void"
	ObjectType  BaseType = "object"
)
