package query

// Command names an operation of the model engine.
type Command string

const (
	Add         Command = "add"
	Get         Command = "get"
	GetCount    Command = "getCount"
	GetMany     Command = "getMany"
	Inc         Command = "inc"
	Lookup      Command = "lookup"
	Set         Command = "set"
	Remove      Command = "remove"
	OutputCache Command = "outputCache"
	FlushCache  Command = "flushCache"
)

var commands = map[string]Command{
	string(Add):         Add,
	string(Get):         Get,
	string(GetCount):    GetCount,
	string(GetMany):     GetMany,
	string(Inc):         Inc,
	string(Lookup):      Lookup,
	string(Set):         Set,
	string(Remove):      Remove,
	string(OutputCache): OutputCache,
	string(FlushCache):  FlushCache,
}

// ParseCommand resolves a command name; names are case sensitive.
func ParseCommand(name string) (Command, bool) {
	c, ok := commands[name]
	return c, ok
}

// IsWrite reports whether the command mutates the backing store.
func (c Command) IsWrite() bool {
	switch c {
	case Add, Set, Inc, Remove:
		return true
	}
	return false
}

// OutputStyle alters the shape or semantics of a result.
type OutputStyle string

const (
	ReturnChanges OutputStyle = "RETURN_CHANGES"
	ByID          OutputStyle = "BY_ID"
	IncludeFound  OutputStyle = "INCLUDE_FOUND"
	FoundOnly     OutputStyle = "FOUND_ONLY"
	LookupRaw     OutputStyle = "LOOKUP_RAW"
)

var outputStyles = map[OutputStyle]struct{}{
	ReturnChanges: {},
	ByID:          {},
	IncludeFound:  {},
	FoundOnly:     {},
	LookupRaw:     {},
}

// Operator is a filter token as it appears in lookup input.
type Operator string

const (
	OpEqual    Operator = "="
	OpSuffix   Operator = "%search"
	OpPrefix   Operator = "search%"
	OpContains Operator = "%search%"
	OpGT       Operator = ">"
	OpGTE      Operator = ">="
	OpLT       Operator = "<"
	OpLTE      Operator = "<="
	OpModulo   Operator = "modulo"
)

// filterOperators is the order in which clauses are compiled, which keeps the
// generated SQL stable.
var filterOperators = []Operator{OpEqual, OpSuffix, OpPrefix, OpContains, OpGT, OpGTE, OpLT, OpLTE, OpModulo}

// Pattern wraps a LIKE operand with the wildcards implied by the operator.
func (op Operator) Pattern(value string) string {
	switch op {
	case OpSuffix:
		return "%" + value
	case OpPrefix:
		return value + "%"
	case OpContains:
		return "%" + value + "%"
	}
	return value
}

// IsLike reports whether the operator renders as a LIKE clause.
func (op Operator) IsLike() bool {
	return op == OpSuffix || op == OpPrefix || op == OpContains
}
