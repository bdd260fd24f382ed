package expr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheSize is the number of compiled programs kept per Environment.
	DefaultCacheSize = 4096

	// DefaultCostLimit bounds the work a single evaluation may do.
	DefaultCostLimit uint64 = 10000
)

// Type is the static type of a declared identifier.
type Type int

const (
	TypeDyn Type = iota
	TypeBool
	TypeNumber
	TypeString
	TypeObject
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	default:
		return "dyn"
	}
}

func (t Type) celType() *cel.Type {
	switch t {
	case TypeBool:
		return cel.BoolType
	case TypeNumber:
		return cel.DoubleType
	case TypeString:
		return cel.StringType
	case TypeObject:
		return cel.MapType(cel.StringType, cel.DynType)
	default:
		return cel.DynType
	}
}

// Declarations names the identifiers an expression may reference.
type Declarations map[string]Type

// Names returns the declared identifiers in sorted order.
func (d Declarations) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d Declarations) signature() string {
	var b strings.Builder
	for _, name := range d.Names() {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(d[name].String())
		b.WriteByte(';')
	}
	return b.String()
}

// ResultKind is the kind of value a compiled program must produce.
type ResultKind int

const (
	ResultBool ResultKind = iota
	ResultNumber
)

func (k ResultKind) String() string {
	if k == ResultBool {
		return "bool"
	}
	return "number"
}

func (k ResultKind) accepts(t *cel.Type) bool {
	if t.IsExactType(cel.DynType) {
		return true
	}
	if k == ResultBool {
		return t.IsExactType(cel.BoolType)
	}
	return t.IsExactType(cel.DoubleType) || t.IsExactType(cel.IntType) || t.IsExactType(cel.UintType)
}

// Environment compiles expressions against declarations and memoises the
// resulting programs. It is safe for concurrent use.
type Environment struct {
	base      *cel.Env
	programs  *lru.Cache[string, *Program]
	costLimit uint64
}

// NewEnvironment creates an Environment whose program cache holds cacheSize entries.
func NewEnvironment(cacheSize int) (*Environment, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	env, err := cel.NewEnv(baseOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs, err := lru.New[string, *Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	return &Environment{
		base:      env,
		programs:  programs,
		costLimit: DefaultCostLimit,
	}, nil
}

var (
	sharedOnce sync.Once
	shared     *Environment
)

// Shared returns the process-wide Environment used by risk model rules.
func Shared() *Environment {
	sharedOnce.Do(func() {
		env, err := NewEnvironment(DefaultCacheSize)
		if err != nil {
			panic(err)
		}
		shared = env
	})
	return shared
}

// Compile type-checks x against decls and returns a program producing want.
// Every identifier used by x must be declared.
func (e *Environment) Compile(x *Expression, decls Declarations, want ResultKind) (*Program, error) {
	key := want.String() + "|" + decls.signature() + "|" + x.source
	if p, ok := e.programs.Get(key); ok {
		return p, nil
	}

	opts := make([]cel.EnvOption, 0, len(decls))
	for _, name := range decls.Names() {
		opts = append(opts, cel.Variable(name, decls[name].celType()))
	}

	env, err := e.base.Extend(opts...)
	if err != nil {
		return nil, &InvalidExpressionError{Expression: x.text, Err: err}
	}

	ast, iss := env.Compile(x.source)
	if iss.Err() != nil {
		return nil, &InvalidExpressionError{Expression: x.text, Err: iss.Err()}
	}

	if !want.accepts(ast.OutputType()) {
		return nil, &InvalidExpressionError{
			Expression: x.text,
			Err:        fmt.Errorf("expression must produce a %s, got %s", want, ast.OutputType()),
		}
	}

	prg, err := env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, &InvalidExpressionError{Expression: x.text, Err: err}
	}

	p := &Program{text: x.text, kind: want, prg: prg}
	e.programs.Add(key, p)
	return p, nil
}

// CachedPrograms returns the number of programs currently memoised.
func (e *Environment) CachedPrograms() int {
	return e.programs.Len()
}

// Resize changes the program cache capacity and returns how many programs
// were evicted. Sizes below one are ignored.
func (e *Environment) Resize(size int) int {
	if size <= 0 {
		return 0
	}
	return e.programs.Resize(size)
}

func baseOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.ClearMacros(),
		cel.CrossTypeNumericComparisons(true),
	}
}
