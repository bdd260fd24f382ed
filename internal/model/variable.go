// Package model is the risk calculation core: variables and their values,
// conditional rules, model terms and the risk models that combine them.
//
// Everything here is immutable once constructed and performs no I/O, so a
// configured model may be evaluated from any number of goroutines.
package model

import (
	"regexp"
	"unicode/utf8"

	"github.com/opensource-clinical/riskcalc/internal/expr"
)

const (
	KeyMax         = 40
	DisplayNameMax = 80
	HelpTextMax    = 4000
)

var (
	validKey         = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	validDisplayName = regexp.MustCompile(`^[A-Za-z0-9 _.,:;'"()/%&+<>=#?!-]+$`)
)

// Reserved binding names that no variable key may take.
const (
	BindingCoefficient = "coefficient"
	BindingThis        = "this"
)

// exprReserved holds the expression language's keywords and reserved words.
// A key spelled like one would either be read as a literal or fail to parse.
var exprReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true,
}

// Kind identifies the variant of a Variable or Value.
type Kind int

const (
	KindNumerical Kind = iota
	KindBoolean
	KindMultiSelect
	KindProcedure
	KindDiscreteNumerical
)

func (k Kind) String() string {
	switch k {
	case KindNumerical:
		return "numerical"
	case KindBoolean:
		return "boolean"
	case KindMultiSelect:
		return "multiSelect"
	case KindProcedure:
		return "procedure"
	case KindDiscreteNumerical:
		return "discreteNumerical"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := KindNumerical; k <= KindDiscreteNumerical; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// VariableGroup collects related variables for presentation.
type VariableGroup struct {
	Name         string
	DisplayOrder int
}

// Variable is a named, typed input slot of a risk model. The set of
// implementations is closed: *NumericalVariable, *BooleanVariable,
// *MultiSelectVariable, *ProcedureVariable and *DiscreteNumericalVariable.
type Variable interface {
	Key() string
	DisplayName() string
	Group() VariableGroup
	HelpText() string
	Kind() Kind
	String() string

	sealed()
}

// VariableInfo holds the attributes common to every variable kind.
type VariableInfo struct {
	Key         string
	DisplayName string
	Group       VariableGroup
	HelpText    string
}

type variableBase struct {
	info VariableInfo
}

func newVariableBase(info VariableInfo) (variableBase, error) {
	if err := validateKey(info.Key); err != nil {
		return variableBase{}, err
	}
	if err := validateDisplayName("display name", info.DisplayName); err != nil {
		return variableBase{}, err
	}
	if utf8.RuneCountInString(info.HelpText) > HelpTextMax {
		return variableBase{}, &InvalidNameError{Field: "help text", Value: truncate(info.HelpText, 20), Reason: "must be 4000 characters or less"}
	}
	return variableBase{info: info}, nil
}

func (b *variableBase) Key() string          { return b.info.Key }
func (b *variableBase) DisplayName() string  { return b.info.DisplayName }
func (b *variableBase) Group() VariableGroup { return b.info.Group }
func (b *variableBase) HelpText() string     { return b.info.HelpText }
func (b *variableBase) String() string       { return b.info.DisplayName }
func (b *variableBase) sealed()              {}

func validateKey(key string) error {
	switch {
	case key == "":
		return &InvalidKeyError{Key: key, Reason: "must not be empty"}
	case len(key) > KeyMax:
		return &InvalidKeyError{Key: key, Reason: "must be 40 characters or less"}
	case !validKey.MatchString(key):
		return &InvalidKeyError{Key: key, Reason: "must start with a letter and contain only letters, digits and underscores"}
	case key == BindingCoefficient || key == BindingThis || exprReserved[key]:
		return &InvalidKeyError{Key: key, Reason: "is reserved"}
	}
	return nil
}

func validateDisplayName(field, name string) error {
	switch {
	case name == "":
		return &InvalidNameError{Field: field, Value: name, Reason: "must not be empty"}
	case utf8.RuneCountInString(name) > DisplayNameMax:
		return &InvalidNameError{Field: field, Value: truncate(name, 20), Reason: "must be 80 characters or less"}
	case !validDisplayName.MatchString(name):
		return &InvalidNameError{Field: field, Value: name, Reason: "contains invalid characters"}
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// bindingType is the static expression type of a variable's datum.
func bindingType(v Variable) expr.Type {
	switch v.Kind() {
	case KindNumerical:
		return expr.TypeNumber
	case KindBoolean:
		return expr.TypeBool
	case KindMultiSelect:
		return expr.TypeString
	case KindProcedure, KindDiscreteNumerical:
		return expr.TypeObject
	default:
		return expr.TypeDyn
	}
}

// datumFields lists the fields of an object-valued datum, which a matcher's
// condition may reference directly.
func datumFields(v Variable) []string {
	switch v.Kind() {
	case KindProcedure:
		return []string{"cptCode", "rvu", "complexity", "shortDescription", "longDescription", "eligible"}
	case KindDiscreteNumerical:
		return []string{"category", "value"}
	default:
		return nil
	}
}
