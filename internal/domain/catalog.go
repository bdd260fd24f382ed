package domain

// CatalogBundle is the serialised calculator configuration: variables, the
// procedure catalog, rules, risk models and the specialties that use them.
type CatalogBundle struct {
	Version        int                `json:"version" yaml:"version"`
	VariableGroups []VariableGroupDef `json:"variableGroups" yaml:"variableGroups"`
	Variables      []VariableDef      `json:"variables" yaml:"variables"`
	Procedures     []ProcedureDef     `json:"procedures" yaml:"procedures"`
	Rules          []RuleDef          `json:"rules" yaml:"rules"`
	Models         []ModelDef         `json:"models" yaml:"models"`
	Specialties    []SpecialtyDef     `json:"specialties" yaml:"specialties"`
}

// VariableGroupDef defines a presentation group.
type VariableGroupDef struct {
	Name         string `json:"name" yaml:"name"`
	DisplayOrder int    `json:"displayOrder" yaml:"displayOrder"`
}

// VariableDef defines a variable. Kind selects which of the optional fields
// apply: numerical and discreteNumerical use Range and Units, multiSelect uses
// Options and DisplayType, discreteNumerical uses Categories.
type VariableDef struct {
	Key         string `json:"key" yaml:"key"`
	Kind        string `json:"kind" yaml:"kind"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Group       string `json:"group" yaml:"group"`
	HelpText    string `json:"helpText,omitempty" yaml:"helpText,omitempty"`

	Range       *RangeDef     `json:"range,omitempty" yaml:"range,omitempty"`
	Units       string        `json:"units,omitempty" yaml:"units,omitempty"`
	Options     []string      `json:"options,omitempty" yaml:"options,omitempty"`
	DisplayType string        `json:"displayType,omitempty" yaml:"displayType,omitempty"`
	Categories  []CategoryDef `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// RangeDef defines a numerical range.
type RangeDef struct {
	Lower          float32 `json:"lower" yaml:"lower"`
	LowerInclusive bool    `json:"lowerInclusive" yaml:"lowerInclusive"`
	Upper          float32 `json:"upper" yaml:"upper"`
	UpperInclusive bool    `json:"upperInclusive" yaml:"upperInclusive"`
}

// CategoryDef defines one category of a discrete numerical variable.
type CategoryDef struct {
	Label string   `json:"label" yaml:"label"`
	Range RangeDef `json:"range" yaml:"range"`
}

// ProcedureDef is one entry of the procedure catalog.
type ProcedureDef struct {
	CPTCode          string  `json:"cptCode" yaml:"cptCode"`
	RVU              float32 `json:"rvu" yaml:"rvu"`
	ShortDescription string  `json:"shortDescription" yaml:"shortDescription"`
	LongDescription  string  `json:"longDescription" yaml:"longDescription"`
	Complexity       string  `json:"complexity" yaml:"complexity"`
	Eligible         bool    `json:"eligible" yaml:"eligible"`
}

// RuleDef defines a rule by name.
type RuleDef struct {
	Name          string       `json:"name" yaml:"name"`
	Matchers      []MatcherDef `json:"matchers,omitempty" yaml:"matchers,omitempty"`
	Summand       string       `json:"summand" yaml:"summand"`
	BypassEnabled bool         `json:"bypassEnabled" yaml:"bypassEnabled"`
}

// MatcherDef references a variable by key. A nil Enabled means enabled.
type MatcherDef struct {
	Variable  string `json:"variable" yaml:"variable"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the matcher's condition is evaluated.
func (m MatcherDef) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Term types.
const (
	TermNumerical = "numerical"
	TermRule      = "rule"
)

// ModelDef defines a risk model.
type ModelDef struct {
	Name  string    `json:"name" yaml:"name"`
	Terms []TermDef `json:"terms" yaml:"terms"`
}

// TermDef defines a model term. Numerical terms reference a variable key, rule
// terms a rule name.
type TermDef struct {
	Type        string  `json:"type" yaml:"type"`
	Coefficient float32 `json:"coefficient" yaml:"coefficient"`
	Variable    string  `json:"variable,omitempty" yaml:"variable,omitempty"`
	Rule        string  `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// SpecialtyDef groups the models calculated together for a surgical specialty.
type SpecialtyDef struct {
	Name    string   `json:"name" yaml:"name"`
	VistaID int      `json:"vistaId" yaml:"vistaId"`
	Models  []string `json:"models" yaml:"models"`
}
