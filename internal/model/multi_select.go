package model

import "fmt"

// DisplayType controls how a MultiSelectVariable is presented. It has no effect
// on calculation.
type DisplayType int

const (
	DisplayRadio DisplayType = iota
	DisplayDropdown
)

func (d DisplayType) String() string {
	if d == DisplayDropdown {
		return "dropdown"
	}
	return "radio"
}

// ParseDisplayType is the inverse of DisplayType.String. An empty string means radio.
func ParseDisplayType(s string) (DisplayType, error) {
	switch s {
	case "", "radio":
		return DisplayRadio, nil
	case "dropdown":
		return DisplayDropdown, nil
	default:
		return 0, fmt.Errorf("unknown display type %q", s)
	}
}

// MultiSelectVariable accepts one of an ordered list of option labels.
type MultiSelectVariable struct {
	variableBase
	options     []string
	displayType DisplayType
}

// NewMultiSelectVariable validates info and the options. Option labels must be
// unique.
func NewMultiSelectVariable(info VariableInfo, options []string, displayType DisplayType) (*MultiSelectVariable, error) {
	base, err := newVariableBase(info)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("variable %s: at least one option is required", info.Key)
	}

	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		if err := validateDisplayName("option", opt); err != nil {
			return nil, err
		}
		if seen[opt] {
			return nil, fmt.Errorf("variable %s: duplicate option %q", info.Key, opt)
		}
		seen[opt] = true
	}

	return &MultiSelectVariable{
		variableBase: base,
		options:      append([]string(nil), options...),
		displayType:  displayType,
	}, nil
}

func (v *MultiSelectVariable) Kind() Kind               { return KindMultiSelect }
func (v *MultiSelectVariable) DisplayType() DisplayType { return v.displayType }

// Options returns a copy of the option labels in display order.
func (v *MultiSelectVariable) Options() []string {
	return append([]string(nil), v.options...)
}

// MakeValue selects option, failing with an InvalidOptionError if the variable
// has no such option.
func (v *MultiSelectVariable) MakeValue(option string) (MultiSelectValue, error) {
	for _, opt := range v.options {
		if opt == option {
			return MultiSelectValue{variable: v, option: opt}, nil
		}
	}
	return MultiSelectValue{}, &InvalidOptionError{VariableKey: v.Key(), Option: option}
}

// MultiSelectValue is the option chosen for a MultiSelectVariable.
type MultiSelectValue struct {
	variable *MultiSelectVariable
	option   string
}

func (v MultiSelectValue) Variable() Variable    { return v.variable }
func (v MultiSelectValue) Kind() Kind            { return KindMultiSelect }
func (v MultiSelectValue) Option() string        { return v.option }
func (v MultiSelectValue) Datum() any            { return v.option }
func (v MultiSelectValue) DisplayString() string { return v.option }
func (v MultiSelectValue) String() string        { return valueString(v) }
func (v MultiSelectValue) sealedValue()          {}
