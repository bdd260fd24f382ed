package domain

import "time"

// CalculationRequest asks for the risk models of a specialty to be calculated.
// Inputs are raw submitted values keyed by variable key.
type CalculationRequest struct {
	Specialty  string            `json:"specialty"`
	PatientDFN string            `json:"patientDfn,omitempty"`
	Inputs     map[string]string `json:"inputs"`
}

// CalculationResult is a completed calculation.
type CalculationResult struct {
	ID           string            `json:"id"`
	Specialty    string            `json:"specialty"`
	PatientDFN   string            `json:"patientDfn,omitempty"`
	Inputs       map[string]string `json:"inputs"`
	Values       []InputValue      `json:"values"`
	Outcomes     []ModelOutcome    `json:"outcomes"`
	StartedAt    time.Time         `json:"startedAt"`
	CalculatedAt time.Time         `json:"calculatedAt"`
	DurationMs   float64           `json:"durationMs"`
	Signed       bool              `json:"signed"`
}

// InputValue is a parsed input as displayed to the user.
type InputValue struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Kind        string `json:"kind"`
	Display     string `json:"display"`
}

// ModelOutcome is the result of one risk model.
type ModelOutcome struct {
	Model       string        `json:"model"`
	Probability float64       `json:"probability"`
	Sum         float32       `json:"sum"`
	Terms       []TermOutcome `json:"terms"`
}

// TermOutcome is one term's contribution to a model's sum.
type TermOutcome struct {
	Term        string  `json:"term"`
	Coefficient float32 `json:"coefficient"`
	Status      string  `json:"status"`
	Summand     float32 `json:"summand"`
}

// SignedResult is a calculation result signed into a patient's record.
type SignedResult struct {
	CalculationID string             `json:"calculationId"`
	PatientDFN    string             `json:"patientDfn"`
	Specialty     string             `json:"specialty"`
	CPTCode       string             `json:"cptCode,omitempty"`
	SignatureTime time.Time          `json:"signatureTime"`
	SecondsToSign int                `json:"secondsToSign"`
	Inputs        map[string]string  `json:"inputs"`
	Outcomes      map[string]float64 `json:"outcomes"`
}

// CalculationReply answers a CalculationRequest sent over the event bus.
// Exactly one of Result and Error is set.
type CalculationReply struct {
	Result *CalculationResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`

	// MissingVariables and InputErrors detail why a calculation was refused.
	MissingVariables []string          `json:"missingVariables,omitempty"`
	InputErrors      map[string]string `json:"inputErrors,omitempty"`
}
