package calculation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-clinical/riskcalc/internal/catalog"
	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/metrics"
	"github.com/opensource-clinical/riskcalc/internal/model"
)

var (
	ErrAlreadySigned   = errors.New("calculation has already been signed")
	ErrPatientMismatch = errors.New("calculation belongs to a different patient")
)

var tracer = otel.Tracer("riskcalc-calculation")

// Service calculates, stores and signs risk model results.
type Service struct {
	catalog     *catalog.Catalog
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	metrics     *metrics.Metrics
	resultTTL   time.Duration
	maxParallel int
	now         func() time.Time
}

// NewService creates a calculation service. cache, bus and m may be nil.
func NewService(cat *catalog.Catalog, repo domain.Repository, cache domain.Cache, bus domain.EventBus, m *metrics.Metrics, cfg domain.CalculationConfig) *Service {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Service{
		catalog:     cat,
		repo:        repo,
		cache:       cache,
		bus:         bus,
		metrics:     m,
		resultTTL:   cfg.ResultTTL,
		maxParallel: maxParallel,
		now:         time.Now,
	}
}

// Catalog returns the catalog the service calculates against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Calculate evaluates every model of the requested specialty. Inputs that do
// not parse produce an *InputErrors; absent inputs produce a
// *model.MissingValuesError naming every missing variable of the specialty.
func (s *Service) Calculate(ctx context.Context, req *domain.CalculationRequest) (*domain.CalculationResult, error) {
	start := s.now()
	ctx, span := tracer.Start(ctx, "calculation.Calculate",
		trace.WithAttributes(attribute.String("specialty", req.Specialty)),
	)
	defer span.End()

	result, err := s.calculate(ctx, req, start)
	s.metrics.ObserveCalculation(specialtyLabel(req, err), resultLabel(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("calculation.id", result.ID))

	if err := s.repo.SaveCalculation(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save calculation: %w", err)
	}
	s.cacheResult(ctx, result)
	s.publish(ctx, domain.TopicCalculationCompleted, result)

	slog.Debug("calculation completed",
		"calculation_id", result.ID,
		"specialty", result.Specialty,
		"models", len(result.Outcomes),
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

func (s *Service) calculate(ctx context.Context, req *domain.CalculationRequest, start time.Time) (*domain.CalculationResult, error) {
	snap, err := s.catalog.Snapshot()
	if err != nil {
		return nil, err
	}
	sp, err := snap.Specialty(req.Specialty)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.Specialty)
	}

	vars := sp.RequiredVariables()
	values, err := ParseValues(vars, req.Inputs)
	if err != nil {
		return nil, err
	}

	set, err := model.NewValueSet(values)
	if err != nil {
		return nil, err
	}
	if missing := set.Missing(vars); len(missing) > 0 {
		mv := &model.MissingValuesError{Variables: make(map[model.Variable]struct{}, len(missing))}
		for _, v := range missing {
			mv.Variables[v] = struct{}{}
		}
		return nil, mv
	}

	evals, err := s.evaluateModels(ctx, sp.Models, values)
	if err != nil {
		return nil, err
	}

	finished := s.now()
	result := &domain.CalculationResult{
		ID:           uuid.New().String(),
		Specialty:    sp.Name,
		PatientDFN:   req.PatientDFN,
		Inputs:       echoInputs(req.Inputs),
		Values:       inputValues(values),
		Outcomes:     make([]domain.ModelOutcome, 0, len(evals)),
		StartedAt:    start,
		CalculatedAt: finished,
		DurationMs:   float64(finished.Sub(start).Microseconds()) / 1000,
	}
	for _, ev := range evals {
		result.Outcomes = append(result.Outcomes, modelOutcome(ev))
		s.metrics.ObserveProbability(ev.Model.DisplayName(), ev.Probability)
	}
	return result, nil
}

// evaluateModels runs the models concurrently, bounded by maxParallel, and
// returns their evaluations ordered by model name. The first failure in model
// order is returned.
func (s *Service) evaluateModels(ctx context.Context, models []*model.RiskModel, values []model.Value) ([]*model.Evaluation, error) {
	_, span := tracer.Start(ctx, "calculation.evaluateModels",
		trace.WithAttributes(attribute.Int("models", len(models))),
	)
	defer span.End()

	evals := make([]*model.Evaluation, len(models))
	errs := make([]error, len(models))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxParallel)

	for i, m := range models {
		wg.Add(1)
		go func(idx int, m *model.RiskModel) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			evals[idx], errs[idx] = m.Evaluate(values)
		}(i, m)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", models[i].DisplayName(), err)
		}
	}

	slices.SortFunc(evals, func(a, b *model.Evaluation) int { return a.Model.Compare(b.Model) })
	return evals, nil
}

func modelOutcome(ev *model.Evaluation) domain.ModelOutcome {
	out := domain.ModelOutcome{
		Model:       ev.Model.DisplayName(),
		Probability: ev.Probability,
		Sum:         ev.Sum,
		Terms:       make([]domain.TermOutcome, len(ev.Terms)),
	}
	for i, tc := range ev.Terms {
		out.Terms[i] = domain.TermOutcome{
			Term:        tc.Term.String(),
			Coefficient: tc.Term.Coefficient(),
			Status:      tc.Status.String(),
			Summand:     tc.Summand,
		}
	}
	return out
}

func inputValues(values []model.Value) []domain.InputValue {
	sorted := slices.Clone(values)
	model.SortValues(sorted)

	out := make([]domain.InputValue, len(sorted))
	for i, v := range sorted {
		out[i] = domain.InputValue{
			Key:         v.Variable().Key(),
			DisplayName: v.Variable().DisplayName(),
			Kind:        v.Kind().String(),
			Display:     v.DisplayString(),
		}
	}
	return out
}

func echoInputs(inputs map[string]string) map[string]string {
	out := make(map[string]string, len(inputs))
	for k, v := range inputs {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// Get returns a calculation result, from the cache when possible.
func (s *Service) Get(ctx context.Context, id string) (*domain.CalculationResult, error) {
	if s.cache != nil {
		result, err := s.cache.GetCalculation(ctx, id)
		if err != nil {
			slog.Warn("calculation cache lookup failed", "calculation_id", id, "error", err)
		} else if result != nil {
			return result, nil
		}
	}

	result, err := s.repo.GetCalculation(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheResult(ctx, result)
	return result, nil
}

// Sign records a calculation result in a patient's record. A result may be
// signed only once.
func (s *Service) Sign(ctx context.Context, id, patientDFN string) (*domain.SignedResult, error) {
	ctx, span := tracer.Start(ctx, "calculation.Sign",
		trace.WithAttributes(attribute.String("calculation.id", id)),
	)
	defer span.End()

	patientDFN = strings.TrimSpace(patientDFN)
	if patientDFN == "" {
		return nil, &InputErrors{Errors: map[string]string{"patientDfn": "is required"}}
	}

	result, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.Signed {
		return nil, ErrAlreadySigned
	}
	if result.PatientDFN != "" && result.PatientDFN != patientDFN {
		return nil, ErrPatientMismatch
	}

	signedAt := s.now()
	signed := &domain.SignedResult{
		CalculationID: result.ID,
		PatientDFN:    patientDFN,
		Specialty:     result.Specialty,
		CPTCode:       procedureCode(result),
		SignatureTime: signedAt,
		SecondsToSign: int(signedAt.Sub(result.CalculatedAt).Seconds()),
		Inputs:        result.Inputs,
		Outcomes:      make(map[string]float64, len(result.Outcomes)),
	}
	for _, o := range result.Outcomes {
		signed.Outcomes[o.Model] = o.Probability
	}

	if err := s.repo.SaveSignedResult(ctx, signed); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, ErrAlreadySigned
		}
		return nil, fmt.Errorf("failed to save signed result: %w", err)
	}

	result.Signed = true
	result.PatientDFN = patientDFN
	if err := s.repo.SaveCalculation(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to update calculation: %w", err)
	}
	s.cacheResult(ctx, result)
	s.publish(ctx, domain.TopicResultSigned, signed)
	s.metrics.ObserveSignature(result.Specialty)

	slog.Info("calculation signed",
		"calculation_id", result.ID,
		"specialty", result.Specialty,
		"seconds_to_sign", signed.SecondsToSign,
	)
	return signed, nil
}

// procedureCode returns the CPT code submitted for the calculation's procedure
// variable, if it had one.
func procedureCode(result *domain.CalculationResult) string {
	for _, v := range result.Values {
		if v.Kind == model.KindProcedure.String() {
			return result.Inputs[v.Key]
		}
	}
	return ""
}

// ResultsForPatient lists the signed results of a patient.
func (s *Service) ResultsForPatient(ctx context.Context, patientDFN string) ([]*domain.SignedResult, error) {
	patientDFN = strings.TrimSpace(patientDFN)
	if patientDFN == "" {
		return nil, &InputErrors{Errors: map[string]string{"patientDfn": "is required"}}
	}
	return s.repo.ListSignedResults(ctx, patientDFN)
}

// ReloadCatalog makes bundle the current catalog after storing it as the
// newest repository version. A nil bundle reloads the newest stored version.
func (s *Service) ReloadCatalog(ctx context.Context, bundle *domain.CatalogBundle) (catalog.Stats, error) {
	stats, err := s.reloadCatalog(ctx, bundle)
	s.metrics.ObserveCatalogReload(err)
	if err != nil {
		return catalog.Stats{}, err
	}
	s.publish(ctx, domain.TopicCatalogReloaded, stats)
	return stats, nil
}

func (s *Service) reloadCatalog(ctx context.Context, bundle *domain.CatalogBundle) (catalog.Stats, error) {
	var err error
	if bundle == nil {
		if bundle, err = catalog.LoadFromRepository(ctx, s.repo); err != nil {
			return catalog.Stats{}, err
		}
	} else if _, err = catalog.Seed(ctx, s.repo, bundle); err != nil {
		return catalog.Stats{}, err
	}

	snap, err := s.catalog.Reload(bundle)
	if err != nil {
		return catalog.Stats{}, err
	}
	return snap.Stats(), nil
}

func (s *Service) cacheResult(ctx context.Context, result *domain.CalculationResult) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetCalculation(ctx, result, s.resultTTL); err != nil {
		slog.Warn("failed to cache calculation", "calculation_id", result.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func resultLabel(err error) string {
	var (
		inputErr   *InputErrors
		missingErr *model.MissingValuesError
	)
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.As(err, &inputErr):
		return metrics.ResultInvalidInput
	case errors.As(err, &missingErr):
		return metrics.ResultMissingValues
	default:
		return metrics.ResultError
	}
}

// specialtyLabel keeps unknown specialty names out of metric labels.
func specialtyLabel(req *domain.CalculationRequest, err error) string {
	if errors.Is(err, catalog.ErrUnknownSpecialty) || errors.Is(err, catalog.ErrNoCatalog) {
		return "unknown"
	}
	return req.Specialty
}
