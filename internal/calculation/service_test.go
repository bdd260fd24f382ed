package calculation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-clinical/riskcalc/internal/bus"
	"github.com/opensource-clinical/riskcalc/internal/cache"
	"github.com/opensource-clinical/riskcalc/internal/catalog"
	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/metrics"
	"github.com/opensource-clinical/riskcalc/internal/model"
	"github.com/opensource-clinical/riskcalc/internal/repository"
)

type fixture struct {
	svc   *Service
	repo  domain.Repository
	cache *cache.LRUCache
	bus   *bus.ChannelBus
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(16)
	t.Cleanup(func() { eventBus.Close() })

	f := &fixture{
		repo:  repo,
		cache: cache.NewLRUCache(100),
		bus:   eventBus,
		clock: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	cfg := domain.DefaultConfig().Calculation
	f.svc = NewService(catalog.New(loadSnapshot(t)), repo, f.cache, eventBus, metrics.New(), cfg)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

// events collects the payloads published on topic.
func (f *fixture) events(t *testing.T, topic string) <-chan []byte {
	t.Helper()
	ch := make(chan []byte, 8)
	_, err := f.bus.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg.Payload
		return nil
	})
	require.NoError(t, err)
	return ch
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func generalSurgeryInputs() map[string]string {
	return map[string]string{
		"procedure":        "26546",
		"age":              "70",
		"dnr":              "yes",
		"functionalStatus": "Totally dependent",
		"preopWbc":         "12.5",
	}
}

func TestCalculate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		completed := f.events(t, domain.TopicCalculationCompleted)

		result, err := f.svc.Calculate(ctx, &domain.CalculationRequest{
			Specialty: "General Surgery",
			Inputs:    generalSurgeryInputs(),
		})
		require.NoError(t, err)

		assert.NotEmpty(t, result.ID)
		assert.Equal(t, "General Surgery", result.Specialty)
		assert.Equal(t, f.clock, result.CalculatedAt)
		require.Len(t, result.Outcomes, 2)
		assert.Equal(t, "General 30-day mortality estimate", result.Outcomes[0].Model)
		assert.Equal(t, "Thoracic 30-day mortality estimate", result.Outcomes[1].Model)

		// age 70 × 0.03 + dnr 1.4 - 6.1
		general := result.Outcomes[0]
		assert.InDelta(t, 2.1+1.4-6.1, general.Sum, 1e-4)
		assert.InDelta(t, model.Logistic(2.1+1.4-6.1), general.Probability, 1e-4)
		require.Len(t, general.Terms, 3)
		assert.Equal(t, "fired", general.Terms[1].Status)

		thoracic := result.Outcomes[1]
		assert.InDelta(t, 0.503+1.4+1.1+0.4+0.3-0.6-5.2, thoracic.Sum, 1e-4)

		require.Len(t, result.Values, 5)
		assert.Equal(t, "age", result.Values[0].Key, "values are ordered by display name")

		var event domain.CalculationResult
		require.NoError(t, json.Unmarshal(receive(t, completed), &event))
		assert.Equal(t, result.ID, event.ID)

		stored, err := f.repo.GetCalculation(ctx, result.ID)
		require.NoError(t, err)
		assert.Equal(t, result.Specialty, stored.Specialty)
	})

	t.Run("MissingValues", func(t *testing.T) {
		f := newFixture(t)
		inputs := generalSurgeryInputs()
		delete(inputs, "age")
		inputs["dnr"] = ""

		_, err := f.svc.Calculate(ctx, &domain.CalculationRequest{Specialty: "General Surgery", Inputs: inputs})
		var missing *model.MissingValuesError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{"age", "dnr"}, missing.Keys())
	})

	t.Run("InvalidInputs", func(t *testing.T) {
		f := newFixture(t)
		inputs := generalSurgeryInputs()
		inputs["age"] = "1000"
		inputs["gender"] = "Female"

		_, err := f.svc.Calculate(ctx, &domain.CalculationRequest{Specialty: "General Surgery", Inputs: inputs})
		var inputErr *InputErrors
		require.True(t, errors.As(err, &inputErr))
		assert.Equal(t, []string{"age", "gender"}, inputErr.Keys())
		assert.Equal(t, "value must be less than or equal to 999", inputErr.Errors["age"])
	})

	t.Run("UnknownSpecialty", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Calculate(ctx, &domain.CalculationRequest{Specialty: "Cardiac", Inputs: generalSurgeryInputs()})
		assert.ErrorIs(t, err, catalog.ErrUnknownSpecialty)
	})

	t.Run("NoCatalog", func(t *testing.T) {
		f := newFixture(t)
		f.svc.catalog = catalog.New(nil)
		_, err := f.svc.Calculate(ctx, &domain.CalculationRequest{Specialty: "Thoracic"})
		assert.ErrorIs(t, err, catalog.ErrNoCatalog)
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.svc.Calculate(ctx, &domain.CalculationRequest{
		Specialty: "Thoracic",
		Inputs:    generalSurgeryInputs(),
	})
	require.NoError(t, err)

	t.Run("FromCache", func(t *testing.T) {
		cached, err := f.cache.GetCalculation(ctx, result.ID)
		require.NoError(t, err)
		require.NotNil(t, cached)

		got, err := f.svc.Get(ctx, result.ID)
		require.NoError(t, err)
		assert.Equal(t, result.ID, got.ID)
	})

	t.Run("FromRepository", func(t *testing.T) {
		require.NoError(t, f.cache.Delete(ctx, "calc:"+result.ID))

		got, err := f.svc.Get(ctx, result.ID)
		require.NoError(t, err)
		assert.Equal(t, result.ID, got.ID)

		recached, err := f.cache.GetCalculation(ctx, result.ID)
		require.NoError(t, err)
		assert.NotNil(t, recached)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := f.svc.Get(ctx, "nonexistent")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSign(t *testing.T) {
	ctx := context.Background()

	t.Run("SignOnce", func(t *testing.T) {
		f := newFixture(t)
		signedEvents := f.events(t, domain.TopicResultSigned)

		result, err := f.svc.Calculate(ctx, &domain.CalculationRequest{
			Specialty: "Thoracic",
			Inputs:    generalSurgeryInputs(),
		})
		require.NoError(t, err)

		f.clock = f.clock.Add(90 * time.Second)
		signed, err := f.svc.Sign(ctx, result.ID, " 100234 ")
		require.NoError(t, err)

		assert.Equal(t, "100234", signed.PatientDFN)
		assert.Equal(t, "26546", signed.CPTCode)
		assert.Equal(t, 90, signed.SecondsToSign)
		assert.InDelta(t, result.Outcomes[0].Probability, signed.Outcomes["Thoracic 30-day mortality estimate"], 1e-9)

		var event domain.SignedResult
		require.NoError(t, json.Unmarshal(receive(t, signedEvents), &event))
		assert.Equal(t, result.ID, event.CalculationID)

		_, err = f.svc.Sign(ctx, result.ID, "100234")
		assert.ErrorIs(t, err, ErrAlreadySigned)

		stored, err := f.repo.GetCalculation(ctx, result.ID)
		require.NoError(t, err)
		assert.True(t, stored.Signed)

		results, err := f.svc.ResultsForPatient(ctx, "100234")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, result.ID, results[0].CalculationID)
	})

	t.Run("SignedElsewhere", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.svc.Calculate(ctx, &domain.CalculationRequest{
			Specialty: "Thoracic",
			Inputs:    generalSurgeryInputs(),
		})
		require.NoError(t, err)

		require.NoError(t, f.repo.SaveSignedResult(ctx, &domain.SignedResult{
			CalculationID: result.ID,
			PatientDFN:    "100234",
			SignatureTime: f.clock,
		}))

		_, err = f.svc.Sign(ctx, result.ID, "100234")
		assert.ErrorIs(t, err, ErrAlreadySigned)
	})

	t.Run("PatientMismatch", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.svc.Calculate(ctx, &domain.CalculationRequest{
			Specialty:  "Thoracic",
			PatientDFN: "100234",
			Inputs:     generalSurgeryInputs(),
		})
		require.NoError(t, err)

		_, err = f.svc.Sign(ctx, result.ID, "555555")
		assert.ErrorIs(t, err, ErrPatientMismatch)
	})

	t.Run("PatientRequired", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Sign(ctx, "calc-1", " ")
		var inputErr *InputErrors
		require.True(t, errors.As(err, &inputErr))
		assert.Contains(t, inputErr.Errors, "patientDfn")

		_, err = f.svc.ResultsForPatient(ctx, "")
		assert.True(t, errors.As(err, &inputErr))
	})

	t.Run("UnknownCalculation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Sign(ctx, "nonexistent", "100234")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestReloadCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reloaded := f.events(t, domain.TopicCatalogReloaded)

	_, err := f.svc.ReloadCatalog(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound, "nothing stored yet")

	bundle, err := catalog.LoadFile(filepath.Join("..", "catalog", "testdata", "catalog.yaml"))
	require.NoError(t, err)

	stats, err := f.svc.ReloadCatalog(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Version)
	assert.Equal(t, 2, stats.Specialties)

	var event catalog.Stats
	require.NoError(t, json.Unmarshal(receive(t, reloaded), &event))
	assert.Equal(t, stats, event)

	stats, err = f.svc.ReloadCatalog(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Version)

	bundle.Specialties = bundle.Specialties[:1]
	stats, err = f.svc.ReloadCatalog(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Version)
	assert.Equal(t, 1, stats.Specialties)

	_, err = f.svc.Calculate(ctx, &domain.CalculationRequest{Specialty: "General Surgery", Inputs: generalSurgeryInputs()})
	assert.ErrorIs(t, err, catalog.ErrUnknownSpecialty)

	bundle.Rules[0].Summand = "("
	_, err = f.svc.ReloadCatalog(ctx, bundle)
	assert.Error(t, err)

	snap, err := f.svc.Catalog().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Stats().Version, "failed reload keeps the current catalog")
}
