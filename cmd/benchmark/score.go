package main

import "sort"

// ModelScore accumulates predictions of one model against observed outcomes.
type ModelScore struct {
	Model     string
	predicted []float64
	observed  []bool
}

// Add records one case.
func (s *ModelScore) Add(probability float64, observed bool) {
	s.predicted = append(s.predicted, probability)
	s.observed = append(s.observed, observed)
}

// N is the number of cases recorded.
func (s *ModelScore) N() int { return len(s.predicted) }

// Events is the number of cases whose outcome occurred.
func (s *ModelScore) Events() int {
	n := 0
	for _, o := range s.observed {
		if o {
			n++
		}
	}
	return n
}

// MeanPredicted is the average predicted probability.
func (s *ModelScore) MeanPredicted() float64 {
	if s.N() == 0 {
		return 0
	}
	var sum float64
	for _, p := range s.predicted {
		sum += p
	}
	return sum / float64(s.N())
}

// ObservedRate is the fraction of cases whose outcome occurred.
func (s *ModelScore) ObservedRate() float64 {
	if s.N() == 0 {
		return 0
	}
	return float64(s.Events()) / float64(s.N())
}

// Brier is the mean squared difference between prediction and outcome.
func (s *ModelScore) Brier() float64 {
	if s.N() == 0 {
		return 0
	}
	var sum float64
	for i, p := range s.predicted {
		d := p - outcome(s.observed[i])
		sum += d * d
	}
	return sum / float64(s.N())
}

// AUC is the probability that a random event case was predicted higher than
// a random non-event case, counting ties as half. It is undefined unless both
// kinds of case were recorded.
func (s *ModelScore) AUC() (float64, bool) {
	events := s.Events()
	nonEvents := s.N() - events
	if events == 0 || nonEvents == 0 {
		return 0, false
	}

	idx := make([]int, s.N())
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return s.predicted[idx[a]] < s.predicted[idx[b]] })

	// Sum of midranks of the event cases.
	var rankSum float64
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && s.predicted[idx[j]] == s.predicted[idx[i]] {
			j++
		}
		midrank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if s.observed[idx[k]] {
				rankSum += midrank
			}
		}
		i = j
	}

	e := float64(events)
	return (rankSum - e*(e+1)/2) / (e * float64(nonEvents)), true
}

func outcome(observed bool) float64 {
	if observed {
		return 1
	}
	return 0
}
