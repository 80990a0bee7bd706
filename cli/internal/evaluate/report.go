package evaluate

import (
	"cmp"
	"math"
	"slices"

	"github.com/cockroachdb/errors"
)

// ErrNoResults is returned by NewReport for an empty input.
var ErrNoResults = errors.New("no evaluation results to report")

// Stats summarizes a series of values.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	// Std is the sample standard deviation (0 for fewer than two values).
	Std   float64 `json:"std"`
	Range float64 `json:"range"`
}

// Count is a label with its number of occurrences.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Report aggregates many evaluations.
type Report struct {
	Total      int     `json:"total_evaluations"`
	What       Stats   `json:"what_scores"`
	Why        Stats   `json:"why_scores"`
	Overall    Stats   `json:"overall_scores"`
	Confidence Stats   `json:"confidence"`
	// Quality has one entry per level in QualityLevels order, zeros included.
	Quality []Count `json:"quality_distribution"`
	// Models is ordered by count descending, then name.
	Models      []Count `json:"model_usage"`
	HighQuality int     `json:"high_quality_count"`
	LowQuality  int     `json:"low_quality_count"`
}

// NewReport computes statistics over results. Score statistics are rounded
// to two decimals; confidence statistics are not.
func NewReport(results []Result) (*Report, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	n := len(results)
	what := make([]float64, n)
	why := make([]float64, n)
	overall := make([]float64, n)
	conf := make([]float64, n)
	levels := make(map[string]int)
	models := make(map[string]int)
	rep := &Report{Total: n}
	for i, r := range results {
		what[i], why[i], overall[i], conf[i] = r.What, r.Why, r.Overall(), r.Confidence
		levels[r.QualityLevel()]++
		models[r.Model]++
		if r.IsHighQuality() {
			rep.HighQuality++
		} else {
			rep.LowQuality++
		}
	}
	rep.What = Describe(what).rounded()
	rep.Why = Describe(why).rounded()
	rep.Overall = Describe(overall).rounded()
	rep.Confidence = Describe(conf)
	for _, l := range QualityLevels {
		rep.Quality = append(rep.Quality, Count{Name: l, Count: levels[l]})
	}
	for name, c := range models {
		rep.Models = append(rep.Models, Count{Name: name, Count: c})
	}
	slices.SortFunc(rep.Models, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return rep, nil
}

// Describe computes Stats for values; the zero Stats for none.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	var std float64
	if n > 1 {
		var ss float64
		for _, v := range sorted {
			ss += (v - mean) * (v - mean)
		}
		std = math.Sqrt(ss / float64(n-1))
	}
	return Stats{
		Mean:   mean,
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Std:    std,
		Range:  sorted[n-1] - sorted[0],
	}
}

func (s Stats) rounded() Stats {
	return Stats{
		Mean:   round2(s.Mean),
		Median: round2(s.Median),
		Min:    round2(s.Min),
		Max:    round2(s.Max),
		Std:    round2(s.Std),
		Range:  round2(s.Range),
	}
}
