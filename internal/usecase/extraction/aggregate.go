package extraction

import (
	"math"
	"time"

	"github.com/kailas-cloud/venuesearch/internal/domain/attribute"
	"github.com/kailas-cloud/venuesearch/internal/domain/review"
)

// AggregationConfig tunes how per-review values combine into venue aggregates.
type AggregationConfig struct {
	// HalfLife is the review age at which its weight halves.
	HalfLife time.Duration
	// OutlierDeviations trims ordinal values farther than this many weighted
	// standard deviations from the weighted mean.
	OutlierDeviations float64
	// MinSamples below which an aggregate is marked low confidence.
	MinSamples int
	// ConfidencePrior is the pseudo-count in confidence = n / (n + prior).
	ConfidencePrior float64
}

type sample struct {
	label  string
	score  float64
	weight float64
}

// Aggregate combines the extracted values of reviews into one aggregate per
// attribute. Attributes no review mentions are absent from the result.
// Only reviews with status extracted contribute.
func Aggregate(reviews []review.Review, now time.Time, cfg AggregationConfig) map[attribute.Name]attribute.Aggregate {
	out := make(map[attribute.Name]attribute.Aggregate)
	for _, spec := range attribute.Schema() {
		var samples []sample
		for _, rv := range reviews {
			if rv.Status != review.StatusExtracted {
				continue
			}
			v, ok := rv.Attributes[spec.Name]
			if !ok {
				continue
			}
			samples = append(samples, sample{
				label:  v.Label,
				score:  v.Score,
				weight: decay(rv.Age(now), cfg.HalfLife),
			})
		}
		if len(samples) == 0 {
			continue
		}

		var agg attribute.Aggregate
		if spec.Kind == attribute.Ordinal {
			samples = trimOutliers(samples, cfg.OutlierDeviations)
			agg = ordinal(spec, samples)
		} else {
			agg = categorical(spec, samples)
		}
		n := len(samples)
		agg.Samples = n
		agg.Confidence = float64(n) / (float64(n) + cfg.ConfidencePrior)
		agg.Low = n < cfg.MinSamples
		agg.UpdatedAt = now
		out[spec.Name] = agg
	}
	return out
}

func decay(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/halfLife.Hours())
}

func weightedMean(samples []sample) (mean, std float64) {
	var sw, sx float64
	for _, s := range samples {
		sw += s.weight
		sx += s.weight * s.score
	}
	if sw == 0 {
		return 0, 0
	}
	mean = sx / sw
	var sv float64
	for _, s := range samples {
		d := s.score - mean
		sv += s.weight * d * d
	}
	return mean, math.Sqrt(sv / sw)
}

// trimOutliers drops samples beyond k weighted deviations. With no spread
// or k <= 0 every sample is kept.
func trimOutliers(samples []sample, k float64) []sample {
	mean, std := weightedMean(samples)
	if std == 0 || k <= 0 {
		return samples
	}
	kept := samples[:0:0]
	for _, s := range samples {
		if math.Abs(s.score-mean) <= k*std {
			kept = append(kept, s)
		}
	}
	return kept
}

func ordinal(spec attribute.Spec, samples []sample) attribute.Aggregate {
	mean, std := weightedMean(samples)
	agreement := 1.0
	if span := float64(len(spec.Labels) - 1); span > 0 {
		agreement = max(0, 1-std/span)
	}
	return attribute.Aggregate{
		Value:     mean,
		Label:     spec.LabelAt(mean),
		Agreement: agreement,
	}
}

// categorical takes the weighted mode. Ties go to the label listed first in
// the schema so the result does not depend on review order.
func categorical(spec attribute.Spec, samples []sample) attribute.Aggregate {
	votes := make(map[string]float64, len(spec.Labels))
	var total float64
	for _, s := range samples {
		votes[s.label] += s.weight
		total += s.weight
	}
	var winner string
	var best float64
	for _, l := range spec.Labels {
		if votes[l] > best {
			winner, best = l, votes[l]
		}
	}
	share := 0.0
	if total > 0 {
		share = best / total
	}
	return attribute.Aggregate{Value: share, Label: winner, Agreement: share}
}
