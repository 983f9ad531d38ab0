package stats

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// Model Constants
// =============================================================================

const (
	// maWindow is the moving-average window in days.
	maWindow = 14
	// stdWindow is the moving-standard-deviation window in days.
	stdWindow = 7
	// rateWindow smooths the daily reproduction-rate ratios.
	rateWindow = 14

	// ConfidenceZ is the z-score bounding the 90% confidence interval.
	ConfidenceZ = 1.645

	// DefaultRegionalOffset is the regional background case load removed
	// from the moving average before modelling.
	DefaultRegionalOffset = 0.1

	// DefaultTriggerThreshold is the moving-average level whose crossing
	// date TriggerDate reports by default.
	DefaultTriggerThreshold = 30.0

	// maxTriggerHorizonDays bounds the TriggerDate search.
	maxTriggerHorizonDays = 3650

	// MinSamples is the series length needed for the full model: the
	// smoothed reproduction rate consumes 14 (average) + 1 (ratio) + 14
	// (smoothing) observations.
	MinSamples = maWindow + 1 + rateWindow + 1
)

// =============================================================================
// Forecaster
// =============================================================================

// Forecaster fits a geometric decay model to a case series. The fitted model
// takes the newest smoothed reproduction rate r and projects the newest
// moving average and spread forward as ma*r^t and std*r^t, with t counted in
// days from the newest observation.
type Forecaster struct {
	series         *CaseSeries
	regionalOffset float64
}

// NewForecaster creates a forecaster over a case series. The regional offset
// is subtracted from every moving-average value before modelling.
func NewForecaster(series *CaseSeries, regionalOffset float64) (*Forecaster, error) {
	if series == nil {
		return nil, ErrNilSeries
	}
	return &Forecaster{series: series, regionalOffset: regionalOffset}, nil
}

// MovingAverage returns the 14-day moving average with the regional offset
// removed. Values are centered: each value is labelled with the date seven
// observations into its window.
func (f *Forecaster) MovingAverage() (Series, error) {
	return f.movingAverage(f.regionalOffset)
}

func (f *Forecaster) movingAverage(offset float64) (Series, error) {
	n := f.series.Len()
	if n < maWindow+1 {
		return nil, fmt.Errorf("%w: moving average needs at least %d observations, got %d",
			ErrSeriesTooShort, maWindow+1, n)
	}

	cases := f.series.cases
	dates := f.series.dates
	out := make(Series, 0, n-maWindow)
	for i := 0; i < n-maWindow; i++ {
		out = append(out, Point{
			Date:  dates[i+maWindow/2],
			Value: mean(cases[i:i+maWindow]) - offset,
		})
	}
	return out, nil
}

// MovingStd returns the 7-day moving population standard deviation of the
// residuals between observed cases and the moving average, labelled like the
// moving average but ending seven observations earlier.
func (f *Forecaster) MovingStd() (Series, error) {
	n := f.series.Len()
	if n < maWindow+stdWindow+1 {
		return nil, fmt.Errorf("%w: moving std needs at least %d observations, got %d",
			ErrSeriesTooShort, maWindow+stdWindow+1, n)
	}

	ma, err := f.movingAverage(f.regionalOffset)
	if err != nil {
		return nil, err
	}

	cases := f.series.cases
	dates := f.series.dates
	residuals := make([]float64, len(ma))
	for i := range ma {
		residuals[i] = cases[i+stdWindow] - ma[i].Value
	}

	out := make(Series, 0, n-maWindow-stdWindow)
	for i := 0; i < n-maWindow-stdWindow; i++ {
		out = append(out, Point{
			Date:  dates[i+stdWindow],
			Value: popStd(residuals[i : i+stdWindow]),
		})
	}
	return out, nil
}

// ReproductionRate returns the smoothed daily reproduction rate: the ratio
// of consecutive moving-average values, averaged over a 14-day window.
func (f *Forecaster) ReproductionRate() (Series, error) {
	n := f.series.Len()
	if n < MinSamples {
		return nil, fmt.Errorf("%w: reproduction rate needs at least %d observations, got %d",
			ErrSeriesTooShort, MinSamples, n)
	}

	ma, err := f.movingAverage(f.regionalOffset)
	if err != nil {
		return nil, err
	}

	// Each ratio compares a moving-average value to the previous day's and
	// carries the previous day's label.
	ratios := make(Series, 0, len(ma)-1)
	for i := 0; i < len(ma)-1; i++ {
		ratios = append(ratios, Point{
			Date:  ma[i+1].Date,
			Value: ma[i].Value / ma[i+1].Value,
		})
	}

	out := make(Series, 0, len(ratios)-rateWindow)
	values := ratios.Values()
	for i := 0; i < len(ratios)-rateWindow; i++ {
		out = append(out, Point{
			Date:  ratios[i].Date,
			Value: mean(values[i : i+rateWindow]),
		})
	}
	return out, nil
}

// fitted holds the newest moving average, spread, and smoothed reproduction
// rate, the three parameters the projection runs on.
type fitted struct {
	ma   float64
	std  float64
	rate float64
}

func (f *Forecaster) fit() (fitted, error) {
	ma, err := f.MovingAverage()
	if err != nil {
		return fitted{}, err
	}
	std, err := f.MovingStd()
	if err != nil {
		return fitted{}, err
	}
	rate, err := f.ReproductionRate()
	if err != nil {
		return fitted{}, err
	}
	return fitted{ma: ma[0].Value, std: std[0].Value, rate: rate[0].Value}, nil
}

func (m fitted) project(t int) (float64, float64) {
	growth := math.Pow(m.rate, float64(t))
	return m.ma * growth, m.std * growth
}

// Project evaluates the fitted model t days after the newest observation,
// returning the projected moving average and standard deviation.
func (f *Forecaster) Project(t int) (float64, float64, error) {
	m, err := f.fit()
	if err != nil {
		return 0, 0, err
	}
	ma, std := m.project(t)
	return ma, std, nil
}

// =============================================================================
// Predictions
// =============================================================================

// Prediction is the model output for one day.
type Prediction struct {
	Date          time.Time `json:"date"`
	MovingAverage float64   `json:"moving_average"`
	MovingStd     float64   `json:"moving_std"`
	Lower         float64   `json:"lower"`
	Upper         float64   `json:"upper"`
}

// Predict forecasts the moving average and its 90% confidence interval for a
// date. Dates before the newest observation evaluate the model backwards.
func (f *Forecaster) Predict(date time.Time) (Prediction, error) {
	m, err := f.fit()
	if err != nil {
		return Prediction{}, err
	}
	return m.predict(f.series.Newest(), date), nil
}

func (m fitted) predict(newest, date time.Time) Prediction {
	ma, std := m.project(daysBetween(newest, date))
	return Prediction{
		Date:          date,
		MovingAverage: ma,
		MovingStd:     std,
		Lower:         ma - ConfidenceZ*std,
		Upper:         ma + ConfidenceZ*std,
	}
}

// ForecastTo predicts every day from the day after the newest observation up
// to and including end. An end before the start yields an empty forecast.
func (f *Forecaster) ForecastTo(end time.Time) ([]Prediction, error) {
	m, err := f.fit()
	if err != nil {
		return nil, err
	}

	newest := f.series.Newest()
	var out []Prediction
	for day := newest.AddDate(0, 0, 1); !day.After(end); day = day.AddDate(0, 0, 1) {
		out = append(out, m.predict(newest, day))
	}
	return out, nil
}

// TriggerDate returns the first date after the newest observation on which
// the projected moving average falls below the threshold. ErrNoTrigger is
// returned when the model never drops below it within the search horizon.
func (f *Forecaster) TriggerDate(threshold float64) (time.Time, error) {
	m, err := f.fit()
	if err != nil {
		return time.Time{}, err
	}

	t := 0
	ma := threshold + 1
	for ma >= threshold {
		t++
		if t > maxTriggerHorizonDays {
			return time.Time{}, ErrNoTrigger
		}
		ma, _ = m.project(t)
		if math.IsNaN(ma) {
			return time.Time{}, ErrNoTrigger
		}
	}
	return f.series.Newest().AddDate(0, 0, t), nil
}

// =============================================================================
// Helpers
// =============================================================================

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// popStd is the population standard deviation (squared deviations divided
// by n, not n-1).
func popStd(values []float64) float64 {
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// daysBetween counts whole days from a to b, rounding to absorb DST and
// sub-day noise.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
