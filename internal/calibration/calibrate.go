package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	apperrors "microfit/internal/errors"
	"microfit/pkg/contracts/domain"
)

// Config is the immutable configuration for one calibration run
type Config struct {
	Epochs            int     `json:"epochs"`
	LearningRate      float64 `json:"learning_rate"`
	DropoutRate       float64 `json:"dropout_rate"`       // Per-epoch chance a target term is excluded from the gradient
	Seed              uint64  `json:"seed"`               // 0 means unseeded
	ZeroTargetEpsilon float64 `json:"zero_target_epsilon"` // Below this magnitude a target is scored on absolute error
	MinInitialWeight  float64 `json:"min_initial_weight"` // Floor applied before the log transform
	SnapshotInterval  int     `json:"snapshot_interval"`  // Epochs between snapshot callbacks; 0 disables
	// ExcludedTargets holds target names (area/metric) held out of
	// training for validation; they still appear in diagnostics.
	ExcludedTargets []string `json:"excluded_targets"`
}

// DefaultConfig returns production calibration defaults. Production runs
// use an epoch budget on the order of ten thousand per target year; tests
// override with far fewer.
func DefaultConfig() Config {
	return Config{
		Epochs:            10_000,
		LearningRate:      0.1,
		DropoutRate:       0.05,
		Seed:              0,
		ZeroTargetEpsilon: 1e-9,
		MinInitialWeight:  1e-6,
		SnapshotInterval:  0,
	}
}

// Validate checks calibration configuration bounds
func (c Config) Validate() error {
	if c.Epochs < 1 {
		return &apperrors.ValidationError{Field: "Epochs", Message: "must be at least 1", Value: c.Epochs}
	}
	if c.LearningRate <= 0 {
		return &apperrors.ValidationError{Field: "LearningRate", Message: "must be positive", Value: c.LearningRate}
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return &apperrors.ValidationError{Field: "DropoutRate", Message: "must be in [0, 1)", Value: c.DropoutRate}
	}
	if c.MinInitialWeight <= 0 {
		return &apperrors.ValidationError{Field: "MinInitialWeight", Message: "must be positive", Value: c.MinInitialWeight}
	}
	return nil
}

// Problem is one geography level's calibration: a contribution matrix
// (records by targets), the target list with fitted values, and the
// starting weights (survey design weights, or a prior calibration for
// warm starts; synthetic records may start at zero and are floored).
type Problem struct {
	Level          domain.GeographyLevel
	Matrix         *mat.Dense
	Targets        []domain.Target
	Values         []float64
	InitialWeights []float64
}

// Result is the outcome of one geography level's calibration
type Result struct {
	Level       domain.GeographyLevel
	Weights     domain.WeightVector
	Diagnostics []domain.DiagnosticEntry
	LossHistory []float64
	FinalLoss   float64
	PctClose    float64 // Share of training targets within 10% of target
}

// SnapshotFunc receives intermediate weights during long runs
type SnapshotFunc func(level domain.GeographyLevel, epoch int, weights []float64)

// Calibrate fits strictly positive per-record weights for one geography
// level by gradient descent on unconstrained log-weights. It always
// terminates after the configured epoch budget and returns whatever
// weights it has: the optimization is non-convex and over-determined, a
// perfect fit is neither expected nor required, and fit quality is judged
// externally from the diagnostic log.
func Calibrate(ctx context.Context, p Problem, cfg Config, snapshot SnapshotFunc) (*Result, error) {
	start := time.Now()
	logger := slog.Default()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	records, targetCount := p.Matrix.Dims()
	if len(p.InitialWeights) != records {
		return nil, fmt.Errorf("level %s: %d initial weights for %d records", p.Level, len(p.InitialWeights), records)
	}
	if len(p.Targets) != targetCount || len(p.Values) != targetCount {
		return nil, fmt.Errorf("level %s: matrix has %d target columns, got %d targets and %d values", p.Level, targetCount, len(p.Targets), len(p.Values))
	}

	heldOut := heldOutMask(p.Targets, cfg.ExcludedTargets)

	// Exponential parameterization: weights stay strictly positive with
	// no constrained optimization machinery. Zero starting weights
	// (synthetic records before calibration) are floored first.
	params := make([]float64, records)
	for i, w := range p.InitialWeights {
		if w < cfg.MinInitialWeight {
			w = cfg.MinInitialWeight
		}
		params[i] = math.Log(w)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewSource(seed))

	optimizer := newAdam(cfg.LearningRate, records)
	weights := make([]float64, records)
	estimates := make([]float64, targetCount)
	dLossDEstimate := make([]float64, targetCount)
	grads := make([]float64, records)
	history := make([]float64, 0, cfg.Epochs)
	progressLog := rate.Sometimes{Interval: 5 * time.Second}

	logger.InfoContext(ctx, "starting weight calibration",
		"level", p.Level,
		"records", records,
		"targets", targetCount,
		"held_out", len(cfg.ExcludedTargets),
		"epochs", cfg.Epochs,
	)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if epoch%128 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		for i, theta := range params {
			weights[i] = math.Exp(theta)
		}
		computeEstimates(p.Matrix, weights, estimates)

		// Dropout randomly silences target terms this epoch so the fit
		// cannot overtrain on the most easily satisfied statistics.
		active := 0
		epochLoss := 0.0
		for j := range dLossDEstimate {
			dLossDEstimate[j] = 0
			if heldOut[j] {
				continue
			}
			if cfg.DropoutRate > 0 && rng.Float64() < cfg.DropoutRate {
				continue
			}
			term, grad := lossTerm(estimates[j], p.Values[j], cfg.ZeroTargetEpsilon)
			epochLoss += term
			dLossDEstimate[j] = grad
			active++
		}
		if active == 0 {
			history = append(history, 0)
			continue
		}
		epochLoss /= float64(active)
		history = append(history, epochLoss)

		// d(loss)/d(theta_i) = sum_j d(loss)/d(e_j) * M_ij * w_i
		for i := 0; i < records; i++ {
			g := 0.0
			row := p.Matrix.RawRowView(i)
			for j, d := range dLossDEstimate {
				if d != 0 {
					g += d * row[j]
				}
			}
			grads[i] = g * weights[i] / float64(active)
		}
		optimizer.step(params, grads)

		if snapshot != nil && cfg.SnapshotInterval > 0 && epoch%cfg.SnapshotInterval == 0 {
			for i, theta := range params {
				weights[i] = math.Exp(theta)
			}
			snapshot(p.Level, epoch, weights)
		}

		progressLog.Do(func() {
			logger.InfoContext(ctx, "calibration progress",
				"level", p.Level,
				"epoch", epoch,
				"loss", epochLoss,
			)
		})
	}

	for i, theta := range params {
		weights[i] = math.Exp(theta)
	}
	computeEstimates(p.Matrix, weights, estimates)

	result := &Result{
		Level:       p.Level,
		Weights:     weights,
		Diagnostics: diagnostics(p, estimates, heldOut, cfg.Epochs),
		LossHistory: history,
		FinalLoss:   totalLoss(estimates, p.Values, heldOut, cfg.ZeroTargetEpsilon),
		PctClose:    pctClose(estimates, p.Values, heldOut, 0.10),
	}

	logger.InfoContext(ctx, "weight calibration completed",
		"level", p.Level,
		"final_loss", result.FinalLoss,
		"pct_within_10", result.PctClose,
		"duration", time.Since(start),
	)
	return result, nil
}

// CalibrateAll runs every geography level as an independent optimization.
// Levels share the record-level contribution formulas but have disjoint
// target sets and disjoint parameter vectors, so they run in parallel.
// Finer levels are not constrained to sum back to the national total;
// that gap is an accepted modelling approximation.
func CalibrateAll(ctx context.Context, problems []Problem, cfg Config, snapshot SnapshotFunc) (map[domain.GeographyLevel]*Result, error) {
	results := make([]*Result, len(problems))
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range problems {
		i := i
		eg.Go(func() error {
			r, err := Calibrate(egCtx, problems[i], cfg, snapshot)
			if err != nil {
				return fmt.Errorf("level %s: %w", problems[i].Level, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out := make(map[domain.GeographyLevel]*Result, len(results))
	for _, r := range results {
		out[r.Level] = r
	}
	return out, nil
}

// computeEstimates fills estimates[j] with the weighted column sums
func computeEstimates(matrix *mat.Dense, weights, estimates []float64) {
	w := mat.NewVecDense(len(weights), weights)
	e := mat.NewVecDense(len(estimates), estimates)
	e.MulVec(matrix.T(), w)
}

// lossTerm scores one target and returns (term, d(term)/d(estimate)).
//
// Targets with near-zero published values are scored on squared absolute
// error: relative scaling would divide by zero, and graceful degradation
// beats hard failure here. Everything else uses the symmetric squared
// relative error min(((1+e)/(1+v)-1)^2, ((1+v)/(1+e)-1)^2), which scales
// counts and currency totals comparably and penalizes over- and
// under-shooting alike.
func lossTerm(estimate, value, zeroEps float64) (float64, float64) {
	if math.Abs(value) < zeroEps {
		diff := estimate - value
		return diff * diff, 2 * diff
	}

	oneWay := (1+estimate)/(1+value) - 1
	otherWay := (1+value)/(1+estimate) - 1
	if oneWay*oneWay <= otherWay*otherWay {
		return oneWay * oneWay, 2 * oneWay / (1 + value)
	}
	grad := 2 * otherWay * -(1 + value) / ((1 + estimate) * (1 + estimate))
	return otherWay * otherWay, grad
}

// totalLoss is the mean loss over training targets at the final weights
func totalLoss(estimates, values []float64, heldOut []bool, zeroEps float64) float64 {
	total := 0.0
	count := 0
	for j := range estimates {
		if heldOut[j] {
			continue
		}
		term, _ := lossTerm(estimates[j], values[j], zeroEps)
		total += term
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// pctClose is the share of training targets whose estimate falls within
// tolerance t of the published value
func pctClose(estimates, values []float64, heldOut []bool, t float64) float64 {
	hits, count := 0, 0
	for j := range estimates {
		if heldOut[j] {
			continue
		}
		count++
		if math.Abs(estimates[j]-values[j]) < t*(1+math.Abs(values[j])) {
			hits++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(hits) / float64(count)
}

// heldOutMask marks targets excluded from training by name
func heldOutMask(targetList []domain.Target, excluded []string) []bool {
	names := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		names[name] = true
	}
	mask := make([]bool, len(targetList))
	for j, target := range targetList {
		mask[j] = names[target.Name()]
	}
	return mask
}

// diagnostics builds the per-target log rows at the final weights
func diagnostics(p Problem, estimates []float64, heldOut []bool, epoch int) []domain.DiagnosticEntry {
	entries := make([]domain.DiagnosticEntry, 0, len(p.Targets))
	for j, target := range p.Targets {
		absErr := math.Abs(estimates[j] - p.Values[j])
		relErr := 0.0
		if p.Values[j] != 0 {
			relErr = (estimates[j] - p.Values[j]) / p.Values[j]
		}
		entries = append(entries, domain.DiagnosticEntry{
			Metric:        target.MetricID,
			Area:          target.AreaCode,
			Year:          target.Year,
			Estimate:      estimates[j],
			Target:        p.Values[j],
			AbsoluteError: absErr,
			RelativeError: relErr,
			Epoch:         epoch,
			HeldOut:       heldOut[j],
		})
	}
	return entries
}
