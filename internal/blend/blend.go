package blend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/exp/rand"

	"microfit/internal/dataset"
	apperrors "microfit/internal/errors"
)

// BandTarget is the external incidence evidence for one total-income band:
// the share of people in the band with any capital gains, and the
// percentile points of the gains distribution among those who have them.
type BandTarget struct {
	MinTotalIncome float64           `json:"min_total_income" yaml:"min_total_income"`
	MaxTotalIncome float64           `json:"max_total_income" yaml:"max_total_income"` // +Inf for the top band
	ShareWithGains float64           `json:"share_with_gains" yaml:"share_with_gains"`
	Percentiles    []PercentilePoint `json:"percentiles" yaml:"percentiles"`
}

// PercentilePoint is one point of a band's gains distribution
type PercentilePoint struct {
	Quantile float64 `json:"quantile" yaml:"quantile"`
	Amount   float64 `json:"amount" yaml:"amount"`
}

// Config controls the one-dimensional blend weight fit
type Config struct {
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	Tolerance    float64 `json:"tolerance"` // Stop early once loss falls below this
	Seed         uint64  `json:"seed"`
}

// DefaultConfig returns blend fitting defaults matching production runs
func DefaultConfig() Config {
	return Config{
		Epochs:       100,
		LearningRate: 0.1,
		Tolerance:    1e-3,
		Seed:         0,
	}
}

// Validate checks blend configuration bounds
func (c Config) Validate() error {
	if c.Epochs < 1 {
		return &apperrors.ValidationError{Field: "Epochs", Message: "must be at least 1", Value: c.Epochs}
	}
	if c.LearningRate <= 0 {
		return &apperrors.ValidationError{Field: "LearningRate", Message: "must be positive", Value: c.LearningRate}
	}
	if c.Tolerance < 0 {
		return &apperrors.ValidationError{Field: "Tolerance", Message: "must be non-negative", Value: c.Tolerance}
	}
	return nil
}

// Result holds the enlarged dataset and the fitted blend weight
type Result struct {
	// Persons is the doubled person table with a capital_gains column:
	// zero everywhere except the one synthetic assignment per eligible
	// household in the clone half.
	Persons *dataset.Table
	// HouseholdIDs and HouseholdWeights cover original and clone
	// households; the clone block's ids are offset past the original's.
	HouseholdIDs     []int64
	HouseholdWeights []float64
	// BlendWeight is the fitted share of each original household's weight
	// retained by the no-gains copy; the clone gets the complement, so
	// the effective population size is preserved by construction.
	BlendWeight float64
	FinalLoss   float64
	EpochsRun   int
}

// Blend duplicates the person table, assigns synthetic capital gains to
// exactly one adult per household in the clone (highest total income,
// earliest row on ties), and fits a scalar blend weight so the
// weighted incidence of gains by income band matches the band targets.
//
// The person table must carry household_id, total_income and is_adult.
// householdIDs and householdWeights describe the original households in
// matching order.
func Blend(ctx context.Context, persons *dataset.Table, householdIDs []int64, householdWeights []float64, bands []BandTarget, cfg Config) (*Result, error) {
	start := time.Now()
	logger := slog.Default()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		return nil, &apperrors.ValidationError{Field: "bands", Message: "at least one band target required"}
	}
	if len(householdIDs) != len(householdWeights) {
		return nil, fmt.Errorf("household ids (%d) and weights (%d) differ", len(householdIDs), len(householdWeights))
	}
	for _, name := range []string{"household_id", "total_income", "is_adult"} {
		if !persons.Complete(name) {
			return nil, &apperrors.MissingPredictorError{Table: persons.Name(), Predictor: name, Reason: "absent or incomplete"}
		}
	}

	doubled, err := dataset.Stack(persons, persons.Clone())
	if err != nil {
		return nil, fmt.Errorf("stack person table: %w", err)
	}

	// Re-key the clone half's households past the original id range so the
	// clone forms distinct household groups.
	n := persons.Len()
	var maxHouseholdID int64
	for _, id := range householdIDs {
		if id > maxHouseholdID {
			maxHouseholdID = id
		}
	}
	hhCol := make([]float64, doubled.Len())
	copy(hhCol, doubled.MustColumn("household_id"))
	for i := n; i < doubled.Len(); i++ {
		hhCol[i] += float64(maxHouseholdID + 1)
	}
	if err := doubled.SetColumn("household_id", hhCol); err != nil {
		return nil, err
	}

	selected := selectCloneRecipients(doubled, n)
	logger.InfoContext(ctx, "selected synthetic gains recipients",
		"eligible_households", len(selected),
		"clone_records", n,
	)

	weight, loss, epochs := fitBlendWeight(doubled, selected, householdIDs, householdWeights, maxHouseholdID, bands, cfg)

	gains, err := sampleGains(doubled, selected, bands, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if err := doubled.SetColumn("capital_gains", gains); err != nil {
		return nil, err
	}

	// Split each original household's weight between its no-gains copy and
	// its gains clone.
	outIDs := make([]int64, 0, 2*len(householdIDs))
	outWeights := make([]float64, 0, 2*len(householdIDs))
	for i, id := range householdIDs {
		outIDs = append(outIDs, id)
		outWeights = append(outWeights, weight*householdWeights[i])
	}
	for i, id := range householdIDs {
		outIDs = append(outIDs, id+maxHouseholdID+1)
		outWeights = append(outWeights, (1-weight)*householdWeights[i])
	}

	logger.InfoContext(ctx, "capital gains blend completed",
		"blend_weight", weight,
		"final_loss", loss,
		"epochs", epochs,
		"duration", time.Since(start),
	)

	return &Result{
		Persons:          doubled,
		HouseholdIDs:     outIDs,
		HouseholdWeights: outWeights,
		BlendWeight:      weight,
		FinalLoss:        loss,
		EpochsRun:        epochs,
	}, nil
}

// selectCloneRecipients picks exactly one adult per clone household: the
// highest total income, breaking ties by the earlier row. Returns row
// indices into the doubled table, sorted ascending.
func selectCloneRecipients(doubled *dataset.Table, cloneStart int) []int {
	household := doubled.MustColumn("household_id")
	income := doubled.MustColumn("total_income")
	adult := doubled.MustColumn("is_adult")

	best := make(map[int64]int)
	for i := cloneStart; i < doubled.Len(); i++ {
		if adult[i] == 0 {
			continue
		}
		key := int64(household[i])
		current, seen := best[key]
		if !seen || income[i] > income[current] {
			best[key] = i
		}
	}

	rows := make([]int, 0, len(best))
	for _, row := range best {
		rows = append(rows, row)
	}
	sort.Ints(rows)
	return rows
}

// fitBlendWeight runs gradient descent on an unconstrained parameter
// mapped through a sigmoid, minimizing the squared gap between predicted
// and target per-band incidence of gains.
func fitBlendWeight(doubled *dataset.Table, selected []int, householdIDs []int64, householdWeights []float64, maxHouseholdID int64, bands []BandTarget, cfg Config) (float64, float64, int) {
	income := doubled.MustColumn("total_income")

	hasGains := make([]float64, doubled.Len())
	for _, row := range selected {
		hasGains[row] = 1
	}

	weightOf := make(map[int64]float64, len(householdIDs))
	for i, id := range householdIDs {
		weightOf[id] = householdWeights[i]
	}

	// Per band, the denominator (weighted people in the band) is invariant
	// in the blend weight because the two copies of a household always sum
	// to its original weight; only the gains numerator scales with 1-s.
	denominator := make([]float64, len(bands))
	gainsMass := make([]float64, len(bands))
	household := doubled.MustColumn("household_id")
	for i := 0; i < doubled.Len(); i++ {
		hh := int64(household[i])
		if hh > maxHouseholdID {
			hh -= maxHouseholdID + 1
		}
		w := weightOf[hh]
		for b, band := range bands {
			if income[i] >= band.MinTotalIncome && income[i] < band.MaxTotalIncome {
				if i < doubled.Len()/2 {
					denominator[b] += w
				}
				if hasGains[i] > 0 {
					gainsMass[b] += w
				}
			}
		}
	}

	loss := func(s float64) float64 {
		total := 0.0
		for b, band := range bands {
			pred := (1 - s) * gainsMass[b] / math.Max(denominator[b], 1)
			diff := pred - band.ShareWithGains
			total += diff * diff
		}
		return total
	}

	theta := 0.0
	currentLoss := math.Inf(1)
	epoch := 0
	for ; epoch < cfg.Epochs; epoch++ {
		s := sigmoid(theta)
		grad := 0.0
		for b, band := range bands {
			ratio := gainsMass[b] / math.Max(denominator[b], 1)
			diff := (1-s)*ratio - band.ShareWithGains
			grad += 2 * diff * -ratio
		}
		grad *= s * (1 - s) // chain rule through the sigmoid
		theta -= cfg.LearningRate * grad

		currentLoss = loss(sigmoid(theta))
		if currentLoss < cfg.Tolerance {
			epoch++
			break
		}
	}
	return sigmoid(theta), currentLoss, epoch
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// sampleGains draws a gains amount for each selected clone record from
// its band's percentile curve using seeded uniform quantiles
func sampleGains(doubled *dataset.Table, selected []int, bands []BandTarget, seed uint64) ([]float64, error) {
	income := doubled.MustColumn("total_income")
	gains := make([]float64, doubled.Len())

	src := seed
	if src == 0 {
		src = rand.Uint64()
	}
	rng := rand.New(rand.NewSource(src))

	for _, row := range selected {
		band, ok := bandFor(bands, income[row])
		if !ok {
			continue // income outside every band keeps zero gains
		}
		if len(band.Percentiles) == 0 {
			return nil, &apperrors.ValidationError{
				Field:   "Percentiles",
				Message: fmt.Sprintf("band starting at %g has no percentile points", band.MinTotalIncome),
			}
		}
		amount := interpolatePercentile(band.Percentiles, rng.Float64())
		if amount < 0 {
			amount = 0
		}
		gains[row] = amount
	}
	return gains, nil
}

func bandFor(bands []BandTarget, income float64) (BandTarget, bool) {
	for _, band := range bands {
		if income >= band.MinTotalIncome && income < band.MaxTotalIncome {
			return band, true
		}
	}
	return BandTarget{}, false
}

// interpolatePercentile evaluates the band's piecewise-linear percentile
// curve at quantile q, extrapolating flat beyond the outermost points
func interpolatePercentile(points []PercentilePoint, q float64) float64 {
	sorted := make([]PercentilePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Quantile < sorted[j].Quantile })

	if q <= sorted[0].Quantile {
		return sorted[0].Amount
	}
	if q >= sorted[len(sorted)-1].Quantile {
		return sorted[len(sorted)-1].Amount
	}
	for i := 1; i < len(sorted); i++ {
		if q <= sorted[i].Quantile {
			span := sorted[i].Quantile - sorted[i-1].Quantile
			frac := (q - sorted[i-1].Quantile) / span
			return sorted[i-1].Amount + frac*(sorted[i].Amount-sorted[i-1].Amount)
		}
	}
	return sorted[len(sorted)-1].Amount
}
