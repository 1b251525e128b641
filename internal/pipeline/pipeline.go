package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"microfit/internal/dataset"
	apperrors "microfit/internal/errors"
	"microfit/internal/imputation"
	"microfit/pkg/contracts/domain"
)

// Config is the immutable configuration for one pipeline run
type Config struct {
	Model imputation.ModelConfig `json:"model"`
	// Concurrent enables training independent groups of one wave in
	// parallel. Applying sampled columns stays sequential either way.
	Concurrent bool `json:"concurrent"`
}

// DefaultConfig returns pipeline defaults
func DefaultConfig() Config {
	return Config{
		Model:      imputation.DefaultModelConfig(),
		Concurrent: false,
	}
}

// Surveys maps a survey identifier to its entity tables
type Surveys map[string]dataset.Tables

// Runner executes an ordered list of variable groups over a set of
// surveys, training one conditional model per group and writing its
// sampled outputs onto every target survey.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a pipeline runner
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg, logger: slog.Default()}
}

// ValidateOrder checks the DAG invariant for the declared group order
// without training anything: every predictor of every group must exist on
// the relevant tables, either as a raw column or as an output of an
// earlier group. The first violation is returned as a
// DependencyOrderError naming the group and predictor.
func ValidateOrder(surveys Surveys, groups []domain.VariableGroup) error {
	available := make(map[string]map[string]bool) // survey/entity -> column set
	key := func(survey, entity string) string { return survey + "/" + entity }

	columnsOf := func(survey, entity string) (map[string]bool, error) {
		k := key(survey, entity)
		if cols, ok := available[k]; ok {
			return cols, nil
		}
		tables, ok := surveys[survey]
		if !ok {
			return nil, fmt.Errorf("unknown survey %q", survey)
		}
		table, err := tables.Get(entity)
		if err != nil {
			return nil, fmt.Errorf("survey %q: %w", survey, err)
		}
		cols := make(map[string]bool)
		for _, name := range table.ColumnNames() {
			cols[name] = true
		}
		available[k] = cols
		return cols, nil
	}

	for _, group := range groups {
		sourceCols, err := columnsOf(group.SourceSurvey, group.SourceEntity)
		if err != nil {
			return fmt.Errorf("group %q: %w", group.Name, err)
		}
		for _, p := range group.Predictors {
			if !sourceCols[p] {
				return &apperrors.DependencyOrderError{Group: group.Name, Predictor: p, Table: key(group.SourceSurvey, group.SourceEntity)}
			}
		}
		for _, out := range group.Outputs {
			if !sourceCols[out] {
				return &apperrors.DependencyOrderError{Group: group.Name, Predictor: out, Table: key(group.SourceSurvey, group.SourceEntity)}
			}
		}

		for _, targetSurvey := range group.TargetSurveys {
			targetCols, err := columnsOf(targetSurvey, group.TargetEntity)
			if err != nil {
				return fmt.Errorf("group %q: %w", group.Name, err)
			}
			for _, p := range group.Predictors {
				if !targetCols[p] {
					return &apperrors.DependencyOrderError{Group: group.Name, Predictor: p, Table: key(targetSurvey, group.TargetEntity)}
				}
			}
			for _, out := range group.Outputs {
				targetCols[out] = true
			}
		}
	}
	return nil
}

// Run validates the declared order, then trains and applies each group in
// sequence. Target tables gain the group's output columns in place;
// re-running a group overwrites its previous outputs.
func (r *Runner) Run(ctx context.Context, surveys Surveys, groups []domain.VariableGroup) error {
	runID := uuid.New().String()
	tracer := otel.Tracer("microfit/pipeline")
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.Int("groups", len(groups)),
	)

	r.logger.InfoContext(ctx, "starting imputation pipeline",
		"run_id", runID,
		"groups", len(groups),
		"surveys", len(surveys),
		"concurrent", r.cfg.Concurrent,
	)

	// Fail fast on ordering violations before any model is trained.
	if err := ValidateOrder(surveys, groups); err != nil {
		return fmt.Errorf("pipeline order validation: %w", err)
	}

	for _, wave := range r.waves(groups) {
		models, err := r.trainWave(ctx, surveys, wave)
		if err != nil {
			return err
		}
		for i, group := range wave {
			if err := r.applyGroup(ctx, surveys, group, models[i]); err != nil {
				return err
			}
		}
	}

	r.logger.InfoContext(ctx, "imputation pipeline completed",
		"run_id", runID,
		"duration", time.Since(start),
	)
	return nil
}

// waves partitions the ordered group list into consecutive batches that
// are safe to train together: a group joins the current wave only if no
// wave member writes to its source table or produces one of its
// predictors. With Concurrent disabled every wave has one group.
func (r *Runner) waves(groups []domain.VariableGroup) [][]domain.VariableGroup {
	if !r.cfg.Concurrent {
		waves := make([][]domain.VariableGroup, 0, len(groups))
		for _, g := range groups {
			waves = append(waves, []domain.VariableGroup{g})
		}
		return waves
	}

	var waves [][]domain.VariableGroup
	var current []domain.VariableGroup
	for _, g := range groups {
		if len(current) > 0 && conflicts(current, g) {
			waves = append(waves, current)
			current = nil
		}
		current = append(current, g)
	}
	if len(current) > 0 {
		waves = append(waves, current)
	}
	return waves
}

// conflicts reports whether group g depends on any output of the wave, or
// reads its training data from a table a wave member writes to
func conflicts(wave []domain.VariableGroup, g domain.VariableGroup) bool {
	for _, member := range wave {
		for _, p := range g.Predictors {
			if member.ProducesOutput(p) {
				return true
			}
		}
		for _, targetSurvey := range member.TargetSurveys {
			if targetSurvey == g.SourceSurvey && member.TargetEntity == g.SourceEntity {
				return true
			}
		}
	}
	return false
}

// trainWave trains the wave's models, concurrently when enabled
func (r *Runner) trainWave(ctx context.Context, surveys Surveys, wave []domain.VariableGroup) ([]*imputation.Model, error) {
	models := make([]*imputation.Model, len(wave))

	train := func(i int) error {
		group := wave[i]
		source, err := surveys[group.SourceSurvey].Get(group.SourceEntity)
		if err != nil {
			return fmt.Errorf("group %q: %w", group.Name, err)
		}
		model, err := imputation.Train(ctx, group.Name, source, group.Predictors, group.Outputs, r.cfg.Model)
		if err != nil {
			return fmt.Errorf("train group %q: %w", group.Name, err)
		}
		models[i] = model
		return nil
	}

	if !r.cfg.Concurrent || len(wave) == 1 {
		for i := range wave {
			if err := train(i); err != nil {
				return nil, err
			}
		}
		return models, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i := range wave {
		i := i
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
				return train(i)
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return models, nil
}

// applyGroup samples the model onto every target survey of the group
func (r *Runner) applyGroup(ctx context.Context, surveys Surveys, group domain.VariableGroup, model *imputation.Model) error {
	tracer := otel.Tracer("microfit/pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.apply")
	defer span.End()
	span.SetAttributes(attribute.String("group", group.Name))

	for _, targetSurvey := range group.TargetSurveys {
		target, err := surveys[targetSurvey].Get(group.TargetEntity)
		if err != nil {
			return fmt.Errorf("group %q: %w", group.Name, err)
		}
		if err := model.Apply(ctx, target, group.NonNegative); err != nil {
			return fmt.Errorf("apply group %q to %q: %w", group.Name, targetSurvey, err)
		}
	}
	return nil
}
