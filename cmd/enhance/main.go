package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"microfit/internal/blend"
	"microfit/internal/calibration"
	"microfit/internal/config"
	"microfit/internal/dataset"
	"microfit/internal/exporter"
	"microfit/internal/infrastructure"
	"microfit/internal/pipeline"
	"microfit/internal/targets"
	"microfit/pkg/contracts/domain"
)

// primarySurvey names the survey whose records carry the final weights
const primarySurvey = "frs"

func main() {
	if err := run(); err != nil {
		slog.Error("enhancement run failed", "error", err)
		infrastructure.CloseLogFile()
		os.Exit(1)
	}
	infrastructure.CloseLogFile()
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml (default: search working directory)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := infrastructure.MustInitializeLogger(cfg.Logging)

	telemetry, err := infrastructure.InitializeTelemetry(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := infrastructure.NewRunMetrics(telemetry.Meter)
	if err != nil {
		return fmt.Errorf("failed to create run metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = infrastructure.ContextWithRunID(ctx)
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	logger.InfoContext(ctx, "starting enhancement run",
		"data_dir", cfg.Paths.DataDir,
		"output_dir", cfg.Paths.OutputDir,
	)

	groups, err := loadGroups(cfg.Paths.GroupsFile)
	if err != nil {
		return err
	}
	surveys, err := loadSurveys(cfg, groups)
	if err != nil {
		return err
	}

	if err := runImputation(ctx, cfg, surveys, groups, metrics); err != nil {
		return err
	}

	persons, householdIDs, householdWeights, err := runBlend(ctx, cfg, surveys, metrics)
	if err != nil {
		return err
	}

	results, err := runCalibration(ctx, cfg, persons, householdIDs, householdWeights, metrics)
	if err != nil {
		return err
	}

	return writeArtifacts(ctx, cfg, persons, results, logger)
}

// runImputation transfers variable groups across surveys
func runImputation(ctx context.Context, cfg *config.Config, surveys pipeline.Surveys, groups []domain.VariableGroup, metrics *infrastructure.RunMetrics) error {
	start := time.Now()

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.Concurrent = cfg.Imputation.Concurrent
	pipelineCfg.Model.Forest.Trees = cfg.Imputation.Trees
	pipelineCfg.Model.Forest.MaxDepth = cfg.Imputation.MaxDepth
	pipelineCfg.Model.Forest.MinLeafSize = cfg.Imputation.MinLeafSize
	pipelineCfg.Model.Forest.SampleFraction = cfg.Imputation.SampleFraction
	pipelineCfg.Model.Forest.Seed = cfg.Imputation.Seed
	pipelineCfg.Model.MinTrainRows = cfg.Imputation.MinTrainRows
	pipelineCfg.Model.QuantileCount = cfg.Imputation.QuantileCount

	runner := pipeline.NewRunner(pipelineCfg)
	if err := runner.Run(ctx, surveys, groups); err != nil {
		return fmt.Errorf("imputation failed: %w", err)
	}

	imputed := 0
	for _, group := range groups {
		for _, survey := range group.TargetSurveys {
			if table, ok := surveys[survey][group.TargetEntity]; ok {
				imputed += table.Len()
			}
		}
	}
	metrics.RecordsImputed.Add(ctx, int64(imputed))
	metrics.RecordStage(ctx, "imputation", time.Since(start))
	return nil
}

// runBlend enlarges the primary survey's persons with synthetic capital
// gains records. A missing bands file skips the stage and passes the
// original persons through with their survey design weights.
func runBlend(ctx context.Context, cfg *config.Config, surveys pipeline.Surveys, metrics *infrastructure.RunMetrics) (*dataset.Table, []int64, []float64, error) {
	persons := surveys[primarySurvey]["person"]
	households := surveys[primarySurvey]["household"]
	weightColumn, err := households.Column("weight")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("primary household table: %w", err)
	}

	bands, err := loadBands(cfg.Paths.BandsFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(bands) == 0 {
		slog.Default().InfoContext(ctx, "no gains band targets, skipping blend stage")
		return persons, households.IDs(), weightColumn, nil
	}

	start := time.Now()
	blendCfg := blend.Config{
		Epochs:       cfg.Blend.Epochs,
		LearningRate: cfg.Blend.LearningRate,
		Tolerance:    cfg.Blend.Tolerance,
		Seed:         cfg.Blend.Seed,
	}
	result, err := blend.Blend(ctx, persons, households.IDs(), weightColumn, bands, blendCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("gains blending failed: %w", err)
	}

	metrics.RecordsBlended.Add(ctx, int64(result.Persons.Len()-persons.Len()))
	metrics.RecordStage(ctx, "blend", time.Since(start))
	return result.Persons, result.HouseholdIDs, result.HouseholdWeights, nil
}

// runCalibration fits weights per geography level against the targets
// workbook
func runCalibration(ctx context.Context, cfg *config.Config, persons *dataset.Table, householdIDs []int64, householdWeights []float64, metrics *infrastructure.RunMetrics) (map[domain.GeographyLevel]*calibration.Result, error) {
	start := time.Now()

	workbook, err := targets.ReadWorkbook(cfg.Paths.TargetsFile)
	if err != nil {
		return nil, err
	}
	initialWeights, err := personWeights(persons, householdIDs, householdWeights)
	if err != nil {
		return nil, fmt.Errorf("failed to expand household weights: %w", err)
	}

	problems := make([]calibration.Problem, 0, len(workbook.Levels))
	for level, targetList := range workbook.Levels {
		var areas *targets.AreaIndex
		if level == domain.GeographyNational {
			areas = targets.NationalAreaIndex(persons.Len())
		} else {
			areas, err = targets.AreaIndexFromColumn(persons, string(level))
			if err != nil {
				return nil, fmt.Errorf("level %s: %w", level, err)
			}
		}
		matrix, values, err := targets.BuildMatrix(persons, workbook.Registry, targetList, areas)
		if err != nil {
			return nil, fmt.Errorf("level %s: %w", level, err)
		}
		problems = append(problems, calibration.Problem{
			Level:          level,
			Matrix:         matrix,
			Targets:        targetList,
			Values:         values,
			InitialWeights: initialWeights,
		})
	}

	calCfg := calibration.DefaultConfig()
	calCfg.Epochs = cfg.Calibration.Epochs
	calCfg.LearningRate = cfg.Calibration.LearningRate
	calCfg.DropoutRate = cfg.Calibration.DropoutRate
	calCfg.Seed = cfg.Calibration.Seed
	calCfg.SnapshotInterval = cfg.Calibration.SnapshotInterval
	calCfg.ExcludedTargets = cfg.Calibration.ExcludedTargets

	snapshot := func(level domain.GeographyLevel, epoch int, weights []float64) {
		slog.Default().DebugContext(ctx, "calibration snapshot", "level", level, "epoch", epoch)
	}
	results, err := calibration.CalibrateAll(ctx, problems, calCfg, snapshot)
	if err != nil {
		return nil, fmt.Errorf("calibration failed: %w", err)
	}

	for level, result := range results {
		metrics.RecordCalibration(ctx, string(level), len(result.LossHistory), result.FinalLoss, result.PctClose)
	}
	metrics.RecordStage(ctx, "calibration", time.Since(start))
	return results, nil
}

// writeArtifacts exports the enhanced dataset, weights and diagnostics
func writeArtifacts(ctx context.Context, cfg *config.Config, persons *dataset.Table, results map[domain.GeographyLevel]*calibration.Result, logger *slog.Logger) error {
	e := exporter.New(cfg.Paths.OutputDir, logger)

	if err := e.WriteTable("person_enhanced.csv", persons); err != nil {
		return err
	}
	if err := e.WriteWeights("weights.csv", persons.IDs(), results); err != nil {
		return err
	}

	var entries []domain.DiagnosticEntry
	for _, result := range results {
		entries = append(entries, result.Diagnostics...)
	}
	if err := e.WriteDiagnosticsCSV("calibration_log.csv", entries); err != nil {
		return err
	}
	if err := e.WriteDiagnosticsWorkbook("diagnostics.xlsx", results); err != nil {
		return err
	}

	artifacts := []string{
		e.Path("person_enhanced.csv"),
		e.Path("weights.csv"),
		e.Path("calibration_log.csv"),
		e.Path("diagnostics.xlsx"),
	}
	if err := e.WriteManifest("manifest.txt", artifacts); err != nil {
		return err
	}

	logger.InfoContext(ctx, "enhancement run complete",
		"records", persons.Len(),
		"levels", len(results),
		"output_dir", cfg.Paths.OutputDir,
	)
	return nil
}
