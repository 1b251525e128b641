package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"microfit/internal/blend"
	"microfit/internal/config"
	"microfit/internal/dataset"
	"microfit/internal/pipeline"
	"microfit/pkg/contracts/domain"
)

var validate = validator.New()

// groupsFile is the YAML shape of the variable group definitions
type groupsFile struct {
	Groups []domain.VariableGroup `yaml:"groups"`
}

// loadGroups reads variable group definitions, falling back to the
// built-in defaults when no file exists
func loadGroups(path string) ([]domain.VariableGroup, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return domain.DefaultVariableGroups(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read groups file %s: %w", path, err)
	}

	var parsed groupsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse groups file %s: %w", path, err)
	}
	if len(parsed.Groups) == 0 {
		return nil, fmt.Errorf("groups file %s defines no groups", path)
	}
	for _, group := range parsed.Groups {
		if err := validate.Struct(group); err != nil {
			return nil, fmt.Errorf("invalid group %q in %s: %w", group.Name, path, err)
		}
	}
	return parsed.Groups, nil
}

// bandsFile is the YAML shape of the gains band targets
type bandsFile struct {
	Bands []blend.BandTarget `yaml:"bands"`
}

// loadBands reads the income-band incidence targets for gains blending.
// A missing file disables the blending stage.
func loadBands(path string) ([]blend.BandTarget, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bands file %s: %w", path, err)
	}

	var parsed bandsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse bands file %s: %w", path, err)
	}
	return parsed.Bands, nil
}

// loadSurveys reads every survey entity table the variable groups touch
func loadSurveys(cfg *config.Config, groups []domain.VariableGroup) (pipeline.Surveys, error) {
	type pair struct{ survey, entity string }
	needed := make(map[pair]bool)
	for _, group := range groups {
		needed[pair{group.SourceSurvey, group.SourceEntity}] = true
		for _, survey := range group.TargetSurveys {
			needed[pair{survey, group.TargetEntity}] = true
		}
	}
	// Blending and calibration run on the primary survey's persons
	needed[pair{primarySurvey, "person"}] = true
	needed[pair{primarySurvey, "household"}] = true

	surveys := make(pipeline.Surveys)
	for p := range needed {
		path := cfg.TablePath(p.survey, p.entity)
		table, err := dataset.ReadCSV(path, p.entity)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s/%s from %s: %w", p.survey, p.entity, path, err)
		}
		if surveys[p.survey] == nil {
			surveys[p.survey] = make(dataset.Tables)
		}
		surveys[p.survey][p.entity] = table
	}
	return surveys, nil
}

// personWeights expands household weights onto person records by
// household membership
func personWeights(persons *dataset.Table, householdIDs []int64, householdWeights []float64) ([]float64, error) {
	byHousehold := make(map[int64]float64, len(householdIDs))
	for i, id := range householdIDs {
		byHousehold[id] = householdWeights[i]
	}

	column, err := persons.Column("household_id")
	if err != nil {
		return nil, err
	}
	weights := make([]float64, len(column))
	for i, raw := range column {
		weight, ok := byHousehold[int64(raw)]
		if !ok {
			return nil, fmt.Errorf("person row %d references unknown household %d", i, int64(raw))
		}
		weights[i] = weight
	}
	return weights, nil
}
