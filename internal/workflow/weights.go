package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sagelab/researchd/internal/research"
)

// stageWeightsFile is the on-disk override for the progress weight table.
type stageWeightsFile struct {
	StageWeights map[string]int `yaml:"stage_weights"`
}

// LoadStageWeights reads a progress weight override from a YAML file.
// Stages absent from the file keep their defaults; unknown stage names
// and out-of-range weights are rejected.
func LoadStageWeights(path string) (map[research.Status]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage weights: %w", err)
	}
	var f stageWeightsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse stage weights: %w", err)
	}

	weights := make(map[research.Status]int, len(progressWeight))
	for status, w := range progressWeight {
		weights[status] = w
	}
	for name, w := range f.StageWeights {
		status := research.Status(name)
		if _, ok := progressWeight[status]; !ok {
			return nil, fmt.Errorf("unknown stage %q in weights file", name)
		}
		if w < 0 || w > 100 {
			return nil, fmt.Errorf("stage %q weight %d out of range [0,100]", name, w)
		}
		weights[status] = w
	}
	return weights, nil
}
