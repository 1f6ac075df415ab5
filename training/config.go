package training

import (
	omwjson "github.com/sw965/omw/json"
	"github.com/sw965/oslow/flow"
	"github.com/sw965/oslow/permutation"
)

// ExperimentConfig bundles everything needed to reproduce a run in one
// JSON file.
type ExperimentConfig struct {
	Flow        flow.Config
	Permutation permutation.Config
	Trainer     TrainerConfig
	Controller  *ControllerConfig
}

func LoadExperimentConfigJSON(path string) (ExperimentConfig, error) {
	return omwjson.Load[ExperimentConfig](path)
}

func (c *ExperimentConfig) WriteJSON(path string) error {
	return omwjson.Write[ExperimentConfig](c, path)
}
