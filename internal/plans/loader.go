package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lumenfab/probeflow/internal/hardware"
	"github.com/lumenfab/probeflow/internal/measure"
	"gopkg.in/yaml.v3"
)

// Plan is a device list plus measurement parameters, loaded from a plan
// file. Endpoint addresses and timeout budgets come from service config,
// not from the plan.
type Plan struct {
	PlanID      string                    `json:"plan_id"`
	Devices     []measure.DeviceSpec      `json:"devices"`
	Alignment   hardware.AlignmentRequest `json:"alignment"`
	MinPowerDBM float64                   `json:"min_power_dbm"`
	SpeedUMPerS float64                   `json:"speed_um_per_s"`
}

var planExtensions = []string{".json", ".yaml", ".yml"}

// Loader resolves plan names against search paths and validates every plan
// against the embedded schema before use. Plans are cached by name.
type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *Loader) Load(name string) (*Plan, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*Plan), nil
	}

	data, foundPath, err := l.locate(name)
	if err != nil {
		return nil, err
	}

	// YAML plans are normalized to JSON so one schema covers both formats.
	if ext := filepath.Ext(foundPath); ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", foundPath, err)
		}
	}

	if err := l.validator.ValidatePlan(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}

	l.cache.Store(name, &plan)

	return &plan, nil
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

func (l *Loader) locate(name string) ([]byte, string, error) {
	for _, searchPath := range l.searchPaths {
		for _, ext := range planExtensions {
			fullPath := filepath.Join(searchPath, name+ext)
			data, err := os.ReadFile(fullPath)
			if err == nil {
				return data, fullPath, nil
			}
		}
	}
	return nil, "", fmt.Errorf("plan not found: %s (searched in: %v)", name, l.searchPaths)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
