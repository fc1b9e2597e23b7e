package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the bundle-relative path to the function's declared
// contract (inputs, outputs, trigger kind, requirements hash).
const ConfigFileName = "CONFIG"

// TriggerKind partitions how a function is invoked.
type TriggerKind string

const (
	TriggerUpdate  TriggerKind = "update"
	TriggerAppend  TriggerKind = "append"
	TriggerInitial TriggerKind = "initial"
)

// Config is the bundle's declared contract, read from CONFIG (JSON).
type Config struct {
	FunctionName     string      `json:"function_name"`
	Trigger          TriggerKind `json:"trigger"`
	Inputs           []string    `json:"inputs"`
	Outputs          []string    `json:"outputs"`
	RequirementsHash string      `json:"requirements_hash"`
}

// ErrArityMismatch is returned when a parsed request's input/output slot
// count disagrees with the bundle's declared arity.
type ErrArityMismatch struct {
	Declared int
	Got      int
	Which    string // "input" or "output"
}

func (e *ErrArityMismatch) Error() string {
	return fmt.Sprintf("bundle: %s arity mismatch: declared %d, request has %d", e.Which, e.Declared, e.Got)
}

// LoadConfig reads and parses bundleDir/CONFIG.
func LoadConfig(bundleDir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, ConfigFileName))
	if err != nil {
		return nil, fmt.Errorf("bundle: read %s: %w", ConfigFileName, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("bundle: parse %s: %w", ConfigFileName, err)
	}
	return &cfg, nil
}

// CheckArity verifies the request's input/output slot counts against the
// bundle's declared contract.
func (c *Config) CheckArity(inputCount, outputCount int) error {
	if inputCount != len(c.Inputs) {
		return &ErrArityMismatch{Declared: len(c.Inputs), Got: inputCount, Which: "input"}
	}
	if outputCount != len(c.Outputs) {
		return &ErrArityMismatch{Declared: len(c.Outputs), Got: outputCount, Which: "output"}
	}
	return nil
}
