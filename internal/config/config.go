// Package config loads and writes launch configuration files.
//
// A config file describes a model.LaunchPlan. The format is chosen by
// extension: YAML for .yaml/.yml, JSON with comments and trailing commas
// for .json/.jsonc. Fields left out fall back to model.DefaultPlan, so a
// file that only sets bus_url still launches the four standard workers.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/ws-launcher/internal/model"
)

// EnvConfigPath names a config file when --config is not given.
const EnvConfigPath = "WS_LAUNCHER_CONFIG"

// DefaultFileName is looked up in the base directory when neither
// --config nor $WS_LAUNCHER_CONFIG is set.
const DefaultFileName = "ws-launcher.yaml"

// Format identifies a config file encoding.
type Format string

const (
	// FormatYAML is read with yaml.v3 and unknown keys rejected.
	FormatYAML Format = "yaml"

	// FormatJSON accepts JSONC: comments and trailing commas are removed
	// by tidwall/jsonc before encoding/json sees the document.
	FormatJSON Format = "json"
)

// FormatFor returns the encoding implied by the file extension.
func FormatFor(path string) (Format, error) {
	// Case-insensitive, so "PLAN.YML" works too.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q (use .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
	}
}

// Resolve picks the config file to use: explicit, then $WS_LAUNCHER_CONFIG,
// then DefaultFileName inside baseDir if it exists. An empty result means
// the built-in default plan applies.
func Resolve(explicit, baseDir string) string {
	// An explicit path is returned even when it does not exist, so Load
	// can report it as missing.
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	// The implicit file is optional: only use it when present.
	candidate := filepath.Join(baseDir, DefaultFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// Load reads the plan at path, fills in defaults, expands ${VAR}
// references and validates the result.
func Load(path string) (*model.LaunchPlan, error) {
	// Step 1: The extension decides the decoder.
	format, err := FormatFor(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidInput, "cannot load config", err)
	}

	// Step 2: Read the whole file. Plans are a few hundred bytes.
	data, err := os.ReadFile(path)
	if err != nil {
		// A missing file was named by the operator, so it is their input
		// that is wrong.
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(model.ExitInvalidInput,
				fmt.Sprintf("config file not found: %s", path), err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Step 3: Decode, default and validate.
	plan, err := Parse(data, format)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidInput,
			fmt.Sprintf("invalid config file %s", path), err)
	}
	return plan, nil
}

// Parse decodes data in the given format and returns a validated plan.
func Parse(data []byte, format Format) (*model.LaunchPlan, error) {
	var plan model.LaunchPlan

	switch format {
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		// A misspelled key such as "bus_ulr" would otherwise be dropped
		// silently and the default used instead.
		decoder.KnownFields(true)
		// An empty document decodes to io.EOF and means "all defaults".
		if err := decoder.Decode(&plan); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatJSON:
		// ToJSON blanks out comments and trailing commas in place, so
		// offsets in decode errors still match the file.
		clean := jsonc.ToJSON(data)
		// A file holding only comments is as empty as a blank one.
		if len(bytes.TrimSpace(clean)) > 0 {
			decoder := json.NewDecoder(bytes.NewReader(clean))
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&plan); err != nil {
				return nil, fmt.Errorf("failed to parse JSON: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}

	// Defaults first, so that ${VAR} in a default value would expand too.
	applyDefaults(&plan)
	expand(&plan)

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// applyDefaults fills the fields a config file left out from
// model.DefaultPlan. Workers are replaced as a whole: listing any worker
// means listing all of them.
func applyDefaults(plan *model.LaunchPlan) {
	defaults := model.DefaultPlan()
	if plan.BusURL == "" {
		plan.BusURL = defaults.BusURL
	}
	if strings.TrimSpace(plan.BuildCommand) == "" {
		plan.BuildCommand = defaults.BuildCommand
	}
	if len(plan.Workers) == 0 {
		plan.Workers = defaults.Workers
	}
}

// expand substitutes ${VAR} references from the environment in the
// fields that commonly differ between hosts.
func expand(plan *model.LaunchPlan) {
	// Unset variables expand to "", which Validate then rejects for the
	// required fields.
	plan.BusURL = os.ExpandEnv(plan.BusURL)
	plan.BuildCommand = os.ExpandEnv(plan.BuildCommand)
	for i := range plan.Workers {
		plan.Workers[i].Dir = os.ExpandEnv(plan.Workers[i].Dir)
		for j, arg := range plan.Workers[i].ExtraArgs {
			plan.Workers[i].ExtraArgs[j] = os.ExpandEnv(arg)
		}
	}
}

// Marshal encodes plan in the given format.
func Marshal(plan *model.LaunchPlan, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		// yaml.v3 indents with four spaces unless told otherwise.
		encoder.SetIndent(2)
		if err := encoder.Encode(plan); err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		// Close flushes the last document.
		if err := encoder.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		// Plain JSON is valid JSONC, so Load reads it back unchanged.
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON: %w", err)
		}
		// MarshalIndent leaves out the final newline.
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
}

// Write validates plan and stores it at path, replacing any existing file
// atomically.
func Write(path string, plan *model.LaunchPlan) error {
	// Step 1: Never write a file that Load would reject.
	if err := plan.Validate(); err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "refusing to write invalid config", err)
	}
	format, err := FormatFor(path)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidInput, "cannot write config", err)
	}
	data, err := Marshal(plan, format)
	if err != nil {
		return err
	}

	// Step 2: Write to a hidden temporary file next to the target. It has
	// to live in the same directory for the rename to be atomic.
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary config file: %w", err)
	}
	tmpPath := tmp.Name()
	// Removing after a successful rename fails harmlessly.
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// Step 3: CreateTemp uses 0600; config files are meant to be shared.
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to set config file mode: %w", err)
	}
	// Step 4: Replace the target in one step.
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
