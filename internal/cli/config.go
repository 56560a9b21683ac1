// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/logrusorgru/aurora/v4"
	"go.yaml.in/yaml/v3"

	v1 "github.com/sbh-io/sbh/api/v1"
)

// LoadConfig reads a config file over the defaults, so fields the file
// omits keep their default values. It does not validate; callers run
// Config.Validate. An empty path is not an error: it returns the
// defaults.
func LoadConfig(path string) (v1.Config, error) {
	if path == "" {
		return v1.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return v1.Config{}, fmt.Errorf("cli: read config %s: %w", path, err)
	}
	cfg := v1.Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return v1.Config{}, fmt.Errorf("cli: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, replacing it atomically.
func SaveConfig(cfg v1.Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cli: marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cli: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cli: rename %s: %w", tmp, err)
	}
	return nil
}

// ConfigShow implements "config show": print the effective
// configuration, defaults merged with whatever the file overrides.
func ConfigShow(path string, format OutputFormat) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if format == FormatJSON {
		return printJSON(cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

// ConfigValidate implements "config validate": load the file and run
// the schema/range checks, printing a clear pass/fail.
func ConfigValidate(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Println(aurora.Green("config valid").String())
	return nil
}

// ConfigReset implements "config reset": overwrite path with
// v1.Default().
func ConfigReset(path string) error {
	return SaveConfig(v1.Default(), path)
}

// ConfigDiff implements "config diff": compute the JSON merge patch
// from the config at oldPath to the config at newPath.
func ConfigDiff(oldPath, newPath string) (string, error) {
	oldCfg, err := LoadConfig(oldPath)
	if err != nil {
		return "", err
	}
	newCfg, err := LoadConfig(newPath)
	if err != nil {
		return "", err
	}

	oldJSON, err := json.Marshal(oldCfg)
	if err != nil {
		return "", err
	}
	newJSON, err := json.Marshal(newCfg)
	if err != nil {
		return "", err
	}

	patch, err := jsonpatch.CreateMergePatch(oldJSON, newJSON)
	if err != nil {
		return "", fmt.Errorf("cli: diff configs: %w", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(patch, &pretty); err != nil {
		return string(patch), nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return string(patch), nil
	}
	return string(out), nil
}

// ConfigSet implements "config set key=value": it applies a single
// dotted-path override by round-tripping through YAML as a generic
// map, then re-validates the result before writing it back.
func ConfigSet(path, key, value string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return err
	}
	if err := setDottedKey(generic, key, value); err != nil {
		return err
	}

	merged, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	var updated v1.Config
	if err := yaml.Unmarshal(merged, &updated); err != nil {
		return fmt.Errorf("cli: apply %s=%s: %w", key, value, err)
	}
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("cli: %s=%s produces invalid config: %w", key, value, err)
	}
	return SaveConfig(updated, path)
}

func setDottedKey(m map[string]any, dotted, value string) error {
	parts := splitDotted(dotted)
	cur := m
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return nil
		}
		next, ok := cur[part]
		if !ok {
			nested := map[string]any{}
			cur[part] = nested
			cur = nested
			continue
		}
		nested, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cli: %s is not a nested field", part)
		}
		cur = nested
	}
	return nil
}

func splitDotted(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
