// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"sort"

	"github.com/cheynewallace/tabby"

	"github.com/sbh-io/sbh/internal/pattern"
)

// ProtectAdd implements "protect path": it appends glob to the
// configured protected-paths list, if not already present, and
// rewrites the config file.
func ProtectAdd(configPath, glob string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	for _, existing := range cfg.Scanner.ProtectedGlobs {
		if existing == glob {
			return nil
		}
	}
	cfg.Scanner.ProtectedGlobs = append(cfg.Scanner.ProtectedGlobs, glob)
	return SaveConfig(cfg, configPath)
}

// ProtectRemove implements "unprotect path": it removes glob from
// the configured protected-paths list, if present.
func ProtectRemove(configPath, glob string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	kept := cfg.Scanner.ProtectedGlobs[:0]
	for _, existing := range cfg.Scanner.ProtectedGlobs {
		if existing != glob {
			kept = append(kept, existing)
		}
	}
	cfg.Scanner.ProtectedGlobs = kept
	return SaveConfig(cfg, configPath)
}

// ProtectList implements "protect list": it prints every configured
// protected glob.
func ProtectList(configPath string, format OutputFormat) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	globs := append([]string(nil), cfg.Scanner.ProtectedGlobs...)
	sort.Strings(globs)

	if format == FormatJSON {
		return printJSON(globs)
	}
	if len(globs) == 0 {
		fmt.Println("no protected globs configured")
		return nil
	}
	t := tabby.New()
	t.AddHeader("GLOB")
	for _, g := range globs {
		t.AddLine(g)
	}
	t.Print()
	return nil
}

// ProtectCheck reports whether path matches a configured protected
// glob, and if so, why.
func ProtectCheck(configPath, path string) (bool, string, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return false, "", err
	}
	registry := pattern.NewProtectionRegistry(cfg.Scanner.ProtectedGlobs)
	protected, mark := registry.IsProtected(path)
	return protected, mark.Reason, nil
}
