// Package config loads sql workbooks, the yaml or toml files listing the scripts run by sqlbind.
package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pkgz/fileutils"
	"github.com/go-pkgz/stringutils"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/sqlbind/pkg/extension"
)

// Workbook defines the top-level config object
type Workbook struct {
	DB         string   `yaml:"db" toml:"db"`                 // default database, used if not set from cli
	Extensions []string `yaml:"extensions" toml:"extensions"` // extension packs to register on each connection
	Secrets    []string `yaml:"secrets" toml:"secrets"`       // secret keys, values masked in the output
	Scripts    []Script `yaml:"scripts" toml:"scripts"`       // list of scripts

	fname string
}

// Script defines a named sql script with optional bind parameters
type Script struct {
	Name   string         `yaml:"name" toml:"name"`     // name of script, mandatory
	SQL    string         `yaml:"sql" toml:"sql"`       // inline sql
	File   string         `yaml:"file" toml:"file"`     // sql file, relative to the workbook
	Params map[string]any `yaml:"params" toml:"params"` // named bind values, with or without the prefix
}

// Load reads the workbook from fname. The format is picked by extension, yaml for .yml, .yaml
// or no extension at all and toml for .toml. Scripts with a file get its content as sql.
func Load(fname string) (*Workbook, error) {
	log.Printf("[DEBUG] request to load workbook %q", fname)
	if !fileutils.IsFile(fname) {
		return nil, fmt.Errorf("workbook %s not found", fname)
	}
	data, err := os.ReadFile(fname) // nolint
	if err != nil {
		return nil, fmt.Errorf("can't read workbook: %w", err)
	}

	res := &Workbook{fname: fname}
	if err = unmarshalWorkbook(fname, data, res); err != nil {
		return nil, err
	}
	if err = res.loadFiles(); err != nil {
		return nil, err
	}
	if err = res.checkConfig(); err != nil {
		return nil, fmt.Errorf("workbook %s is invalid: %w", fname, err)
	}

	log.Printf("[INFO] workbook loaded with %d scripts", len(res.Scripts))
	return res, nil
}

// unmarshalWorkbook decodes data by the file extension, yaml in strict mode
func unmarshalWorkbook(fname string, data []byte, res *Workbook) error {
	switch ext := strings.ToLower(filepath.Ext(fname)); ext {
	case ".yml", ".yaml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true) // strict mode, fail on unknown fields
		if err := dec.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal yaml workbook %s: %w", fname, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, res); err != nil {
			return fmt.Errorf("can't unmarshal toml workbook %s: %w", fname, err)
		}
	default:
		return fmt.Errorf("unknown workbook format %s", fname)
	}
	return nil
}

// Name returns the file the workbook was loaded from
func (w *Workbook) Name() string { return w.fname }

// Select returns scripts matching names in the workbook order, all of them if no names given.
// Names are case-insensitive and an unknown name is an error.
func (w *Workbook) Select(names ...string) ([]Script, error) {
	if len(names) == 0 {
		return append([]Script{}, w.Scripts...), nil
	}

	wanted := stringutils.DeDup(stringutils.Map(names, strings.ToLower))
	known := make([]string, 0, len(w.Scripts))
	for _, s := range w.Scripts {
		known = append(known, strings.ToLower(s.Name))
	}
	if missing := stringutils.Difference(wanted, known); len(missing) > 0 {
		return nil, fmt.Errorf("scripts not found: %s", strings.Join(missing, ", "))
	}

	res := make([]Script, 0, len(wanted))
	for _, s := range w.Scripts {
		if stringutils.Contains(strings.ToLower(s.Name), wanted) {
			res = append(res, s)
		}
	}
	return res, nil
}

// Packs resolves the extension packs of the workbook, none if the list is empty
func (w *Workbook) Packs() ([]extension.Pack, error) {
	if len(w.Extensions) == 0 {
		return nil, nil
	}
	return extension.ByName(w.Extensions...)
}

// loadFiles sets sql of file scripts, file paths are relative to the workbook's directory
func (w *Workbook) loadFiles() error {
	dir := filepath.Dir(w.fname)
	for i, s := range w.Scripts {
		if s.File == "" {
			continue
		}
		if s.SQL != "" {
			return fmt.Errorf("script %q has both sql and file", s.Name)
		}
		path := s.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if !fileutils.IsFile(path) {
			return fmt.Errorf("script %q file %s not found", s.Name, path)
		}
		data, err := os.ReadFile(path) // nolint
		if err != nil {
			return fmt.Errorf("can't read script %q file: %w", s.Name, err)
		}
		w.Scripts[i].SQL = string(data)
		log.Printf("[DEBUG] script %q loaded from %s", s.Name, path)
	}
	return nil
}

// checkConfig validates the workbook, reporting all the problems at once:
// - there is at least one script
// - all scripts have unique non-empty names and some sql
// - all extension packs are known
func (w *Workbook) checkConfig() error {
	errs := new(multierror.Error)
	if len(w.Scripts) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no scripts defined"))
	}

	names := make(map[string]bool)
	for i, s := range w.Scripts {
		if s.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("script #%d has no name", i+1))
			continue
		}
		key := strings.ToLower(s.Name)
		if names[key] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate script name %q", s.Name))
		}
		names[key] = true
		if stringutils.IsBlank(s.SQL) {
			errs = multierror.Append(errs, fmt.Errorf("script %q has no sql", s.Name))
		}
	}

	if _, err := w.Packs(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
