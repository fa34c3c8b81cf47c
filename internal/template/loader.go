package template

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader scans directories for YAML template files.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files. A file may
// hold a single template or a list under a top-level "templates" key.
func (l *Loader) LoadAll(directories []string) ([]Template, error) {
	var out []Template

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			tmpls, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			out = append(out, tmpls...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return out, nil
}

// LoadFile parses one YAML file and stamps each template with the file path
// and its SHA-256 checksum.
func (l *Loader) LoadFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc struct {
		Template  `yaml:",inline"`
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	tmpls := doc.Templates
	if doc.ID != "" || len(doc.Stages) > 0 {
		tmpls = append([]Template{doc.Template}, tmpls...)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	for i := range tmpls {
		tmpls[i].SourceFile = path
		tmpls[i].Checksum = checksum
	}
	return tmpls, nil
}
