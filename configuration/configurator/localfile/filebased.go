package localfile

import (
	"context"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/liam-kelly/luna-sysmgr/configuration"
	"github.com/liam-kelly/luna-sysmgr/configuration/configurator"
)

func init() {
	configurator.Register("file", configurator.FactoryFunc(NewFileBased))
	configurator.Register("json", configurator.FactoryFunc(NewJSONFile))
}

type format int

const (
	formatYAML format = iota
	formatJSON
)

type fileConfigurator struct {
	fs     afero.Fs
	path   string
	format format
}

func (f fileConfigurator) Get(ctx context.Context) (*configuration.Config, error) {
	body, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return nil, err
	}
	if f.format == formatJSON {
		return decodeJSON(body)
	}
	m := configuration.Default()
	if err := yaml.Unmarshal(body, m); err != nil {
		return nil, err
	}
	return m, nil
}

func newFile(fs afero.Fs, path string, f format) (configurator.Configurator, error) {
	if _, err := fs.Stat(path); err != nil {
		return nil, err
	}
	return fileConfigurator{fs: fs, path: path, format: f}, nil
}

// NewFileBased reads a YAML document.
func NewFileBased(path string) (configurator.Configurator, error) {
	return newFile(afero.NewOsFs(), path, formatYAML)
}

// NewJSONFile reads a JSON document with the same keys.
func NewJSONFile(path string) (configurator.Configurator, error) {
	return newFile(afero.NewOsFs(), path, formatJSON)
}
