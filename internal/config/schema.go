package config

import (
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/stockpipe/internal/version"
	pipeerrors "github.com/rxtech-lab/stockpipe/pkg/errors"
	"github.com/rxtech-lab/stockpipe/pkg/utils"
)

// SchemaFileName is the conventional name of the generated config schema.
const SchemaFileName = "stockpipe-config.schema.json"

// GenerateSchemaJSON returns the JSON schema of the configuration file. Editors use
// it through a `# yaml-language-server: $schema=` comment.
func (c Config) GenerateSchemaJSON() (string, error) {
	return utils.GetSchemaFromConfig(c)
}

// SampleYAML renders the default configuration stamped with the binary version,
// headed by a schema comment pointing at schemaName.
func SampleYAML(schemaName string) ([]byte, error) {
	cfg := Default()
	cfg.Version = version.GetVersion()

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, pipeerrors.Wrap(pipeerrors.ErrCodeInvalidConfiguration, "marshal sample config", err)
	}

	return append([]byte("# yaml-language-server: $schema="+schemaName+"\n"), body...), nil
}
