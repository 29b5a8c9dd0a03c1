package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix returns the environment prefix for a connector, e.g.
// TICKFLOW_KAFKA__ for "kafka".
func EnvPrefix(connector string) string {
	return "TICKFLOW_" + strings.ToUpper(connector) + "__"
}

// LoadConnector merges the YAML file at path (optional, a missing file is
// not an error) with env vars carrying envPrefix and decodes the result into
// out using `koanf` struct tags. Nested keys use "__" in env names:
// TICKFLOW_S3__UPLOAD__BUCKET sets upload.bucket.
func LoadConnector(path, envPrefix string, out any) error {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return fmt.Errorf("connector schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	cb := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}
	if err := k.Load(env.Provider(envPrefix, "__", cb), nil); err != nil {
		return fmt.Errorf("load env %s*: %w", envPrefix, err)
	}

	return k.Unmarshal("", out)
}
