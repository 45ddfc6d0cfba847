package yamlutil

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalStrict decodes YAML and rejects keys the target struct does not
// declare, so a typo in a config file fails the load instead of silently
// falling back to defaults.
func UnmarshalStrict(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err := dec.Decode(v)
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("unknown configuration field: %w", err)
	}
	return err
}
