package e2e

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	RedisHost  string
	RedisPort  string
	StoreType  string
	MaxLength  int
	SpoolDir   string
	StorageDir string
}

// createAppConfig writes a configuration YAML doc to the given path.
// Use this configuration to start the e2e test environment
func createAppConfig(path string, opts appConfigOptions) error {
	configTemplate := `---
output:
    host: {{ .RedisHost }}
    port: {{ .RedisPort }}
    store_type: {{ .StoreType }}
    key_name: user.id
    value_name: message
    key_prefix: "feed:"
    key_expire: 3600
{{- if .MaxLength }}
    value_length: {{ .MaxLength }}
{{- end }}
spool:
    directory: {{ .SpoolDir }}
    interval: 5s
    workers: 2
    maxChunkSize: 1MiB
rejects:
    storageDir: {{ .StorageDir }}
    keyTTL: "168h"
    cleanupInterval: "10m"
`

	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	if err := os.WriteFile(path, config.Bytes(), 0o644); err != nil {
		return fmt.Errorf("couldn't write the config file: %v", err)
	}

	return nil
}
