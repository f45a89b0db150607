package cmd

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/optipress/optipress/internal/config"
	"github.com/optipress/optipress/pkg/bytesize"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing optipress configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  optipress config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/optipress/config.yaml)
  - Environment variables (OPTIPRESS_DATABASE_DSN, OPTIPRESS_STORAGE_UPLOADS_DIR, etc.)
  - Command-line flags (for some options)

Environment variables use the OPTIPRESS_ prefix and underscores for nesting.
Example: storage.uploads_dir -> OPTIPRESS_STORAGE_UPLOADS_DIR`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting byte sizes for human
// readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch v := field.Interface().(type) {
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(v))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = v
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg := config.Defaults()

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# optipress Configuration File")
	fmt.Println("# =============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("# Quota limits of -1 mean unbounded.")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   OPTIPRESS_DATABASE_DRIVER, OPTIPRESS_DATABASE_DSN")
	fmt.Println("#   OPTIPRESS_STORAGE_UPLOADS_DIR, OPTIPRESS_STORAGE_BASE_URL")
	fmt.Println("#   OPTIPRESS_CONVERT_HYBRID, OPTIPRESS_CONVERT_WEBP_QUALITY")
	fmt.Println("#   OPTIPRESS_QUOTA_IMAGE_LIMIT, OPTIPRESS_QUOTA_VIDEO_LIMIT")
	fmt.Println("#   OPTIPRESS_LOGGING_LEVEL, OPTIPRESS_LOGGING_FORMAT")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
