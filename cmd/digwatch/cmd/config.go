package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/digwatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing digwatch configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in TOML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  digwatch config dump > digwatch.toml

Configuration can be set via:
  - Config file (digwatch.toml in ., ./configs, /etc/digwatch, ~/.digwatch)
  - Environment variables (DIGWATCH_SERVER_PORT, DIGWATCH_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the DIGWATCH_ prefix and underscores for nesting.
Example: server.port -> DIGWATCH_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map, formatting durations for human
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
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Load config with defaults (no file, just defaults)
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tomlData, err := toml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# digwatch Configuration File")
	fmt.Println("# ============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   DIGWATCH_SERVER_HOST, DIGWATCH_SERVER_PORT")
	fmt.Println("#   DIGWATCH_DATABASE_DRIVER, DIGWATCH_DATABASE_DSN")
	fmt.Println("#   DIGWATCH_LLM_BASE_URL, DIGWATCH_LLM_API_KEY")
	fmt.Println("#   DIGWATCH_LOGGING_LEVEL, DIGWATCH_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(tomlData))

	return nil
}
