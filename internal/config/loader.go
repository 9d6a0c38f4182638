package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment variables read by Load.
const EnvPrefix = "SQLMODELS_"

// sections are the nested config keys. SQLMODELS_TARGET_DSN maps to
// target.dsn, SQLMODELS_STATE_PATH to state_path.
var sections = []string{"target", "pipeline"}

// flagKeys maps flags whose names differ from their config key.
var flagKeys = map[string]string{
	"state":                "state_path",
	"target":               "target.type",
	"database":             "target.path",
	"dsn":                  "target.dsn",
	"table":                "pipeline.table",
	"input":                "pipeline.input",
	"start-date":           "pipeline.start_date",
	"end-date":             "pipeline.end_date",
	"session-gap":          "pipeline.session_gap",
	"identity-id":          "pipeline.identity_id",
	"sessionize":           "pipeline.sessionize",
	"anonymize":            "pipeline.anonymize",
	"keep-resolved-column": "pipeline.keep_resolved_column",
}

// Loaded is a loaded configuration and the file it came from.
type Loaded struct {
	*Config
	File string // empty when no config file was read
}

// findConfigFile returns the explicit path, or sqlmodels.yaml/.yml in the
// working directory when present.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"sqlmodels.yaml", "sqlmodels.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load reads the configuration. Precedence, highest first: flags, env
// vars, config file, defaults. Only flags that were set take part.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	d := Defaults()
	if err := k.Load(confmap.Provider(map[string]any{
		"dialect":              d.Dialect,
		"state_path":           d.StatePath,
		"verbose":              d.Verbose,
		"output":               d.Output,
		"identifiers":          d.Identifiers,
		"pipeline.input":       d.Pipeline.Input,
		"pipeline.table":       d.Pipeline.Table,
		"pipeline.session_gap": d.Pipeline.SessionGap.String(),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				secondsToDurationHook(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyTargetDefaults(&cfg.Target)
	expandTargetEnvVars(&cfg.Target)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loaded{Config: &cfg, File: used}, nil
}

// envKey maps SQLMODELS_TARGET_DSN to target.dsn.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + strings.TrimPrefix(key, sec+"_")
		}
	}
	return key
}

// secondsToDurationHook reads bare numbers as seconds, so session_gap: 180
// means three minutes rather than 180ns.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case uint64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			if n, ok := parseDigits(v); ok {
				return time.Duration(n) * time.Second, nil
			}
		}
		return data, nil
	}
}

func parseDigits(s string) (int64, bool) {
	if s == "" || len(s) > 18 {
		return 0, false
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	return n, true
}

func applyTargetDefaults(t *TargetConfig) {
	t.Type = strings.ToLower(t.Type)
	if t.Type == "postgres" {
		if t.Port == 0 && t.DSN == "" {
			t.Port = 5432
		}
		if t.Schema == "" {
			t.Schema = "public"
		}
	}
	if t.Type == "duckdb" && t.Schema == "" {
		t.Schema = "main"
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} with the variable's value. Unset variables
// are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

func expandTargetEnvVars(t *TargetConfig) {
	t.DSN = expandEnvVars(t.DSN)
	t.Host = expandEnvVars(t.Host)
	t.User = expandEnvVars(t.User)
	t.Password = expandEnvVars(t.Password)
	t.Database = expandEnvVars(t.Database)
}
