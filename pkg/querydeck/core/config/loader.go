package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "config"

// minSecretLength is the shortest vault secret accepted without a warning.
const minSecretLength = 16

// ConnectionEntry is a named target connection declared in configuration.
// Password holds vault ciphertext, never plaintext.
type ConnectionEntry struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"encrypted_password"`
	SSL      bool   `mapstructure:"ssl"`
	Owner    string `mapstructure:"owner"`
}

// LoadConfig loads configuration from the embedded YAML, a .env file and the process environment.
//
// Order of precedence, lowest first: NewConfig defaults, YAML, environment variables.
// ${VAR} placeholders inside the YAML are expanded before parsing.
func LoadConfig(envFilePath string, embedded EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()
	if len(embedded) > 0 {
		expanded := os.ExpandEnv(string(embedded))
		// Decoding over the defaults leaves keys absent from the document untouched.
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, exception.NewValidationError(moduleName, "failed to unmarshal config: %v", err)
		}
	}
	if cfg.QueryDeck.Connections == nil {
		cfg.QueryDeck.Connections = map[string]interface{}{}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewValidationError(moduleName, "failed to load config from environment variables: %v", err)
	}
	loadConnectionsFromEnv(cfg.QueryDeck.Connections, "QUERYDECK_CONNECTIONS_")
	cfg.EmbeddedConfig = embedded
	return cfg, nil
}

// Apply configures the logger from cfg and reports weak settings.
func Apply(cfg *Config) {
	logger.SetFormat(cfg.QueryDeck.System.Logging.Format)
	logger.SetLogLevel(cfg.QueryDeck.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.QueryDeck.System.Logging.Level)

	for _, w := range cfg.Warnings() {
		logger.Warnf("%s", w)
	}
}

// Warnings reports weak settings that do not prevent startup.
func (c *Config) Warnings() []string {
	var out []string
	v := c.QueryDeck.Vault
	if v.Secret == "" {
		out = append(out, "vault secret is not configured; stored credentials cannot be decrypted")
	} else if len(v.Secret) < minSecretLength {
		out = append(out, fmt.Sprintf("vault secret is shorter than %d characters", minSecretLength))
	}
	if v.Salt == "" {
		out = append(out, "vault salt is not configured; key derivation uses an empty salt")
	}
	if c.QueryDeck.Pool.ConnectionLimit > 20 {
		out = append(out, fmt.Sprintf("pool connection_limit %d exceeds 20 and will be clamped", c.QueryDeck.Pool.ConnectionLimit))
	}
	return out
}

// DecodeConnections decodes the "connections" section into entries sorted by name.
// The map key is used as Name when the entry does not set one.
func (c *Config) DecodeConnections() ([]ConnectionEntry, error) {
	out := make([]ConnectionEntry, 0, len(c.QueryDeck.Connections))
	for key, raw := range c.QueryDeck.Connections {
		var entry ConnectionEntry
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &entry,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, exception.NewValidationError(moduleName, "failed to build decoder: %v", err)
		}
		if err := dec.Decode(raw); err != nil {
			return nil, exception.NewValidationError(moduleName, "invalid connection %q: %v", key, err)
		}
		if entry.Name == "" {
			entry.Name = key
		}
		if entry.Port == 0 {
			entry.Port = 3306
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// loadStructFromEnv recursively overrides struct fields from environment variables.
// The variable name is the upper-cased path of yaml tags joined by "_".
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}
		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadConnectionsFromEnv merges variables such as QUERYDECK_CONNECTIONS_REPORTING_HOST=db
// into the connections map, creating the entry "reporting" when it does not exist.
func loadConnectionsFromEnv(connections map[string]interface{}, prefix string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) != 2 {
			continue
		}
		name := strings.ToLower(keyAndField[0])
		field := strings.ToLower(keyAndField[1])

		entry, ok := connections[name].(map[string]interface{})
		if !ok {
			entry = map[string]interface{}{}
			if existing, isMap := connections[name].(map[interface{}]interface{}); isMap {
				for k, v := range existing {
					entry[fmt.Sprint(k)] = v
				}
			}
		}
		entry[field] = parts[1]
		connections[name] = entry
	}
}

// setField converts value to the kind of field and assigns it.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
