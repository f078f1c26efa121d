// Package config provides layered configuration loading for the ferry service.
// It merges Defaults -> Environment Variables -> explicit overrides (CLI
// flags), decodes with mapstructure hooks and validates the result.
package config

import (
	"errors"
	"fmt"
	"net"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable the loader reads.
const EnvPrefix = "FERRY_"

// Blob backends.
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
)

// ByteSize is a byte count that decodes from plain integers or IEC strings
// such as "32MiB".
type ByteSize int64

// Config holds the merged runtime configuration for the ferry service.
type Config struct {
	Addr                 string        `koanf:"addr" validate:"required,ip_port"`
	DataDir              string        `koanf:"data_dir" validate:"required,safe_path"`
	MaxUploadBytes       ByteSize      `koanf:"max_upload_bytes" validate:"gt=0"`
	DefaultExpireMinutes int           `koanf:"default_expire_minutes" validate:"gte=0,lte=52560000"`
	SweepInterval        time.Duration `koanf:"sweep_interval" validate:"gte=0"`
	OrphanGrace          time.Duration `koanf:"orphan_grace" validate:"gte=1m"`
	MetricsFlush         time.Duration `koanf:"metrics_flush" validate:"gt=0"`
	MetricsToken         string        `koanf:"metrics_token"`
	RevealBootstrapKey   bool          `koanf:"reveal_bootstrap_key"`
	PasswordCost         int           `koanf:"password_cost" validate:"gte=4,lte=31"`
	LogLevel             string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat            string        `koanf:"log_format" validate:"oneof=text json"`

	BlobBackend string `koanf:"blob_backend" validate:"oneof=filesystem s3"`
	S3Bucket    string `koanf:"s3_bucket" validate:"required_if=BlobBackend s3"`
	S3Region    string `koanf:"s3_region" validate:"required_if=BlobBackend s3"`
	S3Endpoint  string `koanf:"s3_endpoint" validate:"omitempty,url"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key" validate:"required_with=S3AccessKey"`
	S3Prefix    string `koanf:"s3_prefix"`
}

// DefaultAppConfig holds the built-in defaults.
var DefaultAppConfig = Config{
	Addr:                 ":8080",
	DataDir:              "./data",
	MaxUploadBytes:       100 << 20, // 100 MiB
	DefaultExpireMinutes: 10,
	SweepInterval:        time.Minute,
	OrphanGrace:          15 * time.Minute,
	MetricsFlush:         10 * time.Second,
	RevealBootstrapKey:   true,
	PasswordCost:         10,
	LogLevel:             "info",
	LogFormat:            "text",
	BlobBackend:          BackendFilesystem,
	S3Region:             "us-east-1",
}

// SQLiteDSN returns the database DSN inside DataDir.
func (c *Config) SQLiteDSN() string {
	p := strings.TrimSuffix(c.DataDir, "/") + "/ferry.db"
	if c.DataDir == "" {
		p = "ferry.db"
	}
	return "file:" + p + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate"
}

// Swappable loading steps; tests replace them to exercise failure paths.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safe_path", validSafePath)
	}
)

// Load returns the configuration from defaults and the environment.
func Load() (*Config, error) {
	return LoadWithOverrides(nil)
}

// LoadWithOverrides is Load with explicit key overrides applied last. Keys
// use the koanf names, e.g. "addr" or "data_dir".
func LoadWithOverrides(overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	for key, val := range overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToByteSizeHookFunc(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, describe(err)
	}
	return &cfg, nil
}

// describe turns validator errors into a message naming the offending key.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field, _ := reflect.TypeOf(Config{}).FieldByName(fe.StructField())
		key := field.Tag.Get("koanf")
		if key == "" {
			key = fe.Field()
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", key, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", key, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// validIPPort accepts "host:port" where host is empty or a literal IP and
// port is 1-65535.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n > 0 && n <= 65535
}

// validSafePath rejects empty paths, the root, the current directory and
// anything with a ".." segment.
func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if strings.TrimSpace(p) == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	clean := path.Clean(p)
	return clean != "." && clean != "/"
}

// StringToByteSizeHookFunc decodes strings into ByteSize via ParseSize.
func StringToByteSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		n, err := ParseSize(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(n), nil
	}
}

// ParseSize converts a human-friendly size string into a byte count.
// Accepts plain integers (bytes) or IEC/human suffixes: KiB/MiB/GiB (case-insensitive) or K/M/G.
// Examples: "131072" => 131072, "128KiB" => 131072, "1MiB" => 1048576, "2G" => 2147483648.
func ParseSize(s string) (int64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	upper := strings.ToUpper(s)
	if n, ok, err := parseSizeWithSuffix(upper, orig); ok {
		return n, err
	}
	n, err := parsePositiveInt(upper)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", orig, err)
	}
	return n, nil
}

// parsePositiveInt parses a base-10 int64 and rejects negatives.
func parsePositiveInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative not allowed")
	}
	return n, nil
}

// parseSizeWithSuffix attempts to parse well-known size suffixes. It returns (value, true, nil)
// on success; (0, false, nil) if no suffix matched; or (0, true, error) if a suffix matched but parsing failed.
func parseSizeWithSuffix(upper, orig string) (int64, bool, error) {
	units := []struct {
		suffix string
		mult   int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	}
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			numPart := strings.TrimSpace(upper[:len(upper)-len(u.suffix)])
			if numPart == "" {
				return 0, true, fmt.Errorf("parse size %q: missing number", orig)
			}
			n, err := parsePositiveInt(numPart)
			if err != nil {
				return 0, true, fmt.Errorf("parse size %q: %w", orig, err)
			}
			return n * u.mult, true, nil
		}
	}
	return 0, false, nil
}
