package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"tabletdb/internal/status"
)

var envVarPattern = regexp.MustCompile(`\${([^}]+)}`)

func expandEnvStrict(s string) (string, error) {
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(m[1]); !ok {
			return "", status.InvalidArgument("environment variable %s is not set", m[1])
		}
	}
	return os.ExpandEnv(s), nil
}

// Load reads a yaml config file, expanding ${ENV} references strictly.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, status.Wrap(status.CodeIOError, err, "reading config %s", path)
	}
	expanded, err := expandEnvStrict(string(raw))
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, status.Wrap(status.CodeInvalidArgument, err, "parsing config %s", path)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Application: ApplicationProperties{LogLevel: "info"},
		Master: MasterProperties{
			FSRoot:         "./data",
			RPCAddress:     "127.0.0.1:7051",
			MetricsAddress: "127.0.0.1:9091",
			WriteTimeoutMs: 30_000,
		},
		Client: ClientProperties{
			TimeoutMs: 30_000,
		},
	}
}
