// Package config handles credproxy configuration parsing: the main YAML/JSON
// document, variable substitution, schema validation, and the service
// definitions the credential engine runs on.
package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// OriginStatic marks services seeded from the main configuration file.
const OriginStatic = "static"

// DefaultConfigFile is used when neither --config nor CREDPROXY_CONFIG_FILE
// is set.
const DefaultConfigFile = "/credproxy/config.yaml"

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IAMProfile selects a named profile from the shared AWS config files.
type IAMProfile struct {
	ProfileName string `yaml:"profile_name"`
	ConfigFile  string `yaml:"config_file,omitempty"`
}

// IAMKeys holds a static access key pair, optionally with a session token
// when the source credentials are themselves temporary.
type IAMKeys struct {
	AccessKeyID     string `yaml:"aws_access_key_id"`
	SecretAccessKey string `yaml:"aws_secret_access_key"`
	SessionToken    string `yaml:"session_token,omitempty"`
}

// SourceCredentials describes the credentials credproxy uses to perform the
// role exchange. With neither IAMProfile nor IAMKeys set, the SDK default
// provider chain is used.
type SourceCredentials struct {
	Region     string      `yaml:"region,omitempty"`
	IAMProfile *IAMProfile `yaml:"iam_profile,omitempty"`
	IAMKeys    *IAMKeys    `yaml:"iam_keys,omitempty"`
}

// PolicyARN references a managed session policy.
type PolicyARN struct {
	Arn string `yaml:"arn"`
}

// RoleTag is a session tag passed to AssumeRole.
type RoleTag struct {
	Key   string `yaml:"Key"`
	Value string `yaml:"Value"`
}

// AssumedRole holds the AssumeRole call parameters for one service. Field
// names mirror the STS API, as they do in the configuration file.
type AssumedRole struct {
	RoleArn           string      `yaml:"RoleArn"`
	RoleSessionName   string      `yaml:"RoleSessionName,omitempty"`
	DurationSeconds   int32       `yaml:"DurationSeconds,omitempty"`
	ExternalID        string      `yaml:"ExternalId,omitempty"`
	Policy            string      `yaml:"Policy,omitempty"`
	PolicyArns        []PolicyARN `yaml:"PolicyArns,omitempty"`
	Tags              []RoleTag   `yaml:"Tags,omitempty"`
	TransitiveTagKeys []string    `yaml:"TransitiveTagKeys,omitempty"`
	SourceIdentity    string      `yaml:"SourceIdentity,omitempty"`
}

// ServiceDefinition is one named service: the token clients authenticate
// with, the source credentials for the exchange, and the role parameters.
// Immutable once accepted into the service table.
type ServiceDefinition struct {
	Name              string
	AuthToken         string
	SourceCredentials SourceCredentials
	AssumedRole       AssumedRole

	// Origin is OriginStatic or "dynamic:<directory>". It decides which
	// reconciliation pass, if any, owns the definition.
	Origin string
}

// Equal reports whether two definitions have the same content. Origin is
// excluded: a definition is "changed" only when its parameters differ, so a
// rewrite of a file with identical content does not restart the entry.
func (d ServiceDefinition) Equal(other ServiceDefinition) bool {
	d.Origin = ""
	other.Origin = ""
	return reflect.DeepEqual(d, other)
}

// Validate checks the definition is complete enough to register.
func (d ServiceDefinition) Validate() error {
	if !serviceNamePattern.MatchString(d.Name) {
		return fmt.Errorf("invalid service name %q: must match [a-zA-Z0-9_-]+", d.Name)
	}
	if d.AuthToken == "" {
		return fmt.Errorf("service %q: auth_token is required", d.Name)
	}
	if d.AssumedRole.RoleArn == "" {
		return fmt.Errorf("service %q: assumed_role.RoleArn is required", d.Name)
	}
	if ds := d.AssumedRole.DurationSeconds; ds != 0 && (ds < 900 || ds > 43200) {
		return fmt.Errorf("service %q: DurationSeconds %d out of range 900-43200", d.Name, ds)
	}
	return nil
}

// ServerConfig configures the credential endpoint listener.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	LogHealthChecks bool   `yaml:"log_health_checks"`
}

// CredentialSettings holds the lifecycle tunables shared by all entries.
type CredentialSettings struct {
	RefreshBufferSeconds int `yaml:"refresh_buffer_seconds"`
	RetryDelay           int `yaml:"retry_delay"`
	RequestTimeout       int `yaml:"request_timeout"`
}

// RefreshBuffer returns the refresh buffer as a duration.
func (s CredentialSettings) RefreshBuffer() time.Duration {
	return time.Duration(s.RefreshBufferSeconds) * time.Second
}

// RetryDelayDuration returns the retry delay as a duration.
func (s CredentialSettings) RetryDelayDuration() time.Duration {
	return time.Duration(s.RetryDelay) * time.Second
}

// RequestTimeoutDuration returns the per-exchange timeout as a duration.
func (s CredentialSettings) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// DirectoryConfig is one watched directory with its include/exclude regex
// patterns. Patterns apply to the forward-slash normalized path and are
// anchored at the start of the string.
type DirectoryConfig struct {
	Path            string   `yaml:"path"`
	IncludePatterns []string `yaml:"include_patterns,omitempty"`
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`
}

// DynamicServices configures directory watching for dynamic service files.
type DynamicServices struct {
	Enabled        bool
	Directories    []DirectoryConfig
	ReloadInterval int
}

// ReloadIntervalDuration returns the debounce quiet period as a duration.
func (d DynamicServices) ReloadIntervalDuration() time.Duration {
	return time.Duration(d.ReloadInterval) * time.Second
}

// PrometheusConfig configures the metrics listener.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig groups telemetry settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// Config is the fully resolved configuration document.
type Config struct {
	Server          ServerConfig
	Credentials     CredentialSettings
	AWSDefaults     *SourceCredentials
	Services        []ServiceDefinition
	DynamicServices *DynamicServices
	Metrics         MetricsConfig
}

// raw* types mirror the on-disk document before defaults and normalization.

type rawService struct {
	AuthToken         string            `yaml:"auth_token"`
	SourceCredentials SourceCredentials `yaml:"source_credentials"`
	AssumedRole       AssumedRole       `yaml:"assumed_role"`
}

// rawDirectory accepts both the object form {path, include_patterns, ...}
// and the older bare-string form.
type rawDirectory struct {
	DirectoryConfig
}

func (r *rawDirectory) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Path = node.Value
		return nil
	}
	return node.Decode(&r.DirectoryConfig)
}

type rawDynamicServices struct {
	Enabled        bool           `yaml:"enabled"`
	Directory      string         `yaml:"directory,omitempty"`
	Directories    []rawDirectory `yaml:"directories,omitempty"`
	ReloadInterval int            `yaml:"reload_interval"`
}

type rawConfig struct {
	Server          *ServerConfig         `yaml:"server"`
	Credentials     *CredentialSettings   `yaml:"credentials"`
	AWSDefaults     *SourceCredentials    `yaml:"aws_defaults"`
	Services        map[string]rawService `yaml:"services"`
	DynamicServices *rawDynamicServices   `yaml:"dynamic_services"`
	Metrics         *MetricsConfig        `yaml:"metrics"`
}

// Load reads, substitutes, validates and decodes the configuration file.
// CREDPROXY_CONFIG_FILE overrides path when set.
func Load(path string) (*Config, error) {
	if env := os.Getenv("CREDPROXY_CONFIG_FILE"); env != "" {
		path = env
	}
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse builds a Config from a raw YAML or JSON document.
func Parse(data []byte) (*Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	substituted, err := Substitute(doc)
	if err != nil {
		return nil, err
	}
	doc, _ = substituted.(map[string]any)

	if err := ValidateSchema(doc); err != nil {
		return nil, err
	}

	// Round-trip the substituted document into the typed form.
	resolved, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encoding document: %w", err)
	}
	var raw rawConfig
	if err := yaml.Unmarshal(resolved, &raw); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	return buildConfig(&raw)
}

func buildConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 1338},
		Credentials: CredentialSettings{
			RefreshBufferSeconds: 300,
			RetryDelay:           60,
			RequestTimeout:       30,
		},
		AWSDefaults: raw.AWSDefaults,
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{Enabled: true, Host: "0.0.0.0", Port: 9090},
		},
	}

	if raw.Server != nil {
		if raw.Server.Host != "" {
			cfg.Server.Host = raw.Server.Host
		}
		if raw.Server.Port != 0 {
			cfg.Server.Port = raw.Server.Port
		}
		cfg.Server.LogHealthChecks = raw.Server.LogHealthChecks
	}
	if raw.Credentials != nil {
		if raw.Credentials.RefreshBufferSeconds != 0 {
			cfg.Credentials.RefreshBufferSeconds = raw.Credentials.RefreshBufferSeconds
		}
		if raw.Credentials.RetryDelay != 0 {
			cfg.Credentials.RetryDelay = raw.Credentials.RetryDelay
		}
		if raw.Credentials.RequestTimeout != 0 {
			cfg.Credentials.RequestTimeout = raw.Credentials.RequestTimeout
		}
	}
	if raw.Metrics != nil {
		cfg.Metrics = *raw.Metrics
		if cfg.Metrics.Prometheus.Host == "" {
			cfg.Metrics.Prometheus.Host = "0.0.0.0"
		}
		if cfg.Metrics.Prometheus.Port == 0 {
			cfg.Metrics.Prometheus.Port = 9090
		}
	}

	for name, svc := range raw.Services {
		def := BuildDefinition(name, svc.AuthToken, svc.SourceCredentials, svc.AssumedRole, cfg.AWSDefaults, OriginStatic)
		if err := def.Validate(); err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, def)
	}

	if raw.DynamicServices != nil {
		ds, err := normalizeDynamicServices(raw.DynamicServices)
		if err != nil {
			return nil, err
		}
		cfg.DynamicServices = ds
	}

	if len(cfg.Services) == 0 && (cfg.DynamicServices == nil || !cfg.DynamicServices.Enabled) {
		return nil, fmt.Errorf("at least one service must be configured: define static services or enable dynamic_services")
	}

	return cfg, nil
}

// normalizeDynamicServices reduces the legacy single-directory form and the
// bare-string directory list to the one DirectoryConfig shape the watcher
// handles.
func normalizeDynamicServices(raw *rawDynamicServices) (*DynamicServices, error) {
	ds := &DynamicServices{
		Enabled:        raw.Enabled,
		ReloadInterval: raw.ReloadInterval,
	}
	if ds.ReloadInterval == 0 {
		ds.ReloadInterval = 5
	}

	switch {
	case len(raw.Directories) > 0:
		for _, dir := range raw.Directories {
			if dir.Path == "" {
				return nil, fmt.Errorf("dynamic_services: directory entry missing path")
			}
			ds.Directories = append(ds.Directories, dir.DirectoryConfig)
		}
	case raw.Directory != "":
		// Legacy form: one directory, include everything.
		ds.Directories = []DirectoryConfig{{Path: raw.Directory}}
	default:
		ds.Directories = []DirectoryConfig{{Path: "/credproxy/dynamic"}}
	}
	return ds, nil
}

// ParseServices decodes a substituted `services:` mapping into definitions,
// in name order. Used for the service documents discovered by the dynamic
// registry.
func ParseServices(services map[string]any, defaults *SourceCredentials, origin string) ([]ServiceDefinition, error) {
	data, err := yaml.Marshal(services)
	if err != nil {
		return nil, fmt.Errorf("re-encoding services: %w", err)
	}
	var raw map[string]rawService
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding services: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]ServiceDefinition, 0, len(raw))
	for _, name := range names {
		svc := raw[name]
		def := BuildDefinition(name, svc.AuthToken, svc.SourceCredentials, svc.AssumedRole, defaults, origin)
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// BuildDefinition assembles a ServiceDefinition, layering aws_defaults under
// the service's own source credentials and filling role parameter defaults.
func BuildDefinition(name, token string, source SourceCredentials, role AssumedRole, defaults *SourceCredentials, origin string) ServiceDefinition {
	if defaults != nil {
		if source.Region == "" {
			source.Region = defaults.Region
		}
		// Auth sections come as a block: a service that sets its own
		// iam_profile or iam_keys does not inherit the other half.
		if source.IAMProfile == nil && source.IAMKeys == nil {
			source.IAMProfile = defaults.IAMProfile
			source.IAMKeys = defaults.IAMKeys
		}
	}
	if role.RoleSessionName == "" {
		role.RoleSessionName = "credproxy"
	}
	if role.DurationSeconds == 0 {
		role.DurationSeconds = 900
	}
	return ServiceDefinition{
		Name:              name,
		AuthToken:         token,
		SourceCredentials: source,
		AssumedRole:       role,
		Origin:            origin,
	}
}
