// Package config loads the run configuration once, from a YAML file, a
// .env file and the environment, and validates it before any network
// action is taken.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Deploy     DeployConfig     `mapstructure:"deploy"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	TrustStore TrustStoreConfig `mapstructure:"trust_store"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Terraform  TerraformConfig  `mapstructure:"terraform"`
	Ansible    AnsibleConfig    `mapstructure:"ansible"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DeployConfig struct {
	User    string `mapstructure:"user"`
	KeyPath string `mapstructure:"key_path"`
	// ProxyUser logs in to the proxy; defaults to User.
	ProxyUser string `mapstructure:"proxy_user"`
}

type InventoryConfig struct {
	Path     string `mapstructure:"path"`
	YAMLPath string `mapstructure:"yaml_path"`
}

type TrustStoreConfig struct {
	Path       string `mapstructure:"path"`
	Owner      string `mapstructure:"owner"`
	Group      string `mapstructure:"group"`
	PlainHosts bool   `mapstructure:"plain_hosts"`
}

type ProbeConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Interval       time.Duration `mapstructure:"interval"`
	// Backoff is "constant" or "exponential".
	Backoff     string        `mapstructure:"backoff"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	Concurrency int           `mapstructure:"concurrency"`
	SFTP        bool          `mapstructure:"sftp"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`
}

type TerraformConfig struct {
	Binary         string        `mapstructure:"binary"`
	Dir            string        `mapstructure:"dir"`
	RequiredEnv    []string      `mapstructure:"required_env"`
	Settle         time.Duration `mapstructure:"settle"`
	OutputAttempts int           `mapstructure:"output_attempts"`
	ProxyOutput    string        `mapstructure:"proxy_output"`
	PrivateOutput  string        `mapstructure:"private_output"`

	// Credentials holds the values of RequiredEnv captured at load time.
	Credentials map[string]string `mapstructure:"-"`
}

type AnsibleConfig struct {
	Binary    string   `mapstructure:"binary"`
	Playbook  string   `mapstructure:"playbook"`
	Verbosity int      `mapstructure:"verbosity"`
	ExtraArgs []string `mapstructure:"extra_args"`
}

// ErrMissingCredential is matched by every *MissingCredentialError.
var ErrMissingCredential = errors.New("missing credential")

// MissingCredentialError lists required inputs that are unset.
type MissingCredentialError struct {
	Names []string
}

func (e *MissingCredentialError) Error() string {
	return "missing required configuration: " + strings.Join(e.Names, ", ")
}

func (e *MissingCredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "INFO")
	v.SetDefault("deploy.user", "")
	v.SetDefault("deploy.key_path", "")
	v.SetDefault("deploy.proxy_user", "")
	v.SetDefault("inventory.path", "ansible/inventory/hosts.ini")
	v.SetDefault("inventory.yaml_path", "")
	v.SetDefault("trust_store.path", "/var/lib/jenkins/.ssh/known_hosts")
	v.SetDefault("trust_store.owner", "")
	v.SetDefault("trust_store.group", "")
	v.SetDefault("trust_store.plain_hosts", false)
	v.SetDefault("probe.max_attempts", 30)
	v.SetDefault("probe.timeout", 0)
	v.SetDefault("probe.attempt_timeout", 15*time.Second)
	v.SetDefault("probe.interval", 10*time.Second)
	v.SetDefault("probe.backoff", "constant")
	v.SetDefault("probe.max_interval", time.Minute)
	v.SetDefault("probe.concurrency", 8)
	v.SetDefault("probe.sftp", false)
	v.SetDefault("probe.scan_timeout", 15*time.Second)
	v.SetDefault("terraform.binary", "terraform")
	v.SetDefault("terraform.dir", "terraform")
	v.SetDefault("terraform.required_env", []string{
		"TF_VAR_linode_token",
		"TF_VAR_ssh_keys_file",
		"TF_VAR_user_password",
		"TF_VAR_username",
	})
	v.SetDefault("terraform.settle", 10*time.Second)
	v.SetDefault("terraform.output_attempts", 5)
	v.SetDefault("terraform.proxy_output", "proxy_public_ip")
	v.SetDefault("terraform.private_output", "private_ips")
	v.SetDefault("ansible.binary", "ansible-playbook")
	v.SetDefault("ansible.playbook", "ansible/site.yaml")
	v.SetDefault("ansible.verbosity", 2)
	v.SetDefault("ansible.extra_args", []string{})
}

// Load reads bastionboot.yaml (if present) from path, or from . and
// ./cmd/bastionboot when path is empty, then applies .env and
// environment overrides. ANSIBLE_USER and ANSIBLE_PRIVATE_KEY map to
// deploy.user and deploy.key_path.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bastionboot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/bastionboot")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("deploy.user", "ANSIBLE_USER")
	_ = v.BindEnv("deploy.key_path", "ANSIBLE_PRIVATE_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Deploy.ProxyUser == "" {
		cfg.Deploy.ProxyUser = cfg.Deploy.User
	}

	cfg.Terraform.Credentials = make(map[string]string, len(cfg.Terraform.RequiredEnv))
	for _, name := range cfg.Terraform.RequiredEnv {
		if val, ok := os.LookupEnv(name); ok {
			cfg.Terraform.Credentials[name] = val
		}
	}
	return &cfg, nil
}

// ValidateDeploy checks what the trust, agent and probe stages need.
func (c *Config) ValidateDeploy() error {
	var missing []string
	if c.Deploy.User == "" {
		missing = append(missing, "ANSIBLE_USER (deploy.user)")
	}
	if c.Deploy.KeyPath == "" {
		missing = append(missing, "ANSIBLE_PRIVATE_KEY (deploy.key_path)")
	}
	if len(missing) > 0 {
		return &MissingCredentialError{Names: missing}
	}
	return nil
}

// ValidateProvisioning checks that every required provisioning
// credential was present in the environment.
func (c *Config) ValidateProvisioning() error {
	var missing []string
	for _, name := range c.Terraform.RequiredEnv {
		if c.Terraform.Credentials[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingCredentialError{Names: missing}
	}
	return nil
}

// CredentialEnv renders the captured provisioning credentials as
// NAME=value pairs for a child process.
func (c *Config) CredentialEnv() []string {
	env := make([]string, 0, len(c.Terraform.Credentials))
	for _, name := range c.Terraform.RequiredEnv {
		if val, ok := c.Terraform.Credentials[name]; ok {
			env = append(env, name+"="+val)
		}
	}
	return env
}
