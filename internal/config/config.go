package config

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrMissingCredential is returned when an API key env var is unset.
var ErrMissingCredential = errors.New("missing credential")

type Config struct {
	Marketplace Marketplace `yaml:"marketplace"`
	CRM         CRM         `yaml:"crm"`
	Cohorts     Cohorts     `yaml:"cohorts"`
	Reports     Reports     `yaml:"reports"`
	Output      Output      `yaml:"output"`
	Logging     Logging     `yaml:"logging"`
}

// Marketplace configures the agent listing API used for ingestion.
type Marketplace struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	APIKeyEnv string        `yaml:"api_key_env" validate:"required"`
	Statuses  []string      `yaml:"statuses" validate:"min=1,dive,oneof=public private"`
	PageSize  int           `yaml:"page_size" validate:"min=1,max=100"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CRM configures contact lookups and list membership.
type CRM struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	APIKeyEnv     string        `yaml:"api_key_env" validate:"required"`
	BatchSize     int           `yaml:"batch_size" validate:"min=1,max=5"`
	RequestDelay  time.Duration `yaml:"request_delay"`
	MaxAttempts   int           `yaml:"max_attempts" validate:"min=1"`
	Backoff       time.Duration `yaml:"backoff"`
	CooldownEvery int           `yaml:"cooldown_every" validate:"min=0"`
	Cooldown      time.Duration `yaml:"cooldown"`
	Timeout       time.Duration `yaml:"timeout"`
}

type Cohorts struct {
	GrantProgram GrantProgram `yaml:"grant_program"`
	PaidTraffic  PaidTraffic  `yaml:"paid_traffic"`
}

// GrantProgram identifies the membership list of grant-funded builders.
type GrantProgram struct {
	ListID      string `yaml:"list_id" validate:"required"`
	MembersFile string `yaml:"members_file"`
}

// PaidTraffic holds the curated names of promoted agents.
type PaidTraffic struct {
	Threshold float64  `yaml:"threshold" validate:"gte=0,lte=1"`
	Names     []string `yaml:"names"`
	NamesFile string   `yaml:"names_file"`
}

type Reports struct {
	TopN    int `yaml:"top_n" validate:"min=1"`
	TopTags int `yaml:"top_tags" validate:"min=1"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// ConfigDir returns the XDG config directory for aqa.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "aqa")
}

// DataDir returns the XDG data directory for aqa.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "aqa")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/aqa/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'aqa init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv loads .env and .env.local from the working directory.
// Variables already set in the environment win. Missing files are ignored.
func LoadEnv() error {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
	}
	return nil
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Marketplace: Marketplace{
			BaseURL:   "https://api-lr.agent.ai/v1",
			APIKeyEnv: "AGENT_AI_API_KEY",
			Statuses:  []string{"public"},
			PageSize:  100,
			Timeout:   30 * time.Second,
		},
		CRM: CRM{
			BaseURL:       "https://api.hubapi.com",
			APIKeyEnv:     "HUB_API_KEY",
			BatchSize:     5,
			RequestDelay:  100 * time.Millisecond,
			MaxAttempts:   3,
			Backoff:       time.Second,
			CooldownEvery: 90,
			Cooldown:      10 * time.Second,
			Timeout:       30 * time.Second,
		},
		Cohorts: Cohorts{
			GrantProgram: GrantProgram{ListID: "301"},
			PaidTraffic:  PaidTraffic{Threshold: 0.8},
		},
		Reports: Reports{TopN: 10, TopTags: 5},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	return cfg, nil
}

// Validate checks field constraints declared in the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// CRMAPIKey returns the CRM token from the configured env var.
func (c *Config) CRMAPIKey() (string, error) {
	return lookupKey(c.CRM.APIKeyEnv)
}

// MarketplaceAPIKey returns the marketplace token from the configured env var.
func (c *Config) MarketplaceAPIKey() (string, error) {
	return lookupKey(c.Marketplace.APIKeyEnv)
}

func lookupKey(env string) (string, error) {
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", fmt.Errorf("%w: set %s in the environment or .env", ErrMissingCredential, env)
	}
	return key, nil
}

// PaidTrafficNames returns the curated names from config plus names_file,
// trimmed, with blanks and duplicates removed. Order is preserved.
func (c *Config) PaidTrafficNames() ([]string, error) {
	names := append([]string(nil), c.Cohorts.PaidTraffic.Names...)

	if path := c.Cohorts.PaidTraffic.NamesFile; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening names file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				continue
			}
			names = append(names, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading names file: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
