// Package config resolves server settings from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Notifier kinds.
const (
	NotifierLog    = "log"
	NotifierTwilio = "twilio"
)

// TwilioConfig points the twilio notifier at the Messages API or a compatible twin.
type TwilioConfig struct {
	BaseURL    string `yaml:"base_url"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

type NotifierConfig struct {
	Kind   string       `yaml:"kind"`
	Twilio TwilioConfig `yaml:"twilio"`
}

// Config is the resolved server configuration.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty disables gRPC
	TLSCert  string `yaml:"tls_cert"`
	TLSKey   string `yaml:"tls_key"`
	Dev      bool   `yaml:"dev"`

	CodeTTL                  time.Duration `yaml:"code_ttl"`
	AllowAutoProvisionCallee bool          `yaml:"allow_auto_provision_callee"`
	ValidateSDP              bool          `yaml:"validate_sdp"`
	SweepInterval            time.Duration `yaml:"sweep_interval"`
	LongPollMax              time.Duration `yaml:"long_poll_max"`

	RedeemMaxFailures   int           `yaml:"redeem_max_failures"` // 0 disables throttling
	RedeemFailureWindow time.Duration `yaml:"redeem_failure_window"`
	RedeemBlockFor      time.Duration `yaml:"redeem_block_for"`

	AdminKey string `yaml:"admin_key"` // empty disables the admin surface

	Notifier NotifierConfig `yaml:"notifier"`

	// ConfigFile is the YAML file the config was loaded from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":8443",
		CodeTTL:             5 * time.Minute,
		SweepInterval:       time.Minute,
		LongPollMax:         30 * time.Second,
		RedeemMaxFailures:   10,
		RedeemFailureWindow: 15 * time.Minute,
		RedeemBlockFor:      15 * time.Minute,
		Notifier: NotifierConfig{
			Kind:   NotifierLog,
			Twilio: TwilioConfig{BaseURL: "https://api.twilio.com"},
		},
	}
}

func newFlagSet(name string, cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address (empty disables)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS private key (PEM)")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging and gRPC reflection")
	fs.DurationVar(&cfg.CodeTTL, "code-ttl", cfg.CodeTTL, "verification code lifetime")
	fs.BoolVar(&cfg.AllowAutoProvisionCallee, "allow-auto-provision-callee", cfg.AllowAutoProvisionCallee, "provision unknown callees as verified")
	fs.BoolVar(&cfg.ValidateSDP, "validate-sdp", cfg.ValidateSDP, "reject offers/answers whose SDP does not parse")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "expired code sweep interval (0 disables)")
	fs.DurationVar(&cfg.LongPollMax, "long-poll-max", cfg.LongPollMax, "maximum event wait")
	fs.IntVar(&cfg.RedeemMaxFailures, "redeem-max-failures", cfg.RedeemMaxFailures, "failed redemptions before lockout (0 disables)")
	fs.DurationVar(&cfg.RedeemFailureWindow, "redeem-failure-window", cfg.RedeemFailureWindow, "window for counting failed redemptions")
	fs.DurationVar(&cfg.RedeemBlockFor, "redeem-block-for", cfg.RedeemBlockFor, "lockout duration")
	fs.StringVar(&cfg.AdminKey, "admin-key", cfg.AdminKey, "HS256 key for operator tokens")
	fs.StringVar(&cfg.Notifier.Kind, "notifier", cfg.Notifier.Kind, "notifier kind: log or twilio")
	fs.StringVar(&cfg.Notifier.Twilio.BaseURL, "twilio-base-url", cfg.Notifier.Twilio.BaseURL, "Twilio API base URL")
	fs.StringVar(&cfg.Notifier.Twilio.AccountSID, "twilio-account-sid", cfg.Notifier.Twilio.AccountSID, "Twilio account SID")
	fs.StringVar(&cfg.Notifier.Twilio.AuthToken, "twilio-auth-token", cfg.Notifier.Twilio.AuthToken, "Twilio auth token")
	fs.StringVar(&cfg.Notifier.Twilio.From, "twilio-from", cfg.Notifier.Twilio.From, "sender number")
	return fs
}

// Parse resolves the configuration for args (without the program name).
// Flags given explicitly override values from the -config file.
func Parse(args []string) (Config, error) {
	cfg := Default()
	if err := newFlagSet("callrelay", &cfg).Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.ConfigFile != "" {
		path := cfg.ConfigFile
		cfg = Default()
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
		if err := newFlagSet("callrelay", &cfg).Parse(args); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes the YAML file at path over cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		return errors.New("at least one of http_addr or grpc_addr is required")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	if c.CodeTTL <= 0 {
		return fmt.Errorf("code_ttl must be positive, got %s", c.CodeTTL)
	}
	if c.LongPollMax <= 0 {
		return fmt.Errorf("long_poll_max must be positive, got %s", c.LongPollMax)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative, got %s", c.SweepInterval)
	}
	if c.RedeemMaxFailures < 0 {
		return fmt.Errorf("redeem_max_failures must not be negative, got %d", c.RedeemMaxFailures)
	}
	if c.RedeemMaxFailures > 0 && (c.RedeemFailureWindow <= 0 || c.RedeemBlockFor <= 0) {
		return errors.New("redeem_failure_window and redeem_block_for must be positive when throttling is on")
	}
	switch c.Notifier.Kind {
	case NotifierLog:
	case NotifierTwilio:
		t := c.Notifier.Twilio
		if t.BaseURL == "" || t.AccountSID == "" || t.AuthToken == "" || t.From == "" {
			return errors.New("twilio notifier needs base_url, account_sid, auth_token and from")
		}
	default:
		return fmt.Errorf("unknown notifier kind %q", c.Notifier.Kind)
	}
	return nil
}
