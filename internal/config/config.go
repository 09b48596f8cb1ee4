// Package config loads the monitor configuration: portal URLs and DOM
// selectors plus scheduler tunables. Selectors live in config, not code,
// because the portal ships DOM changes without notice and redeploying a YAML
// file is cheaper than a build.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default tunable values.
const (
	DefaultPollInterval     = 20 * time.Second
	DefaultLookback         = 30 * time.Minute
	DefaultMaxLoginAttempts = 5
	DefaultMaxPages         = 5
	DefaultSessionMaxAge    = 10 * time.Minute
	DefaultCallTimeout      = 30 * time.Second
	DefaultBackoffInitial   = 5 * time.Second
	DefaultBackoffMax       = 3 * time.Minute
)

// Portal holds the banking portal URLs and the DOM selectors the login
// controller and fetcher operate on.
type Portal struct {
	LoginURL   string `yaml:"login_url"`
	InquiryURL string `yaml:"inquiry_url"`

	Selectors Selectors `yaml:"selectors"`
}

// Selectors names every element the monitor touches. CSS selectors.
type Selectors struct {
	// Login page
	CaptchaImage  string `yaml:"captcha_image"`
	CorpIDInput   string `yaml:"corp_id_input"`
	UsernameInput string `yaml:"username_input"`
	PasswordInput string `yaml:"password_input"`
	CaptchaInput  string `yaml:"captcha_input"`
	SubmitButton  string `yaml:"submit_button"`
	PopupClose    string `yaml:"popup_close"`
	ErrorDialog   string `yaml:"error_dialog"`
	Dashboard     string `yaml:"dashboard"`
	LogoutButton  string `yaml:"logout_button"`

	// Transaction inquiry page
	PeriodRadio    string `yaml:"period_radio"`
	FromDateInput  string `yaml:"from_date_input"`
	QueryButton    string `yaml:"query_button"`
	TransactionRow string `yaml:"transaction_row"` // row template, expects one %d page-relative index
	EmptyMarker    string `yaml:"empty_marker"`
	NextPageButton string `yaml:"next_page_button"`
}

// Tunables are the scheduler knobs. Every field has a documented default and
// zero values always fall back; no business logic branches on absence.
type Tunables struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	Lookback         time.Duration `yaml:"lookback"`
	MaxLoginAttempts int           `yaml:"max_login_attempts"`
	MaxPages         int           `yaml:"max_pages"`
	SessionMaxAge    time.Duration `yaml:"session_max_age"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	BackoffInitial   time.Duration `yaml:"backoff_initial"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

// Config is the full monitor configuration.
type Config struct {
	Portal   Portal   `yaml:"portal"`
	Tunables Tunables `yaml:"tunables"`
}

// Default returns the configuration for the current portal layout with all
// tunables at their defaults.
func Default() *Config {
	return &Config{
		Portal: Portal{
			LoginURL:   "https://ebank.mbbank.com.vn/cp/pl/login",
			InquiryURL: "https://ebank.mbbank.com.vn/cp/account-info/transaction-inquiry",
			Selectors: Selectors{
				CaptchaImage:   "mbb-word-captcha img",
				CorpIDInput:    "mbb-login form mbb-input:nth-of-type(1) input",
				UsernameInput:  "mbb-login form mbb-input:nth-of-type(2) input",
				PasswordInput:  "mbb-login form input[type=password]",
				CaptchaInput:   "mbb-word-captcha input",
				SubmitButton:   "mbb-login form button[type=submit]",
				PopupClose:     "mbb-dialog-common button",
				ErrorDialog:    "mbb-dialog-error p",
				Dashboard:      "mbb-account-info",
				LogoutButton:   "button.btn-logout",
				PeriodRadio:    "#mat-radio-3 label",
				FromDateInput:  "mbb-transaction-inquiry-v2 mbb-date-time-picker input",
				QueryButton:    "#btn-query",
				TransactionRow: "#tbl-transaction-history tbody tr:nth-child(%d)",
				EmptyMarker:    "mbb-table-history .no-data",
				NextPageButton: "#page-items button.next-page",
			},
		},
		Tunables: Tunables{
			PollInterval:     DefaultPollInterval,
			Lookback:         DefaultLookback,
			MaxLoginAttempts: DefaultMaxLoginAttempts,
			MaxPages:         DefaultMaxPages,
			SessionMaxAge:    DefaultSessionMaxAge,
			CallTimeout:      DefaultCallTimeout,
			BackoffInitial:   DefaultBackoffInitial,
			BackoffMax:       DefaultBackoffMax,
		},
	}
}

// Load reads a YAML config file and merges it over the defaults. A missing
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults restores defaults for tunables the file zeroed or omitted.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Tunables.PollInterval <= 0 {
		c.Tunables.PollInterval = d.Tunables.PollInterval
	}
	if c.Tunables.Lookback <= 0 {
		c.Tunables.Lookback = d.Tunables.Lookback
	}
	if c.Tunables.MaxLoginAttempts <= 0 {
		c.Tunables.MaxLoginAttempts = d.Tunables.MaxLoginAttempts
	}
	if c.Tunables.MaxPages <= 0 {
		c.Tunables.MaxPages = d.Tunables.MaxPages
	}
	if c.Tunables.SessionMaxAge <= 0 {
		c.Tunables.SessionMaxAge = d.Tunables.SessionMaxAge
	}
	if c.Tunables.CallTimeout <= 0 {
		c.Tunables.CallTimeout = d.Tunables.CallTimeout
	}
	if c.Tunables.BackoffInitial <= 0 {
		c.Tunables.BackoffInitial = d.Tunables.BackoffInitial
	}
	if c.Tunables.BackoffMax <= 0 {
		c.Tunables.BackoffMax = d.Tunables.BackoffMax
	}
	if c.Portal.LoginURL == "" {
		c.Portal.LoginURL = d.Portal.LoginURL
	}
	if c.Portal.InquiryURL == "" {
		c.Portal.InquiryURL = d.Portal.InquiryURL
	}
}
