// Package config provides configuration for the bill calculator.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BillDateLayout is the anchor-date format used throughout the
// configuration: MM/DD/YY HH:MM.
const BillDateLayout = "01/02/06 15:04"

// ParseBillDate parses a configured anchor date.
func ParseBillDate(s string) (time.Time, error) {
	t, err := time.Parse(BillDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing bill date %q: %w", s, err)
	}
	return t, nil
}

// Config holds the global settings and every account to process.
type Config struct {
	Global      GlobalConfig `yaml:"global"`
	AWSAccounts []AWSAccount `yaml:"aws_accounts"`
	GCEProjects []GCEProject `yaml:"gce_projects"`
}

// GlobalConfig holds settings shared by all accounts.
type GlobalConfig struct {
	GraphiteHost           string `yaml:"graphite_host"`
	GraphitePort           int    `yaml:"graphite_port"`
	GraphiteContextBilling string `yaml:"graphite_context_billing"`
	GraphiteContextAlarms  string `yaml:"graphite_context_alarms"`
	GraphiteContextEgress  string `yaml:"graphite_context_egress"`
	GrafanaDashboard       string `yaml:"grafana_dashboard"`

	Email      EmailConfig      `yaml:"email"`
	ServiceNow ServiceNowConfig `yaml:"servicenow"`
}

// EmailConfig configures alarm email dispatch.
type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SMTPHost   string   `yaml:"smtp_host"`
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
}

// ServiceNowConfig configures incident creation.
type ServiceNowConfig struct {
	Enabled             bool   `yaml:"enabled"`
	InstanceURL         string `yaml:"instance_url"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	AssignmentGroup     string `yaml:"assignment_group"`
	CMDBCI              string `yaml:"cmdb_ci"`
	Categorization      string `yaml:"categorization"`
	VirtualOrganization string `yaml:"virtual_organization"`
}

// AccountConstants are the fields common to every billed account.
type AccountConstants struct {
	// LastKnownBillDate anchors the aggregation window, format
	// MM/DD/YY HH:MM.
	LastKnownBillDate string  `yaml:"last_known_bill_date"`
	BalanceAtDate     float64 `yaml:"balance_at_date"`
	ApplyDiscount     bool    `yaml:"apply_discount"`

	DailyRateAlarmThreshold      float64 `yaml:"cost_rate_per_hour_in_last_day_alarm_threshold"`
	BurnRateAlarmThreshold       float64 `yaml:"burn_rate_alarm_threshold"`
	TimeDeltaForCostCalculations float64 `yaml:"time_delta_for_cost_calculations"`
}

// AWSAccount configures one AWS billed account.
type AWSAccount struct {
	AccountName               string  `yaml:"account_name"`
	AccountNumber             string  `yaml:"account_number"`
	CredentialsProfile        string  `yaml:"credentials_profile"`
	BillingBucket             string  `yaml:"billing_bucket"`
	Region                    string  `yaml:"region"`
	AccountConstants          `yaml:",inline"`
	SixHourRateAlarmThreshold float64 `yaml:"cost_rate_per_hour_in_last_six_hours_alarm_threshold"`
}

// GCEProject configures one GCE billed project. Source selects the
// billing export generation: "bigquery" (current) or "storage"
// (legacy CSV export).
type GCEProject struct {
	ProjectID        string `yaml:"project_id"`
	Source           string `yaml:"source"`
	BillingBucket    string `yaml:"billing_bucket"`
	ExportPrefix     string `yaml:"export_prefix"`
	BillingTable     string `yaml:"billing_table"`
	BillingAccount   string `yaml:"billing_account"`
	AccountConstants `yaml:",inline"`
}

// Load reads, env-expands and parses the YAML configuration, applies
// defaults, and validates every anchor date.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Global.GraphitePort == 0 {
		cfg.Global.GraphitePort = 2003
	}

	for i, acct := range cfg.AWSAccounts {
		if _, err := ParseBillDate(acct.LastKnownBillDate); err != nil {
			return nil, fmt.Errorf("aws account %s: %w", acct.AccountName, err)
		}
		if acct.TimeDeltaForCostCalculations == 0 {
			cfg.AWSAccounts[i].TimeDeltaForCostCalculations = 24
		}
	}
	for i, proj := range cfg.GCEProjects {
		if _, err := ParseBillDate(proj.LastKnownBillDate); err != nil {
			return nil, fmt.Errorf("gce project %s: %w", proj.ProjectID, err)
		}
		if proj.Source == "" {
			cfg.GCEProjects[i].Source = "bigquery"
		}
		if proj.ExportPrefix == "" {
			cfg.GCEProjects[i].ExportPrefix = proj.ProjectID
		}
		if proj.TimeDeltaForCostCalculations == 0 {
			cfg.GCEProjects[i].TimeDeltaForCostCalculations = 24
		}
	}

	return &cfg, nil
}
