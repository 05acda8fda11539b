package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `global:
  graphite_host: graphite.example.org
  graphite_context_billing: billing
  graphite_context_alarms: billing.alarms
  graphite_context_egress: billing.egress
  grafana_dashboard: https://grafana.example.org/d/billing
  servicenow:
    enabled: true
    instance_url: https://snow.example.org
    username: billbot
    password: ${SNOW_PASSWORD}

aws_accounts:
  - account_name: research-main
    account_number: "950490332792"
    credentials_profile: research
    billing_bucket: research-billing
    region: us-east-1
    last_known_bill_date: "08/01/25 00:00"
    balance_at_date: 50000
    apply_discount: true
    cost_rate_per_hour_in_last_six_hours_alarm_threshold: 20
    cost_rate_per_hour_in_last_day_alarm_threshold: 15
    burn_rate_alarm_threshold: 1000

gce_projects:
  - project_id: research-poc
    billing_table: proj.dataset.gcp_billing_export_v1
    billing_account: 00AA11-BB22CC
    last_known_bill_date: "08/01/25 00:00"
    balance_at_date: 20000
    cost_rate_per_hour_in_last_day_alarm_threshold: 5
    burn_rate_alarm_threshold: 500
  - project_id: research-legacy
    source: storage
    billing_bucket: research-legacy-billing
    last_known_bill_date: "08/01/25 00:00"
    time_delta_for_cost_calculations: 48
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("SNOW_PASSWORD", "s3cret")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Global.GraphitePort != 2003 {
		t.Errorf("GraphitePort = %d, want default 2003", cfg.Global.GraphitePort)
	}
	if cfg.Global.ServiceNow.Password != "s3cret" {
		t.Errorf("ServiceNow password not env-expanded: %q", cfg.Global.ServiceNow.Password)
	}

	if len(cfg.AWSAccounts) != 1 {
		t.Fatalf("got %d AWS accounts", len(cfg.AWSAccounts))
	}
	acct := cfg.AWSAccounts[0]
	if acct.SixHourRateAlarmThreshold != 20 {
		t.Errorf("six-hour threshold = %v, want 20", acct.SixHourRateAlarmThreshold)
	}
	if acct.TimeDeltaForCostCalculations != 24 {
		t.Errorf("time delta = %v, want default 24", acct.TimeDeltaForCostCalculations)
	}
	if !acct.ApplyDiscount {
		t.Error("apply_discount not parsed")
	}

	if len(cfg.GCEProjects) != 2 {
		t.Fatalf("got %d GCE projects", len(cfg.GCEProjects))
	}
	if cfg.GCEProjects[0].Source != "bigquery" {
		t.Errorf("Source = %q, want default bigquery", cfg.GCEProjects[0].Source)
	}
	if cfg.GCEProjects[0].ExportPrefix != "research-poc" {
		t.Errorf("ExportPrefix = %q, want the project id", cfg.GCEProjects[0].ExportPrefix)
	}
	if cfg.GCEProjects[1].Source != "storage" {
		t.Errorf("Source = %q, want storage", cfg.GCEProjects[1].Source)
	}
	if cfg.GCEProjects[1].TimeDeltaForCostCalculations != 48 {
		t.Errorf("time delta = %v, want 48", cfg.GCEProjects[1].TimeDeltaForCostCalculations)
	}
}

func TestLoadRejectsBadBillDate(t *testing.T) {
	bad := `aws_accounts:
  - account_name: broken
    last_known_bill_date: "2025-08-01"
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("expected error for ISO-formatted bill date")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseBillDate(t *testing.T) {
	got, err := ParseBillDate("08/15/25 13:30")
	if err != nil {
		t.Fatalf("ParseBillDate: %v", err)
	}
	if got.Year() != 2025 || got.Month() != 8 || got.Day() != 15 || got.Hour() != 13 || got.Minute() != 30 {
		t.Errorf("ParseBillDate = %v", got)
	}
}
