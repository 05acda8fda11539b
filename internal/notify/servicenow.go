package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Severity selects the impact and priority of a created incident.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// severityFields maps an alarm severity onto the ServiceNow choice
// list values the incident table expects.
var severityFields = map[Severity]struct {
	impact   string
	priority string
}{
	SeverityWarning:  {"3 - Medium", "3 - Moderate/Limited"},
	SeverityCritical: {"1 - High", "1 - Extensive/Widespread"},
}

// ServiceNowConfig carries the instance endpoint and the routing
// fields stamped onto every incident.
type ServiceNowConfig struct {
	InstanceURL         string
	Username            string
	Password            string
	AssignmentGroup     string
	CMDBCI              string
	Categorization      string
	VirtualOrganization string
}

// ServiceNowClient opens incidents on a ServiceNow instance through
// its table API.
type ServiceNowClient struct {
	cfg    ServiceNowConfig
	http   *http.Client
	logger *zap.Logger
}

// NewServiceNowClient builds a client with a bounded request timeout.
func NewServiceNowClient(cfg ServiceNowConfig, logger *zap.Logger) *ServiceNowClient {
	return &ServiceNowClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type incidentRequest struct {
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	AssignmentGroup  string `json:"assignment_group"`
	CMDBCI           string `json:"cmdb_ci"`
	Categorization   string `json:"u_monitored_categorization"`
	VirtualOrg       string `json:"u_virtual_organization"`
	Impact           string `json:"impact"`
	Priority         string `json:"priority"`
}

type incidentResponse struct {
	Result struct {
		Number string `json:"number"`
	} `json:"result"`
}

// CreateIncident opens one incident and returns its number.
func (c *ServiceNowClient) CreateIncident(ctx context.Context, severity Severity, summary, description string) (string, error) {
	fields, ok := severityFields[severity]
	if !ok {
		fields = severityFields[SeverityWarning]
	}

	payload, err := json.Marshal(incidentRequest{
		ShortDescription: summary,
		Description:      description,
		AssignmentGroup:  c.cfg.AssignmentGroup,
		CMDBCI:           c.cfg.CMDBCI,
		Categorization:   c.cfg.Categorization,
		VirtualOrg:       c.cfg.VirtualOrganization,
		Impact:           fields.impact,
		Priority:         fields.priority,
	})
	if err != nil {
		return "", fmt.Errorf("encoding incident: %w", err)
	}

	url := c.cfg.InstanceURL + "/api/now/v1/table/incident"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building incident request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting incident: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("incident rejected with status %s", resp.Status)
	}

	var out incidentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding incident response: %w", err)
	}

	c.logger.Info("incident opened",
		zap.String("number", out.Result.Number),
		zap.String("severity", string(severity)))
	return out.Result.Number, nil
}
