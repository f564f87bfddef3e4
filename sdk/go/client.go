package complylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Complyline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Agent represents the API agent model.
type Agent struct {
	ID        string `json:"id"`
	NPN       string `json:"npn,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// License represents a state insurance license.
type License struct {
	ID              string  `json:"id"`
	AgentID         string  `json:"agent_id"`
	State           string  `json:"state"`
	LicenseNumber   string  `json:"license_number"`
	LineOfAuthority string  `json:"line_of_authority,omitempty"`
	Status          string  `json:"status"`
	ExpirationDate  *string `json:"expiration_date,omitempty"`
}

// Contract represents a carrier contract.
type Contract struct {
	ID              string  `json:"id"`
	AgentID         string  `json:"agent_id"`
	CarrierName     string  `json:"carrier_name"`
	WritingNumber   *string `json:"writing_number,omitempty"`
	Status          string  `json:"status"`
	ExpirationDate  *string `json:"expiration_date,omitempty"`
	CorrectionNotes *string `json:"correction_notes,omitempty"`
}

// Document represents an uploaded document record.
type Document struct {
	ID         string `json:"id"`
	AgentID    string `json:"agent_id"`
	Type       string `json:"type"`
	FileName   string `json:"file_name,omitempty"`
	UploadedBy string `json:"uploaded_by,omitempty"`
	UploadedAt string `json:"uploaded_at"`
}

// ChecklistItem represents one onboarding checklist entry.
type ChecklistItem struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	ItemKey     string  `json:"item_key"`
	Name        string  `json:"name"`
	IsCompleted bool    `json:"is_completed"`
	CompletedBy *string `json:"completed_by,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// Alert represents a compliance alert.
type Alert struct {
	ID                string  `json:"id"`
	AgentID           string  `json:"agent_id,omitempty"`
	Type              string  `json:"type"`
	Severity          string  `json:"severity"`
	Title             string  `json:"title"`
	Message           string  `json:"message,omitempty"`
	RelatedEntityType string  `json:"related_entity_type"`
	RelatedEntityID   string  `json:"related_entity_id"`
	DueDate           *string `json:"due_date,omitempty"`
	IsResolved        bool    `json:"is_resolved"`
	ResolvedAt        *string `json:"resolved_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// MonitorRunResult reports the alerts created by one monitoring pass.
type MonitorRunResult struct {
	Created []Alert `json:"created"`
	Count   int     `json:"count"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAgent onboards a new agent.
func (c *Client) CreateAgent(ctx context.Context, firstName, lastName, npn, email string) (Agent, error) {
	body := map[string]any{
		"first_name": firstName,
		"last_name":  lastName,
	}
	if npn != "" {
		body["npn"] = npn
	}
	if email != "" {
		body["email"] = email
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "v0/agents", body, &resp)
	return resp, err
}

// Agent fetches one agent by id.
func (c *Client) Agent(ctx context.Context, id string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodGet, "v0/agents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Agents lists agents, optionally filtered by status.
func (c *Client) Agents(ctx context.Context, status string) ([]Agent, error) {
	endpoint := "v0/agents"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Agent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetAgentStatus moves an agent through the onboarding lifecycle.
func (c *Client) SetAgentStatus(ctx context.Context, id, status string) (Agent, error) {
	var resp Agent
	endpoint := fmt.Sprintf("v0/agents/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddLicense records a state license for an agent.
func (c *Client) AddLicense(ctx context.Context, agentID string, lic License) (License, error) {
	body := map[string]any{
		"state":          lic.State,
		"license_number": lic.LicenseNumber,
	}
	if lic.LineOfAuthority != "" {
		body["line_of_authority"] = lic.LineOfAuthority
	}
	if lic.Status != "" {
		body["status"] = lic.Status
	}
	if lic.ExpirationDate != nil {
		body["expiration_date"] = *lic.ExpirationDate
	}
	var resp License
	endpoint := fmt.Sprintf("v0/agents/%s/licenses", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetLicenseStatus updates a license's status.
func (c *Client) SetLicenseStatus(ctx context.Context, id, status string) (License, error) {
	var resp License
	endpoint := fmt.Sprintf("v0/licenses/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddContract records a carrier contract for an agent.
func (c *Client) AddContract(ctx context.Context, agentID string, con Contract) (Contract, error) {
	body := map[string]any{
		"carrier_name": con.CarrierName,
	}
	if con.WritingNumber != nil {
		body["writing_number"] = *con.WritingNumber
	}
	if con.Status != "" {
		body["status"] = con.Status
	}
	if con.ExpirationDate != nil {
		body["expiration_date"] = *con.ExpirationDate
	}
	var resp Contract
	endpoint := fmt.Sprintf("v0/agents/%s/contracts", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetContractStatus updates a contract's status; correctionNotes is only
// meaningful with status requires_correction.
func (c *Client) SetContractStatus(ctx context.Context, id, status, correctionNotes string) (Contract, error) {
	body := map[string]any{"status": status}
	if correctionNotes != "" {
		body["correction_notes"] = correctionNotes
	}
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// AddDocument records an uploaded document and completes any checklist items
// mapped to its type.
func (c *Client) AddDocument(ctx context.Context, agentID, docType, fileName string) (Document, error) {
	body := map[string]any{"type": docType}
	if fileName != "" {
		body["file_name"] = fileName
	}
	var resp Document
	endpoint := fmt.Sprintf("v0/agents/%s/documents", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Checklist returns an agent's onboarding checklist.
func (c *Client) Checklist(ctx context.Context, agentID string) ([]ChecklistItem, error) {
	var resp []ChecklistItem
	endpoint := fmt.Sprintf("v0/agents/%s/checklist", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteChecklistItem marks one checklist item done.
func (c *Client) CompleteChecklistItem(ctx context.Context, id, notes string) (ChecklistItem, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	var resp ChecklistItem
	endpoint := fmt.Sprintf("v0/checklist-items/%s/complete", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ApplyEvent applies a business event to an agent's checklist.
func (c *Client) ApplyEvent(ctx context.Context, agentID, event string) ([]ChecklistItem, error) {
	var resp []ChecklistItem
	endpoint := fmt.Sprintf("v0/agents/%s/events", url.PathEscape(agentID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"event": event}, &resp)
	return resp, err
}

// AlertFilters narrows Alerts listings. Zero values mean no filter.
type AlertFilters struct {
	AgentID  string
	Type     string
	Severity string
	Resolved *bool
	Limit    int
}

// Alerts lists alerts.
func (c *Client) Alerts(ctx context.Context, filters AlertFilters) ([]Alert, error) {
	q := url.Values{}
	if filters.AgentID != "" {
		q.Set("agent_id", filters.AgentID)
	}
	if filters.Type != "" {
		q.Set("type", filters.Type)
	}
	if filters.Severity != "" {
		q.Set("severity", filters.Severity)
	}
	if filters.Resolved != nil {
		q.Set("resolved", fmt.Sprintf("%t", *filters.Resolved))
	}
	if filters.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", filters.Limit))
	}
	endpoint := "v0/alerts"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ResolveAlert marks an alert resolved.
func (c *Client) ResolveAlert(ctx context.Context, id string) (Alert, error) {
	var resp Alert
	endpoint := fmt.Sprintf("v0/alerts/%s/resolve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RunMonitor triggers one monitoring pass.
func (c *Client) RunMonitor(ctx context.Context) (MonitorRunResult, error) {
	var resp MonitorRunResult
	err := c.do(ctx, http.MethodPost, "v0/monitor/run", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
