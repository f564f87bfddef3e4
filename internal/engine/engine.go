// Package engine wires the monitoring core to the sqlite store: every write
// path runs in one transaction alongside its audit events, and business
// events feed the checklist completion trigger.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"complyline/internal/config"
	"complyline/internal/domain"
	"complyline/internal/events"
	"complyline/internal/monitor"
	"complyline/internal/policy"
	"complyline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Monitor monitor.Monitor
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	var mcfg config.MonitoringConfig
	if cfg != nil {
		mcfg = cfg.Monitoring
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Monitor: monitor.New(mcfg),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// AgentCreateOptions are parameters for onboarding a new agent.
type AgentCreateOptions struct {
	NPN       string
	FirstName string
	LastName  string
	Email     string
	ActorID   string
}

// CreateAgent registers an agent in onboarding status and seeds the full
// checklist catalog for them.
func (e Engine) CreateAgent(ctx context.Context, opts AgentCreateOptions) (domain.Agent, error) {
	if strings.TrimSpace(opts.FirstName) == "" || strings.TrimSpace(opts.LastName) == "" {
		return domain.Agent{}, errors.New("first and last name are required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Agent{
		ID:        uuid.New().String(),
		NPN:       opts.NPN,
		FirstName: opts.FirstName,
		LastName:  opts.LastName,
		Email:     opts.Email,
		Status:    "onboarding",
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	for _, entry := range policy.Catalog {
		it := domain.ChecklistItem{
			ID:        uuid.New().String(),
			AgentID:   a.ID,
			ItemKey:   entry.Key,
			Name:      entry.Name,
			CreatedAt: now,
		}
		if err := e.Repo.InsertChecklistItem(ctx, tx, it); err != nil {
			return domain.Agent{}, fmt.Errorf("seed checklist %s: %w", entry.Key, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "agent.created", "agent", a.ID, opts.ActorID, events.EventPayload{
		"name":   a.FirstName + " " + a.LastName,
		"status": a.Status,
	}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// SetAgentStatus transitions an agent's lifecycle status.
func (e Engine) SetAgentStatus(ctx context.Context, id, status, actorID string) (domain.Agent, error) {
	a, err := e.Repo.GetAgent(ctx, id)
	if err != nil {
		return a, err
	}
	if a.Status == status {
		return a, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateAgentStatus(ctx, tx, id, status, now); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "agent.status_changed", "agent", id, actorID, events.EventPayload{
		"from": a.Status,
		"to":   status,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.Status = status
	a.UpdatedAt = now
	return a, nil
}

// LicenseCreateOptions are parameters for recording a license.
type LicenseCreateOptions struct {
	AgentID         string
	State           string
	LicenseNumber   string
	LineOfAuthority string
	Status          string
	ExpirationDate  *string
	ActorID         string
}

// AddLicense records a license for an agent. A license added already active
// fires the activation event against the checklist.
func (e Engine) AddLicense(ctx context.Context, opts LicenseCreateOptions) (domain.License, error) {
	if opts.State == "" || opts.LicenseNumber == "" {
		return domain.License{}, errors.New("state and license number are required")
	}
	if _, err := e.Repo.GetAgent(ctx, opts.AgentID); err != nil {
		return domain.License{}, err
	}
	if opts.Status == "" {
		opts.Status = "pending"
	}
	now := e.now().UTC().Format(time.RFC3339)
	l := domain.License{
		ID:              uuid.New().String(),
		AgentID:         opts.AgentID,
		State:           opts.State,
		LicenseNumber:   opts.LicenseNumber,
		LineOfAuthority: opts.LineOfAuthority,
		Status:          opts.Status,
		ExpirationDate:  opts.ExpirationDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var ec eventContext
	if l.Status == "active" {
		loaded, err := e.loadEventContext(ctx, opts.AgentID)
		if err != nil {
			return domain.License{}, err
		}
		ec = loaded
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.License{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertLicense(ctx, tx, l); err != nil {
		return domain.License{}, fmt.Errorf("insert license: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "license.added", "license", l.ID, opts.ActorID, events.EventPayload{
		"state":  l.State,
		"number": l.LicenseNumber,
		"status": l.Status,
	}); err != nil {
		return domain.License{}, err
	}
	if l.Status == "active" {
		if _, err := e.completeForEvent(ctx, tx, ec, policy.EventLicenseActivated, l.AgentID, opts.ActorID); err != nil {
			return domain.License{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.License{}, err
	}
	return l, nil
}

// SetLicenseStatus transitions a license. Activation completes the state
// license checklist item.
func (e Engine) SetLicenseStatus(ctx context.Context, id, status, actorID string) (domain.License, error) {
	l, err := e.Repo.GetLicense(ctx, id)
	if err != nil {
		return l, err
	}
	if l.Status == status {
		return l, nil
	}
	prev := l.Status
	now := e.now().UTC().Format(time.RFC3339)
	l.Status = status
	l.UpdatedAt = now

	var ec eventContext
	if status == "active" {
		if ec, err = e.loadEventContext(ctx, l.AgentID); err != nil {
			return l, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateLicense(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "license.status_changed", "license", l.ID, actorID, events.EventPayload{
		"from": prev,
		"to":   status,
	}); err != nil {
		return l, err
	}
	if status == "active" {
		if _, err := e.completeForEvent(ctx, tx, ec, policy.EventLicenseActivated, l.AgentID, actorID); err != nil {
			return l, err
		}
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// ContractCreateOptions are parameters for recording a carrier contract.
type ContractCreateOptions struct {
	AgentID        string
	CarrierName    string
	WritingNumber  *string
	Status         string
	ExpirationDate *string
	ActorID        string
}

func (e Engine) AddContract(ctx context.Context, opts ContractCreateOptions) (domain.Contract, error) {
	if opts.CarrierName == "" {
		return domain.Contract{}, errors.New("carrier name is required")
	}
	if _, err := e.Repo.GetAgent(ctx, opts.AgentID); err != nil {
		return domain.Contract{}, err
	}
	if opts.Status == "" {
		opts.Status = "draft"
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Contract{
		ID:             uuid.New().String(),
		AgentID:        opts.AgentID,
		CarrierName:    opts.CarrierName,
		WritingNumber:  opts.WritingNumber,
		Status:         opts.Status,
		ExpirationDate: opts.ExpirationDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
		return domain.Contract{}, fmt.Errorf("insert contract: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "contract.added", "contract", c.ID, opts.ActorID, events.EventPayload{
		"carrier": c.CarrierName,
		"status":  c.Status,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// ContractStatusOptions are parameters for a contract status transition.
type ContractStatusOptions struct {
	ID              string
	Status          string
	CorrectionNotes *string
	ActorID         string
}

// SetContractStatus transitions a contract. Signing completes the initial
// contract checklist item; requires_correction stores the carrier's notes for
// the next monitoring pass to surface.
func (e Engine) SetContractStatus(ctx context.Context, opts ContractStatusOptions) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, opts.ID)
	if err != nil {
		return c, err
	}
	prev := c.Status
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = opts.Status
	c.UpdatedAt = now
	if opts.Status == "requires_correction" {
		c.CorrectionNotes = opts.CorrectionNotes
	}

	fireSigned := opts.Status == "signed" && prev != "signed"
	var ec eventContext
	if fireSigned {
		if ec, err = e.loadEventContext(ctx, c.AgentID); err != nil {
			return c, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateContract(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "contract.status_changed", "contract", c.ID, opts.ActorID, events.EventPayload{
		"from": prev,
		"to":   opts.Status,
	}); err != nil {
		return c, err
	}
	if fireSigned {
		if _, err := e.completeForEvent(ctx, tx, ec, policy.EventContractSigned, c.AgentID, opts.ActorID); err != nil {
			return c, err
		}
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// DocumentOptions are parameters for recording an uploaded document.
type DocumentOptions struct {
	AgentID  string
	Type     string
	FileName string
	ActorID  string
}

// RecordDocument stores a document and, when the document type satisfies a
// checklist item, fires the matching upload event. A license copy is stored
// but completes nothing.
func (e Engine) RecordDocument(ctx context.Context, opts DocumentOptions) (domain.Document, error) {
	if opts.Type == "" {
		return domain.Document{}, errors.New("document type is required")
	}
	if _, err := e.Repo.GetAgent(ctx, opts.AgentID); err != nil {
		return domain.Document{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	d := domain.Document{
		ID:         uuid.New().String(),
		AgentID:    opts.AgentID,
		Type:       opts.Type,
		FileName:   opts.FileName,
		UploadedBy: opts.ActorID,
		UploadedAt: now,
	}
	evt, triggers := policy.EventForDocumentType(opts.Type)
	var ec eventContext
	if triggers {
		loaded, err := e.loadEventContext(ctx, opts.AgentID)
		if err != nil {
			return domain.Document{}, err
		}
		ec = loaded
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "document.uploaded", "document", d.ID, opts.ActorID, events.EventPayload{
		"doc_type":  d.Type,
		"file_name": d.FileName,
	}); err != nil {
		return domain.Document{}, err
	}
	if triggers {
		if _, err := e.completeForEvent(ctx, tx, ec, evt, opts.AgentID, opts.ActorID); err != nil {
			return domain.Document{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// eventContext carries the reads a checklist trigger needs. All reads happen
// before the write transaction opens; sqlite holds the write lock for the
// whole transaction.
type eventContext struct {
	items  []domain.ChecklistItem
	alerts []domain.Alert
}

func (e Engine) loadEventContext(ctx context.Context, agentID string) (eventContext, error) {
	items, err := e.Repo.ListChecklistItems(ctx, agentID)
	if err != nil {
		return eventContext{}, err
	}
	unresolved := false
	alerts, err := e.Repo.ListAlerts(ctx, repo.AlertFilters{AgentID: agentID, Resolved: &unresolved})
	if err != nil {
		return eventContext{}, err
	}
	return eventContext{items: items, alerts: alerts}, nil
}

// ApplyEvent feeds an externally observed business event through the
// checklist completion trigger. Unknown events are accepted and complete
// nothing.
func (e Engine) ApplyEvent(ctx context.Context, event, agentID, actorID string) ([]domain.ChecklistItem, error) {
	if _, err := e.Repo.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	ec, err := e.loadEventContext(ctx, agentID)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	completed, err := e.completeForEvent(ctx, tx, ec, event, agentID, actorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return completed, nil
}

func (e Engine) completeForEvent(ctx context.Context, tx *sql.Tx, ec eventContext, event, agentID, actorID string) ([]domain.ChecklistItem, error) {
	if err := e.Events.Append(ctx, tx, event, "agent", agentID, actorID, nil); err != nil {
		return nil, err
	}
	update := func(ctx context.Context, it domain.ChecklistItem) error {
		return e.Repo.UpdateChecklistItem(ctx, tx, it)
	}
	completed, err := e.Monitor.TriggerChecklistCompletion(ctx, event, agentID, ec.items, actorID, update)
	if err != nil {
		return completed, err
	}
	for _, it := range completed {
		if err := e.Events.Append(ctx, tx, "checklist.completed", "checklist_item", it.ID, actorID, events.EventPayload{
			"item_key": it.ItemKey,
			"trigger":  event,
		}); err != nil {
			return completed, err
		}
		if err := e.resolveChecklistAlertsTx(ctx, tx, ec.alerts, it.ID, actorID); err != nil {
			return completed, err
		}
	}
	return completed, nil
}

// CompleteChecklistItem marks one item complete on an operator's say-so.
// Completing an already-completed item is a no-op.
func (e Engine) CompleteChecklistItem(ctx context.Context, id, actorID string, notes *string) (domain.ChecklistItem, error) {
	it, err := e.Repo.GetChecklistItem(ctx, id)
	if err != nil {
		return it, err
	}
	if it.IsCompleted {
		return it, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	it.IsCompleted = true
	it.CompletedBy = &actorID
	it.CompletedAt = &now
	it.Notes = notes

	unresolved := false
	existing, err := e.Repo.ListAlerts(ctx, repo.AlertFilters{AgentID: it.AgentID, Resolved: &unresolved})
	if err != nil {
		return it, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateChecklistItem(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "checklist.completed", "checklist_item", it.ID, actorID, events.EventPayload{
		"item_key": it.ItemKey,
		"trigger":  "manual",
	}); err != nil {
		return it, err
	}
	if err := e.resolveChecklistAlertsTx(ctx, tx, existing, it.ID, actorID); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

func (e Engine) resolveChecklistAlertsTx(ctx context.Context, tx *sql.Tx, existing []domain.Alert, itemID, actorID string) error {
	update := func(ctx context.Context, a domain.Alert) error {
		if err := e.Repo.ResolveAlert(ctx, tx, a.ID, *a.ResolvedAt); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "alert.resolved", "alert", a.ID, actorID, events.EventPayload{
			"type":   a.Type,
			"reason": "checklist_completed",
		})
	}
	_, err := e.Monitor.ResolveChecklistAlerts(ctx, itemID, existing, update)
	return err
}

// ResolveAlert resolves one alert by operator action. Resolving an
// already-resolved alert is a no-op.
func (e Engine) ResolveAlert(ctx context.Context, id, actorID string) (domain.Alert, error) {
	a, err := e.Repo.GetAlert(ctx, id)
	if err != nil {
		return a, err
	}
	if a.IsResolved {
		return a, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()

	if err := e.Repo.ResolveAlert(ctx, tx, id, now); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "alert.resolved", "alert", id, actorID, events.EventPayload{
		"type":   a.Type,
		"reason": "manual",
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.IsResolved = true
	a.ResolvedAt = &now
	return a, nil
}

// RunMonitorPass runs the full monitoring sweep: license and contract
// expirations plus the overdue scan for every onboarding agent. Each created
// alert commits in its own transaction so a failure keeps earlier alerts.
func (e Engine) RunMonitorPass(ctx context.Context, actorID string) ([]domain.Alert, error) {
	unresolved := false
	existing, err := e.Repo.ListAlerts(ctx, repo.AlertFilters{Resolved: &unresolved})
	if err != nil {
		return nil, err
	}
	sink := func(ctx context.Context, a domain.Alert) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertAlert(ctx, tx, a); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "alert.created", "alert", a.ID, actorID, events.EventPayload{
			"type":     a.Type,
			"severity": a.Severity,
			"agent_id": a.AgentID,
		}); err != nil {
			return err
		}
		return tx.Commit()
	}

	var created []domain.Alert

	licenses, err := e.Repo.ListLicenses(ctx, repo.LicenseFilters{})
	if err != nil {
		return created, err
	}
	batch, err := e.Monitor.EvaluateLicenseExpirations(ctx, licenses, existing, sink)
	created = append(created, batch...)
	if err != nil {
		return created, err
	}

	contracts, err := e.Repo.ListContracts(ctx, repo.ContractFilters{})
	if err != nil {
		return created, err
	}
	batch, err = e.Monitor.EvaluateContractAlerts(ctx, contracts, existing, sink)
	created = append(created, batch...)
	if err != nil {
		return created, err
	}

	agents, err := e.Repo.ListAgents(ctx, "onboarding")
	if err != nil {
		return created, err
	}
	for _, a := range agents {
		items, err := e.Repo.ListChecklistItems(ctx, a.ID)
		if err != nil {
			return created, err
		}
		batch, err = e.Monitor.EvaluateChecklistOverdue(ctx, a, items, existing, sink)
		created = append(created, batch...)
		if err != nil {
			return created, err
		}
	}
	return created, nil
}
