// Package monitor implements the compliance monitoring core: expiration
// evaluation for licenses and contracts, event-driven checklist completion,
// overdue scanning, and alert deduplication/resolution. Every operation takes
// a point-in-time snapshot of the relevant records plus a persistence
// callback and applies mutations sequentially; a failed callback stops the
// pass but keeps earlier mutations (re-running is safe because every pass
// re-checks current state first).
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"complyline/internal/config"
	"complyline/internal/domain"
	"complyline/internal/policy"
)

// AlertSink durably creates one alert.
type AlertSink func(ctx context.Context, a domain.Alert) error

// AlertUpdate durably writes one alert's resolution state.
type AlertUpdate func(ctx context.Context, a domain.Alert) error

// ChecklistUpdate durably writes one checklist item's completion state.
type ChecklistUpdate func(ctx context.Context, it domain.ChecklistItem) error

type Monitor struct {
	WarningWindowDays  int
	CriticalWindowDays int
	Now                func() time.Time
}

// New builds a Monitor from deployment config, falling back to the default
// windows when unset.
func New(cfg config.MonitoringConfig) Monitor {
	m := Monitor{
		WarningWindowDays:  cfg.WarningWindowDays,
		CriticalWindowDays: cfg.CriticalWindowDays,
		Now:                time.Now,
	}
	if m.WarningWindowDays <= 0 {
		m.WarningWindowDays = policy.DefaultWarningWindowDays
	}
	if m.CriticalWindowDays <= 0 {
		m.CriticalWindowDays = policy.DefaultCriticalWindowDays
	}
	return m
}

func (m Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// alertKey identifies the at-most-one-unresolved-alert constraint.
type alertKey struct {
	entityType string
	entityID   string
	alertType  string
}

type alertIndex map[alertKey]struct{}

// indexUnresolved builds the dedup index once per pass; resolved alerts do
// not block re-raising.
func indexUnresolved(alerts []domain.Alert) alertIndex {
	idx := make(alertIndex, len(alerts))
	for _, a := range alerts {
		if a.IsResolved {
			continue
		}
		idx[alertKey{a.RelatedEntityType, a.RelatedEntityID, a.Type}] = struct{}{}
	}
	return idx
}

func (idx alertIndex) has(entityType, entityID string, alertTypes ...string) bool {
	for _, t := range alertTypes {
		if _, ok := idx[alertKey{entityType, entityID, t}]; ok {
			return true
		}
	}
	return false
}

func (idx alertIndex) add(a domain.Alert) {
	idx[alertKey{a.RelatedEntityType, a.RelatedEntityID, a.Type}] = struct{}{}
}

// parseDate accepts date-only or full RFC3339 timestamps.
func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns whole days from a to b, negative when b is past.
func daysBetween(a, b time.Time) int {
	return int(startOfDay(b).Sub(startOfDay(a)).Hours() / 24)
}

// expiringItem is the common shape of an expiration-tracked record.
type expiringItem struct {
	id             string
	agentID        string
	label          string
	expirationDate *string
}

// expirationRule parameterizes the evaluator per tracked-item category.
type expirationRule struct {
	entityType string
	alertType  string
	// dedupTypes is the alert-type family that suppresses a new alert for
	// the same entity.
	dedupTypes []string
	title      string
}

// evaluateExpirations is the single evaluator behind both categories. Items
// already expired are skipped; they are reported through other means.
func (m Monitor) evaluateExpirations(ctx context.Context, items []expiringItem, rule expirationRule, idx alertIndex, sink AlertSink) ([]domain.Alert, error) {
	now := m.now()
	var created []domain.Alert
	for _, item := range items {
		if item.expirationDate == nil {
			continue
		}
		expires, ok := parseDate(*item.expirationDate)
		if !ok {
			continue
		}
		days := daysBetween(now, expires)
		if days < 0 || days > m.WarningWindowDays {
			continue
		}
		if idx.has(rule.entityType, item.id, rule.dedupTypes...) {
			continue
		}
		severity := policy.SeverityWarning
		if days <= m.CriticalWindowDays {
			severity = policy.SeverityCritical
		}
		due := expires.Format("2006-01-02")
		a := domain.Alert{
			ID:                uuid.New().String(),
			AgentID:           item.agentID,
			Type:              rule.alertType,
			Severity:          severity,
			Title:             rule.title,
			Message:           fmt.Sprintf("%s expires in %d days", item.label, days),
			DueDate:           &due,
			RelatedEntityType: rule.entityType,
			RelatedEntityID:   item.id,
			CreatedAt:         now.UTC().Format(time.RFC3339),
		}
		if err := sink(ctx, a); err != nil {
			return created, err
		}
		idx.add(a)
		created = append(created, a)
	}
	return created, nil
}

// EvaluateLicenseExpirations creates expiration alerts for in-force licenses
// approaching their expiration date, skipping licenses that already carry an
// unresolved expiration alert.
func (m Monitor) EvaluateLicenseExpirations(ctx context.Context, licenses []domain.License, existing []domain.Alert, sink AlertSink) ([]domain.Alert, error) {
	idx := indexUnresolved(existing)
	var items []expiringItem
	for _, l := range licenses {
		if !policy.LicenseInForce(l.Status) {
			continue
		}
		items = append(items, expiringItem{
			id:             l.ID,
			agentID:        l.AgentID,
			label:          fmt.Sprintf("%s license %s", l.State, l.LicenseNumber),
			expirationDate: l.ExpirationDate,
		})
	}
	rule := expirationRule{
		entityType: policy.EntityLicense,
		alertType:  policy.AlertLicenseExpiring,
		dedupTypes: []string{policy.AlertLicenseExpiring, policy.AlertLicenseExpired},
		title:      "License expiring",
	}
	return m.evaluateExpirations(ctx, items, rule, idx, sink)
}

// EvaluateContractAlerts creates expiration alerts for in-force contracts and
// action-required alerts for contracts sent back for correction.
func (m Monitor) EvaluateContractAlerts(ctx context.Context, contracts []domain.Contract, existing []domain.Alert, sink AlertSink) ([]domain.Alert, error) {
	idx := indexUnresolved(existing)
	var items []expiringItem
	for _, c := range contracts {
		if !policy.ContractInForce(c.Status) {
			continue
		}
		items = append(items, expiringItem{
			id:             c.ID,
			agentID:        c.AgentID,
			label:          fmt.Sprintf("%s contract", c.CarrierName),
			expirationDate: c.ExpirationDate,
		})
	}
	rule := expirationRule{
		entityType: policy.EntityContract,
		alertType:  policy.AlertContractExpiring,
		dedupTypes: []string{policy.AlertContractExpiring},
		title:      "Contract expiring",
	}
	created, err := m.evaluateExpirations(ctx, items, rule, idx, sink)
	if err != nil {
		return created, err
	}

	now := m.now()
	for _, c := range contracts {
		if c.Status != "requires_correction" {
			continue
		}
		if idx.has(policy.EntityContract, c.ID, policy.AlertContractActionRequired) {
			continue
		}
		message := fmt.Sprintf("%s contract was returned for correction", c.CarrierName)
		if c.CorrectionNotes != nil && *c.CorrectionNotes != "" {
			message = *c.CorrectionNotes
		}
		a := domain.Alert{
			ID:                uuid.New().String(),
			AgentID:           c.AgentID,
			Type:              policy.AlertContractActionRequired,
			Severity:          policy.SeverityWarning,
			Title:             "Contract action required",
			Message:           message,
			RelatedEntityType: policy.EntityContract,
			RelatedEntityID:   c.ID,
			CreatedAt:         now.UTC().Format(time.RFC3339),
		}
		if err := sink(ctx, a); err != nil {
			return created, err
		}
		idx.add(a)
		created = append(created, a)
	}
	return created, nil
}

// TriggerChecklistCompletion marks the checklist items satisfied by a
// business event as complete. Replaying an event against already-completed
// items is a no-op and returns an empty list.
func (m Monitor) TriggerChecklistCompletion(ctx context.Context, event, agentID string, items []domain.ChecklistItem, actor string, update ChecklistUpdate) ([]domain.ChecklistItem, error) {
	keys := policy.ChecklistKeysForEvent(event)
	if len(keys) == 0 {
		return nil, nil
	}
	now := m.now().UTC().Format(time.RFC3339)
	var completed []domain.ChecklistItem
	for _, key := range keys {
		for _, it := range items {
			if it.AgentID != agentID || it.ItemKey != key || it.IsCompleted {
				continue
			}
			notes := fmt.Sprintf("Auto-completed on %s", event)
			it.IsCompleted = true
			it.CompletedBy = &actor
			it.CompletedAt = &now
			it.Notes = &notes
			if err := update(ctx, it); err != nil {
				return completed, err
			}
			completed = append(completed, it)
			break
		}
	}
	return completed, nil
}

// EvaluateChecklistOverdue flags incomplete checklist items whose policy
// deadline has passed since the agent's onboarding date. Staged alerts are
// persisted in ascending priority order so creation order tracks urgency.
// Item keys without a catalog entry are never flagged.
func (m Monitor) EvaluateChecklistOverdue(ctx context.Context, agent domain.Agent, items []domain.ChecklistItem, existing []domain.Alert, sink AlertSink) ([]domain.Alert, error) {
	created, ok := parseDate(agent.CreatedAt)
	if !ok {
		return nil, nil
	}
	now := m.now()
	daysSince := daysBetween(created, now)
	idx := indexUnresolved(existing)

	type staged struct {
		item  domain.ChecklistItem
		entry policy.ChecklistEntry
	}
	var pending []staged
	for _, it := range items {
		if it.IsCompleted {
			continue
		}
		entry, found := policy.OverdueEntry(it.ItemKey)
		if !found || entry.OverdueDays > daysSince {
			continue
		}
		if idx.has(policy.EntityChecklistItem, it.ID, policy.AlertOnboardingOverdue) {
			continue
		}
		pending = append(pending, staged{item: it, entry: entry})
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].entry.Priority < pending[j].entry.Priority })

	var res []domain.Alert
	for _, p := range pending {
		due := created.AddDate(0, 0, p.entry.OverdueDays).Format("2006-01-02")
		a := domain.Alert{
			ID:                uuid.New().String(),
			AgentID:           agent.ID,
			Type:              policy.AlertOnboardingOverdue,
			Severity:          p.entry.Severity,
			Title:             fmt.Sprintf("%s overdue", p.item.Name),
			Message:           fmt.Sprintf("%s is still outstanding %d days after onboarding", p.item.Name, daysSince),
			DueDate:           &due,
			RelatedEntityType: policy.EntityChecklistItem,
			RelatedEntityID:   p.item.ID,
			CreatedAt:         now.UTC().Format(time.RFC3339),
		}
		if err := sink(ctx, a); err != nil {
			return res, err
		}
		idx.add(a)
		res = append(res, a)
	}
	return res, nil
}

// ResolveChecklistAlerts resolves every unresolved alert referencing the
// given checklist item. This is the only automatic resolution path;
// expiration-driven alerts are left for an operator.
func (m Monitor) ResolveChecklistAlerts(ctx context.Context, checklistItemID string, existing []domain.Alert, update AlertUpdate) ([]domain.Alert, error) {
	now := m.now().UTC().Format(time.RFC3339)
	var resolved []domain.Alert
	for _, a := range existing {
		if a.IsResolved || a.RelatedEntityType != policy.EntityChecklistItem || a.RelatedEntityID != checklistItemID {
			continue
		}
		a.IsResolved = true
		a.ResolvedAt = &now
		if err := update(ctx, a); err != nil {
			return resolved, err
		}
		resolved = append(resolved, a)
	}
	return resolved, nil
}
