package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"complyline/internal/config"
	"complyline/internal/domain"
	"complyline/internal/policy"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func testMonitor() Monitor {
	return Monitor{
		WarningWindowDays:  policy.DefaultWarningWindowDays,
		CriticalWindowDays: policy.DefaultCriticalWindowDays,
		Now:                func() time.Time { return testNow },
	}
}

func collectSink(dst *[]domain.Alert) AlertSink {
	return func(_ context.Context, a domain.Alert) error {
		*dst = append(*dst, a)
		return nil
	}
}

func dateFrom(days int) *string {
	s := testNow.AddDate(0, 0, days).Format("2006-01-02")
	return &s
}

func license(id string, expiresIn int, status string) domain.License {
	return domain.License{
		ID:             id,
		AgentID:        "agent-1",
		State:          "TX",
		LicenseNumber:  "L-" + id,
		Status:         status,
		ExpirationDate: dateFrom(expiresIn),
	}
}

func TestLicenseExpirationSeverityBoundaries(t *testing.T) {
	m := testMonitor()
	cases := []struct {
		days int
		want string
	}{
		{30, policy.SeverityCritical},
		{31, policy.SeverityWarning},
		{60, policy.SeverityWarning},
		{0, policy.SeverityCritical},
	}
	for _, tc := range cases {
		var created []domain.Alert
		licenses := []domain.License{license("lic-1", tc.days, "active")}
		got, err := m.EvaluateLicenseExpirations(context.Background(), licenses, nil, collectSink(&created))
		if err != nil {
			t.Fatalf("days=%d: %v", tc.days, err)
		}
		if len(got) != 1 {
			t.Fatalf("days=%d: want 1 alert, got %d", tc.days, len(got))
		}
		if got[0].Severity != tc.want {
			t.Errorf("days=%d: severity=%s want %s", tc.days, got[0].Severity, tc.want)
		}
		if got[0].Type != policy.AlertLicenseExpiring {
			t.Errorf("days=%d: type=%s", tc.days, got[0].Type)
		}
	}
}

func TestLicenseExpirationOutsideWindow(t *testing.T) {
	m := testMonitor()
	licenses := []domain.License{
		license("lic-far", 61, "active"),
		license("lic-past", -1, "active"),
		license("lic-revoked", 10, "revoked"),
	}
	noDate := license("lic-nodate", 0, "active")
	noDate.ExpirationDate = nil
	licenses = append(licenses, noDate)

	var created []domain.Alert
	got, err := m.EvaluateLicenseExpirations(context.Background(), licenses, nil, collectSink(&created))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("want no alerts, got %d (%+v)", len(got), got)
	}
}

func TestLicenseExpirationMidWindow(t *testing.T) {
	m := testMonitor()
	var created []domain.Alert
	got, err := m.EvaluateLicenseExpirations(context.Background(), []domain.License{license("lic-45", 45, "active")}, nil, collectSink(&created))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Severity != policy.SeverityWarning {
		t.Fatalf("want one warning alert, got %+v", got)
	}
	if got[0].RelatedEntityType != policy.EntityLicense || got[0].RelatedEntityID != "lic-45" {
		t.Errorf("related entity = %s/%s", got[0].RelatedEntityType, got[0].RelatedEntityID)
	}
	if got[0].DueDate == nil || *got[0].DueDate != testNow.AddDate(0, 0, 45).Format("2006-01-02") {
		t.Errorf("due date = %v", got[0].DueDate)
	}
}

func TestLicenseExpirationDedup(t *testing.T) {
	m := testMonitor()
	licenses := []domain.License{license("lic-1", 20, "active")}

	var first []domain.Alert
	got, err := m.EvaluateLicenseExpirations(context.Background(), licenses, nil, collectSink(&first))
	if err != nil || len(got) != 1 {
		t.Fatalf("first pass: %v, %d alerts", err, len(got))
	}

	// Second pass with the first alert unresolved.
	var second []domain.Alert
	got, err = m.EvaluateLicenseExpirations(context.Background(), licenses, first, collectSink(&second))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("re-run created %d alerts, want 0", len(got))
	}

	// Once resolved, the alert may be raised again.
	resolvedAt := testNow.Format(time.RFC3339)
	first[0].IsResolved = true
	first[0].ResolvedAt = &resolvedAt
	got, err = m.EvaluateLicenseExpirations(context.Background(), licenses, first, collectSink(&second))
	if err != nil || len(got) != 1 {
		t.Fatalf("post-resolution pass: %v, %d alerts", err, len(got))
	}
}

func TestLicenseExpirationDedupAcrossFamily(t *testing.T) {
	m := testMonitor()
	existing := []domain.Alert{{
		ID:                "a-1",
		AgentID:           "agent-1",
		Type:              policy.AlertLicenseExpired,
		Severity:          policy.SeverityCritical,
		RelatedEntityType: policy.EntityLicense,
		RelatedEntityID:   "lic-1",
	}}
	var created []domain.Alert
	got, err := m.EvaluateLicenseExpirations(context.Background(), []domain.License{license("lic-1", 20, "active")}, existing, collectSink(&created))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expired alert should suppress expiring alert, got %d", len(got))
	}
}

func TestLicenseExpirationSinkErrorKeepsPartialBatch(t *testing.T) {
	m := testMonitor()
	licenses := []domain.License{
		license("lic-1", 20, "active"),
		license("lic-2", 20, "active"),
	}
	var calls int
	sink := func(_ context.Context, a domain.Alert) error {
		calls++
		if calls > 1 {
			return errors.New("store unavailable")
		}
		return nil
	}
	got, err := m.EvaluateLicenseExpirations(context.Background(), licenses, nil, sink)
	if err == nil {
		t.Fatal("want sink error")
	}
	if len(got) != 1 || got[0].RelatedEntityID != "lic-1" {
		t.Fatalf("partial batch = %+v", got)
	}
}

func TestContractExpirationAndCorrection(t *testing.T) {
	m := testMonitor()
	notes := "Writing number missing on page 2"
	contracts := []domain.Contract{
		{ID: "con-1", AgentID: "agent-1", CarrierName: "Acme Life", Status: "active", ExpirationDate: dateFrom(15)},
		{ID: "con-2", AgentID: "agent-1", CarrierName: "Umbrella Health", Status: "requires_correction", CorrectionNotes: &notes},
		{ID: "con-3", AgentID: "agent-1", CarrierName: "Lapsed Mutual", Status: "terminated", ExpirationDate: dateFrom(15)},
	}
	var created []domain.Alert
	got, err := m.EvaluateContractAlerts(context.Background(), contracts, nil, collectSink(&created))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 alerts, got %d", len(got))
	}
	if got[0].Type != policy.AlertContractExpiring || got[0].Severity != policy.SeverityCritical {
		t.Errorf("expiration alert = %+v", got[0])
	}
	if got[1].Type != policy.AlertContractActionRequired || got[1].Message != notes {
		t.Errorf("correction alert = %+v", got[1])
	}

	// Re-run with all of them unresolved: nothing new.
	again, err := m.EvaluateContractAlerts(context.Background(), contracts, got, collectSink(&created))
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("re-run created %d alerts", len(again))
	}
}

func TestContractCorrectionFallbackMessage(t *testing.T) {
	m := testMonitor()
	contracts := []domain.Contract{
		{ID: "con-1", AgentID: "agent-1", CarrierName: "Acme Life", Status: "requires_correction"},
	}
	var created []domain.Alert
	got, err := m.EvaluateContractAlerts(context.Background(), contracts, nil, collectSink(&created))
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %d alerts", err, len(got))
	}
	if got[0].Message != "Acme Life contract was returned for correction" {
		t.Errorf("message = %q", got[0].Message)
	}
}

func checklistItem(id, key string, completed bool) domain.ChecklistItem {
	return domain.ChecklistItem{
		ID:          id,
		AgentID:     "agent-1",
		ItemKey:     key,
		Name:        policy.ItemName(key),
		IsCompleted: completed,
		CreatedAt:   testNow.AddDate(0, 0, -1).Format(time.RFC3339),
	}
}

func TestTriggerChecklistCompletion(t *testing.T) {
	m := testMonitor()
	items := []domain.ChecklistItem{
		checklistItem("ci-w9", policy.KeyW9Form, false),
		checklistItem("ci-eo", policy.KeyEOCertificate, false),
	}
	var updated []domain.ChecklistItem
	update := func(_ context.Context, it domain.ChecklistItem) error {
		updated = append(updated, it)
		return nil
	}
	done, err := m.TriggerChecklistCompletion(context.Background(), policy.EventW9Uploaded, "agent-1", items, "ops@example.com", update)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0].ItemKey != policy.KeyW9Form {
		t.Fatalf("completed = %+v", done)
	}
	it := done[0]
	if !it.IsCompleted || it.CompletedBy == nil || *it.CompletedBy != "ops@example.com" {
		t.Errorf("completion fields = %+v", it)
	}
	if it.CompletedAt == nil || *it.CompletedAt != testNow.Format(time.RFC3339) {
		t.Errorf("completed_at = %v", it.CompletedAt)
	}
	if it.Notes == nil || *it.Notes != "Auto-completed on document.w9.uploaded" {
		t.Errorf("notes = %v", it.Notes)
	}
	if len(updated) != 1 {
		t.Fatalf("update calls = %d", len(updated))
	}
}

func TestTriggerChecklistCompletionIdempotent(t *testing.T) {
	m := testMonitor()
	items := []domain.ChecklistItem{checklistItem("ci-w9", policy.KeyW9Form, true)}
	update := func(_ context.Context, it domain.ChecklistItem) error {
		t.Fatalf("update called for already-completed item %s", it.ID)
		return nil
	}
	done, err := m.TriggerChecklistCompletion(context.Background(), policy.EventW9Uploaded, "agent-1", items, "ops", update)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 0 {
		t.Fatalf("replay completed %d items", len(done))
	}
}

func TestTriggerChecklistCompletionUnknownEvent(t *testing.T) {
	m := testMonitor()
	done, err := m.TriggerChecklistCompletion(context.Background(), "document.misc.uploaded", "agent-1",
		[]domain.ChecklistItem{checklistItem("ci-w9", policy.KeyW9Form, false)}, "ops",
		func(context.Context, domain.ChecklistItem) error { return nil })
	if err != nil || len(done) != 0 {
		t.Fatalf("unknown event: %v, %d items", err, len(done))
	}
}

func overdueAgent(daysAgo int) domain.Agent {
	return domain.Agent{
		ID:        "agent-1",
		Status:    "onboarding",
		CreatedAt: testNow.AddDate(0, 0, -daysAgo).Format(time.RFC3339),
	}
}

func TestEvaluateChecklistOverduePriorityOrder(t *testing.T) {
	m := testMonitor()
	// 40 days in, everything below is past its threshold. Priorities in
	// catalog order here are 3, 1, 4, 1: creation order must come out
	// ascending with ties in input order.
	items := []domain.ChecklistItem{
		checklistItem("ci-deposit", policy.KeyDirectDeposit, false),
		checklistItem("ci-license", policy.KeyStateLicense, false),
		checklistItem("ci-carrier", policy.KeyCarrierCertifications, false),
		checklistItem("ci-background", policy.KeyBackgroundCheck, false),
	}
	var created []domain.Alert
	got, err := m.EvaluateChecklistOverdue(context.Background(), overdueAgent(40), items, nil, collectSink(&created))
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, a := range got {
		order = append(order, a.RelatedEntityID)
	}
	want := []string{"ci-license", "ci-background", "ci-deposit", "ci-carrier"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("creation order = %v, want %v", order, want)
	}
}

func TestEvaluateChecklistOverdueThreshold(t *testing.T) {
	m := testMonitor()
	items := []domain.ChecklistItem{checklistItem("ci-background", policy.KeyBackgroundCheck, false)}

	// Background check threshold is 10 days: day 9 clean, day 10 overdue.
	var created []domain.Alert
	got, err := m.EvaluateChecklistOverdue(context.Background(), overdueAgent(9), items, nil, collectSink(&created))
	if err != nil || len(got) != 0 {
		t.Fatalf("day 9: %v, %d alerts", err, len(got))
	}
	got, err = m.EvaluateChecklistOverdue(context.Background(), overdueAgent(10), items, nil, collectSink(&created))
	if err != nil || len(got) != 1 {
		t.Fatalf("day 10: %v, %d alerts", err, len(got))
	}
	a := got[0]
	if a.Type != policy.AlertOnboardingOverdue || a.Severity != policy.SeverityCritical {
		t.Errorf("alert = %+v", a)
	}
	wantDue := testNow.Format("2006-01-02")
	if a.DueDate == nil || *a.DueDate != wantDue {
		t.Errorf("due date = %v, want %s", a.DueDate, wantDue)
	}
}

func TestEvaluateChecklistOverdueSkips(t *testing.T) {
	m := testMonitor()
	items := []domain.ChecklistItem{
		checklistItem("ci-done", policy.KeyStateLicense, true),
		checklistItem("ci-custom", "custom_extra_step", false),
	}
	var created []domain.Alert
	got, err := m.EvaluateChecklistOverdue(context.Background(), overdueAgent(90), items, nil, collectSink(&created))
	if err != nil || len(got) != 0 {
		t.Fatalf("want no alerts, got %v, %d", err, len(got))
	}
}

func TestEvaluateChecklistOverdueDedup(t *testing.T) {
	m := testMonitor()
	items := []domain.ChecklistItem{checklistItem("ci-w9", policy.KeyW9Form, false)}
	var created []domain.Alert
	first, err := m.EvaluateChecklistOverdue(context.Background(), overdueAgent(20), items, nil, collectSink(&created))
	if err != nil || len(first) != 1 {
		t.Fatalf("first pass: %v, %d alerts", err, len(first))
	}
	again, err := m.EvaluateChecklistOverdue(context.Background(), overdueAgent(20), items, first, collectSink(&created))
	if err != nil || len(again) != 0 {
		t.Fatalf("re-run: %v, %d alerts", err, len(again))
	}
}

func TestResolveChecklistAlertsScoped(t *testing.T) {
	m := testMonitor()
	existing := []domain.Alert{
		{ID: "a-1", RelatedEntityType: policy.EntityChecklistItem, RelatedEntityID: "ci-a"},
		{ID: "a-2", RelatedEntityType: policy.EntityChecklistItem, RelatedEntityID: "ci-b"},
		{ID: "a-3", RelatedEntityType: policy.EntityLicense, RelatedEntityID: "ci-a"},
		{ID: "a-4", RelatedEntityType: policy.EntityChecklistItem, RelatedEntityID: "ci-a", IsResolved: true},
	}
	var updated []domain.Alert
	update := func(_ context.Context, a domain.Alert) error {
		updated = append(updated, a)
		return nil
	}
	got, err := m.ResolveChecklistAlerts(context.Background(), "ci-a", existing, update)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Fatalf("resolved = %+v", got)
	}
	if !got[0].IsResolved || got[0].ResolvedAt == nil || *got[0].ResolvedAt != testNow.Format(time.RFC3339) {
		t.Errorf("resolution fields = %+v", got[0])
	}
	if len(updated) != 1 {
		t.Fatalf("update calls = %d", len(updated))
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m := New(config.MonitoringConfig{})
	if m.WarningWindowDays != policy.DefaultWarningWindowDays || m.CriticalWindowDays != policy.DefaultCriticalWindowDays {
		t.Fatalf("windows = %d/%d", m.WarningWindowDays, m.CriticalWindowDays)
	}
}
