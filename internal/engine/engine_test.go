package engine_test

import (
	"context"
	"testing"
	"time"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/engine"
	"complyline/internal/migrate"
	"complyline/internal/policy"
	"complyline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var testClock = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return testClock }
	eng.Monitor.Now = eng.Now
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) createAgent(t *testing.T) string {
	t.Helper()
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{
		FirstName: "Dana",
		LastName:  "Reyes",
		NPN:       "1234567",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a.ID
}

func TestCreateAgentSeedsChecklist(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, agentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != len(policy.Catalog) {
		t.Fatalf("seeded %d items, want %d", len(items), len(policy.Catalog))
	}
	for i, it := range items {
		if it.ItemKey != policy.Catalog[i].Key {
			t.Errorf("item %d = %s, want %s", i, it.ItemKey, policy.Catalog[i].Key)
		}
		if it.IsCompleted {
			t.Errorf("item %s seeded completed", it.ItemKey)
		}
	}
}

func TestDocumentUploadCompletesChecklistItem(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	if _, err := env.Engine.RecordDocument(env.Ctx, engine.DocumentOptions{
		AgentID:  agentID,
		Type:     "w9",
		FileName: "w9.pdf",
		ActorID:  "uploader",
	}); err != nil {
		t.Fatalf("record document: %v", err)
	}
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, agentID)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		switch it.ItemKey {
		case policy.KeyW9Form:
			if !it.IsCompleted {
				t.Errorf("w9_form not completed")
			}
			if it.CompletedBy == nil || *it.CompletedBy != "uploader" {
				t.Errorf("completed_by = %v", it.CompletedBy)
			}
		default:
			if it.IsCompleted {
				t.Errorf("%s unexpectedly completed", it.ItemKey)
			}
		}
	}
}

func TestLicenseCopyCompletesNothing(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	if _, err := env.Engine.RecordDocument(env.Ctx, engine.DocumentOptions{
		AgentID: agentID,
		Type:    "license_copy",
		ActorID: "uploader",
	}); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, agentID)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if it.IsCompleted {
			t.Errorf("%s completed by license copy", it.ItemKey)
		}
	}
}

func TestLicenseActivationCompletesStateLicense(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	l, err := env.Engine.AddLicense(env.Ctx, engine.LicenseCreateOptions{
		AgentID:       agentID,
		State:         "TX",
		LicenseNumber: "TX-100",
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetLicenseStatus(env.Ctx, l.ID, "active", "tester"); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, agentID)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if it.ItemKey == policy.KeyStateLicense && !it.IsCompleted {
			t.Fatal("state_license not completed on activation")
		}
	}
}

func TestContractSignedCompletesInitialContract(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	c, err := env.Engine.AddContract(env.Ctx, engine.ContractCreateOptions{
		AgentID:     agentID,
		CarrierName: "Acme Life",
		Status:      "sent",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetContractStatus(env.Ctx, engine.ContractStatusOptions{
		ID: c.ID, Status: "signed", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, agentID)
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if it.ItemKey == policy.KeyInitialContract && !it.IsCompleted {
			t.Fatal("initial_contract not completed on signing")
		}
	}
}

func TestApplyEventIdempotent(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	done, err := env.Engine.ApplyEvent(env.Ctx, policy.EventBackgroundCleared, agentID, "checkr")
	if err != nil || len(done) != 1 {
		t.Fatalf("first apply: %v, %d items", err, len(done))
	}
	done, err = env.Engine.ApplyEvent(env.Ctx, policy.EventBackgroundCleared, agentID, "checkr")
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 0 {
		t.Fatalf("replay completed %d items", len(done))
	}
}

func TestMonitorPassLicenseExpiration(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	expires := testClock.AddDate(0, 0, 45).Format("2006-01-02")
	if _, err := env.Engine.AddLicense(env.Ctx, engine.LicenseCreateOptions{
		AgentID:        agentID,
		State:          "TX",
		LicenseNumber:  "TX-100",
		Status:         "active",
		ExpirationDate: &expires,
		ActorID:        "tester",
	}); err != nil {
		t.Fatal(err)
	}
	created, err := env.Engine.RunMonitorPass(env.Ctx, "monitor")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, a := range created {
		if a.Type == policy.AlertLicenseExpiring {
			found = true
			if a.Severity != policy.SeverityWarning {
				t.Errorf("severity = %s", a.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("no license_expiring alert in %+v", created)
	}

	// Second pass creates nothing new for the license.
	again, err := env.Engine.RunMonitorPass(env.Ctx, "monitor")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range again {
		if a.Type == policy.AlertLicenseExpiring {
			t.Fatalf("duplicate license alert: %+v", a)
		}
	}
}

func TestMonitorPassOverdueAndResolution(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)

	// Move the clock 12 days past onboarding: background check (10d) is
	// overdue, w9 (7d) is overdue, state license (14d) is not.
	later := testClock.AddDate(0, 0, 12)
	env.Engine.Now = func() time.Time { return later }
	env.Engine.Monitor.Now = env.Engine.Now

	created, err := env.Engine.RunMonitorPass(env.Ctx, "monitor")
	if err != nil {
		t.Fatal(err)
	}
	byKey := map[string]bool{}
	for _, a := range created {
		if a.Type != policy.AlertOnboardingOverdue {
			t.Fatalf("unexpected alert type %s", a.Type)
		}
		it, err := env.Engine.Repo.GetChecklistItem(env.Ctx, a.RelatedEntityID)
		if err != nil {
			t.Fatal(err)
		}
		byKey[it.ItemKey] = true
	}
	if !byKey[policy.KeyBackgroundCheck] || !byKey[policy.KeyW9Form] {
		t.Fatalf("missing overdue alerts, got %v", byKey)
	}
	if byKey[policy.KeyStateLicense] {
		t.Fatal("state_license flagged before its deadline")
	}

	// Clearing the background check resolves its alert and only its alert.
	if _, err := env.Engine.ApplyEvent(env.Ctx, policy.EventBackgroundCleared, agentID, "checkr"); err != nil {
		t.Fatal(err)
	}
	unresolved := false
	open, err := env.Engine.Repo.ListAlerts(env.Ctx, repo.AlertFilters{AgentID: agentID, Resolved: &unresolved})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range open {
		it, err := env.Engine.Repo.GetChecklistItem(env.Ctx, a.RelatedEntityID)
		if err != nil {
			t.Fatal(err)
		}
		if it.ItemKey == policy.KeyBackgroundCheck {
			t.Fatal("background check alert still open after event")
		}
	}
	if len(open) == 0 {
		t.Fatal("w9 alert should remain open")
	}
}

func TestMonitorPassContractCorrection(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	c, err := env.Engine.AddContract(env.Ctx, engine.ContractCreateOptions{
		AgentID:     agentID,
		CarrierName: "Umbrella Health",
		Status:      "submitted",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	notes := "Writing number missing"
	if _, err := env.Engine.SetContractStatus(env.Ctx, engine.ContractStatusOptions{
		ID: c.ID, Status: "requires_correction", CorrectionNotes: &notes, ActorID: "carrier",
	}); err != nil {
		t.Fatal(err)
	}
	created, err := env.Engine.RunMonitorPass(env.Ctx, "monitor")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, a := range created {
		if a.Type == policy.AlertContractActionRequired {
			found = true
			if a.Message != notes {
				t.Errorf("message = %q", a.Message)
			}
		}
	}
	if !found {
		t.Fatal("no contract_action_required alert")
	}
}

func TestResolveAlertManually(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	expires := testClock.AddDate(0, 0, 10).Format("2006-01-02")
	if _, err := env.Engine.AddLicense(env.Ctx, engine.LicenseCreateOptions{
		AgentID:        agentID,
		State:          "FL",
		LicenseNumber:  "FL-1",
		Status:         "active",
		ExpirationDate: &expires,
		ActorID:        "tester",
	}); err != nil {
		t.Fatal(err)
	}
	created, err := env.Engine.RunMonitorPass(env.Ctx, "monitor")
	if err != nil || len(created) == 0 {
		t.Fatalf("pass: %v, %d alerts", err, len(created))
	}
	a, err := env.Engine.ResolveAlert(env.Ctx, created[0].ID, "ops")
	if err != nil || !a.IsResolved {
		t.Fatalf("resolve: %v, resolved=%v", err, a.IsResolved)
	}
	// Resolving again is a no-op.
	if _, err := env.Engine.ResolveAlert(env.Ctx, created[0].ID, "ops"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
}

func TestCompleteChecklistItemManually(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, agentID)
	if err != nil {
		t.Fatal(err)
	}
	notes := "verified by phone"
	it, err := env.Engine.CompleteChecklistItem(env.Ctx, items[0].ID, "ops", &notes)
	if err != nil || !it.IsCompleted {
		t.Fatalf("complete: %v, completed=%v", err, it.IsCompleted)
	}
	// Second completion keeps the original attribution.
	again, err := env.Engine.CompleteChecklistItem(env.Ctx, items[0].ID, "someone-else", nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.CompletedBy == nil || *again.CompletedBy != "ops" {
		t.Fatalf("completed_by overwritten: %v", again.CompletedBy)
	}
}

func TestEventLogOnWrites(t *testing.T) {
	env := newTestEnv(t)
	agentID := env.createAgent(t)
	if _, err := env.Engine.RecordDocument(env.Ctx, engine.DocumentOptions{
		AgentID: agentID, Type: "w9", ActorID: "uploader",
	}); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 50, 0, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, e := range evts {
		seen[e.Type] = true
	}
	for _, want := range []string{"agent.created", "document.uploaded", policy.EventW9Uploaded, "checklist.completed"} {
		if !seen[want] {
			t.Errorf("missing event %s in log", want)
		}
	}
}
