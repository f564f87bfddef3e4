// Package policy holds the static compliance vocabulary: alert types,
// severity tiers, the onboarding checklist catalog with its overdue
// thresholds, and the mapping from business events to checklist items.
// All tables are immutable after init.
package policy

// Alert types produced by the monitoring core.
const (
	AlertLicenseExpiring        = "license_expiring"
	AlertLicenseExpired         = "license_expired"
	AlertContractExpiring       = "contract_expiring"
	AlertContractActionRequired = "contract_action_required"
	AlertOnboardingOverdue      = "onboarding_overdue"
)

// Alert types reserved for other subsystems. Listed so the vocabulary is
// closed; the monitor never creates them.
const (
	AlertAppointmentPending = "appointment_pending"
	AlertRTSExpired         = "rts_expired"
	AlertAdverseAction      = "adverse_action"
	AlertCEDue              = "ce_due"
	AlertAHIPExpiring       = "ahip_expiring"
	AlertEOExpiring         = "eo_expiring"
	AlertBackgroundFailed   = "background_failed"
	AlertNIPRIssue          = "nipr_issue"
	AlertSunfireIssue       = "sunfire_issue"
)

// Severity tiers.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Related entity kinds carried on alerts.
const (
	EntityLicense       = "license"
	EntityContract      = "contract"
	EntityChecklistItem = "checklist_item"
)

// Checklist item keys.
const (
	KeyStateLicense          = "state_license"
	KeyW9Form                = "w9_form"
	KeyDirectDeposit         = "direct_deposit"
	KeyEOCertificate         = "eo_certificate"
	KeyIDVerification        = "id_verification"
	KeyAHIPCertification     = "ahip_certification"
	KeyBackgroundCheck       = "background_check"
	KeyComplianceTraining    = "compliance_training"
	KeyCarrierCertifications = "carrier_certifications"
	KeyInitialContract       = "initial_contract"
)

// Business events consumed by the checklist completion trigger.
const (
	EventLicenseActivated    = "license.activated"
	EventNIPRVerified        = "nipr.verified"
	EventW9Uploaded          = "document.w9.uploaded"
	EventEOUploaded          = "document.eo.uploaded"
	EventVoidedCheckUploaded = "document.voided_check.uploaded"
	EventIDUploaded          = "document.id.uploaded"
	EventAHIPUploaded        = "document.ahip.uploaded"
	EventBackgroundCleared   = "background.cleared"
	EventTrainingCompleted   = "training.completed"
	EventCarrierCertified    = "carrier.certified"
	EventContractSigned      = "contract.signed"
)

// ChecklistEntry is one row of the onboarding checklist catalog. OverdueDays
// counts from the agent's creation date; Priority orders overdue alert
// creation, lower first.
type ChecklistEntry struct {
	Key         string
	Name        string
	OverdueDays int
	Severity    string
	Priority    int
}

// Catalog is the onboarding checklist in seed order.
var Catalog = []ChecklistEntry{
	{Key: KeyStateLicense, Name: "State insurance license", OverdueDays: 14, Severity: SeverityCritical, Priority: 1},
	{Key: KeyBackgroundCheck, Name: "Background check", OverdueDays: 10, Severity: SeverityCritical, Priority: 1},
	{Key: KeyInitialContract, Name: "Initial carrier contract", OverdueDays: 14, Severity: SeverityCritical, Priority: 1},
	{Key: KeyW9Form, Name: "W-9 form", OverdueDays: 7, Severity: SeverityWarning, Priority: 2},
	{Key: KeyIDVerification, Name: "Identity verification", OverdueDays: 7, Severity: SeverityWarning, Priority: 2},
	{Key: KeyEOCertificate, Name: "E&O certificate", OverdueDays: 14, Severity: SeverityCritical, Priority: 2},
	{Key: KeyDirectDeposit, Name: "Direct deposit authorization", OverdueDays: 7, Severity: SeverityWarning, Priority: 3},
	{Key: KeyAHIPCertification, Name: "AHIP certification", OverdueDays: 21, Severity: SeverityWarning, Priority: 3},
	{Key: KeyComplianceTraining, Name: "Compliance training", OverdueDays: 30, Severity: SeverityWarning, Priority: 3},
	{Key: KeyCarrierCertifications, Name: "Carrier certifications", OverdueDays: 30, Severity: SeverityInfo, Priority: 4},
}

var catalogByKey = func() map[string]ChecklistEntry {
	m := make(map[string]ChecklistEntry, len(Catalog))
	for _, e := range Catalog {
		m[e.Key] = e
	}
	return m
}()

// OverdueEntry returns the catalog entry for an item key. Keys without an
// entry are never flagged overdue.
func OverdueEntry(key string) (ChecklistEntry, bool) {
	e, ok := catalogByKey[key]
	return e, ok
}

// ItemName returns the display name for an item key, falling back to the key.
func ItemName(key string) string {
	if e, ok := catalogByKey[key]; ok {
		return e.Name
	}
	return key
}

// eventChecklist maps a business event to the checklist item keys it
// satisfies. Several events may satisfy the same key.
var eventChecklist = map[string][]string{
	EventLicenseActivated:    {KeyStateLicense},
	EventNIPRVerified:        {KeyStateLicense},
	EventW9Uploaded:          {KeyW9Form},
	EventEOUploaded:          {KeyEOCertificate},
	EventVoidedCheckUploaded: {KeyDirectDeposit},
	EventIDUploaded:          {KeyIDVerification},
	EventAHIPUploaded:        {KeyAHIPCertification},
	EventBackgroundCleared:   {KeyBackgroundCheck},
	EventTrainingCompleted:   {KeyComplianceTraining},
	EventCarrierCertified:    {KeyCarrierCertifications},
	EventContractSigned:      {KeyInitialContract},
}

// ChecklistKeysForEvent resolves an event to the checklist item keys it
// satisfies. Unknown events resolve to nothing.
func ChecklistKeysForEvent(event string) []string {
	return eventChecklist[event]
}

// documentEvents maps a document type to the upload event it raises. A
// license_copy alone does not satisfy licensure, so it maps to no event.
var documentEvents = map[string]string{
	"w9":               EventW9Uploaded,
	"eo_certificate":   EventEOUploaded,
	"voided_check":     EventVoidedCheckUploaded,
	"id_card":          EventIDUploaded,
	"ahip_certificate": EventAHIPUploaded,
}

// EventForDocumentType returns the upload event for a document type, if any.
func EventForDocumentType(docType string) (string, bool) {
	evt, ok := documentEvents[docType]
	return evt, ok
}

// Default expiration windows in days, overridable per deployment.
const (
	DefaultWarningWindowDays  = 60
	DefaultCriticalWindowDays = 30
)

// LicenseInForce reports whether a license still participates in expiration
// evaluation. Expired and revoked licenses are reported through other means.
func LicenseInForce(status string) bool {
	return status == "active" || status == "pending"
}

// ContractInForce reports whether a contract still participates in
// expiration evaluation.
func ContractInForce(status string) bool {
	switch status {
	case "terminated", "expired":
		return false
	}
	return true
}
