package server

// Request payloads. Responses reuse the domain types, which carry the JSON
// and schema tags huma needs.

type CreateAgentRequest struct {
	NPN       string `json:"npn,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty" format:"email"`
}

type SetAgentStatusRequest struct {
	Status string `json:"status" enum:"onboarding,active,inactive,terminated"`
}

type CreateLicenseRequest struct {
	State           string  `json:"state" minLength:"2" maxLength:"2"`
	LicenseNumber   string  `json:"license_number"`
	LineOfAuthority string  `json:"line_of_authority,omitempty"`
	Status          string  `json:"status,omitempty" enum:"pending,active,expired,revoked"`
	ExpirationDate  *string `json:"expiration_date,omitempty" format:"date"`
}

type SetLicenseStatusRequest struct {
	Status string `json:"status" enum:"pending,active,expired,revoked"`
}

type CreateContractRequest struct {
	CarrierName    string  `json:"carrier_name"`
	WritingNumber  *string `json:"writing_number,omitempty"`
	Status         string  `json:"status,omitempty" enum:"draft,sent,signed,submitted,requires_correction,active,terminated,expired"`
	ExpirationDate *string `json:"expiration_date,omitempty" format:"date"`
}

type SetContractStatusRequest struct {
	Status          string  `json:"status" enum:"draft,sent,signed,submitted,requires_correction,active,terminated,expired"`
	CorrectionNotes *string `json:"correction_notes,omitempty"`
}

type CreateDocumentRequest struct {
	Type     string `json:"type" enum:"w9,eo_certificate,voided_check,id_card,ahip_certificate,license_copy,other"`
	FileName string `json:"file_name,omitempty"`
}

type ApplyEventRequest struct {
	Event string `json:"event"`
}

type CompleteChecklistItemRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is returned once at creation; only its hash is stored.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
