package domain

type Agent struct {
	ID        string `json:"id"`
	NPN       string `json:"npn,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status" enum:"onboarding,active,inactive,terminated"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type License struct {
	ID              string  `json:"id"`
	AgentID         string  `json:"agent_id"`
	State           string  `json:"state"`
	LicenseNumber   string  `json:"license_number"`
	LineOfAuthority string  `json:"line_of_authority,omitempty"`
	Status          string  `json:"status" enum:"pending,active,expired,revoked"`
	ExpirationDate  *string `json:"expiration_date,omitempty" format:"date"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Contract struct {
	ID              string  `json:"id"`
	AgentID         string  `json:"agent_id"`
	CarrierName     string  `json:"carrier_name"`
	WritingNumber   *string `json:"writing_number,omitempty"`
	Status          string  `json:"status" enum:"draft,sent,signed,submitted,requires_correction,active,terminated,expired"`
	CorrectionNotes *string `json:"correction_notes,omitempty"`
	ExpirationDate  *string `json:"expiration_date,omitempty" format:"date"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Document struct {
	ID         string `json:"id"`
	AgentID    string `json:"agent_id"`
	Type       string `json:"type" enum:"w9,eo_certificate,voided_check,id_card,ahip_certificate,license_copy,other"`
	FileName   string `json:"file_name,omitempty"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

type ChecklistItem struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	ItemKey     string  `json:"item_key"`
	Name        string  `json:"name"`
	IsCompleted bool    `json:"is_completed"`
	CompletedBy *string `json:"completed_by,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	Notes       *string `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Alert struct {
	ID                string  `json:"id"`
	AgentID           string  `json:"agent_id"`
	Type              string  `json:"type"`
	Severity          string  `json:"severity" enum:"info,warning,critical"`
	Title             string  `json:"title"`
	Message           string  `json:"message,omitempty"`
	DueDate           *string `json:"due_date,omitempty" format:"date"`
	IsResolved        bool    `json:"is_resolved"`
	ResolvedAt        *string `json:"resolved_at,omitempty" format:"date-time"`
	RelatedEntityType string  `json:"related_entity_type" enum:"license,contract,checklist_item"`
	RelatedEntityID   string  `json:"related_entity_id"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
