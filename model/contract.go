package model

import (
	"time"
)

// PartyType distinguishes who the counterpart of a contract is.
const (
	PartyTypeIndividual   = "individual"
	PartyTypeOrganization = "organization"
)

// Contract represents a contract managed by the signing engine
type Contract struct {
	ID              string         `json:"id"`
	ContractNo      string         `json:"contract_no"`
	Status          ContractStatus `json:"status"`
	FlowID          string         `json:"flow_id,omitempty"`
	SignURL         string         `json:"sign_url,omitempty"`
	SignURLExpireAt *time.Time     `json:"sign_url_expire_at,omitempty"`
	PartyName       string         `json:"party_name"`
	PartyPhone      string         `json:"party_phone"`
	PartyIDNumber   string         `json:"party_id_number,omitempty"`
	PartyType       string         `json:"party_type"` // individual, organization
	PartyOrgName    string         `json:"party_org_name,omitempty"`
	FormData        map[string]any `json:"form_data,omitempty"`
	ProductID       string         `json:"product_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Product holds the template binding and field configuration for a
// family of contracts
type Product struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	TemplateID   string        `json:"template_id"`
	DeadlineDays int           `json:"deadline_days,omitempty"` // 0 = no signing deadline
	FieldConfigs []FieldConfig `json:"field_configs,omitempty"`
}

// FillSource says who supplies a form field's value.
const (
	FillSourceInitiator = "initiator"
	FillSourceSigner    = "signer"
)

// FieldConfig describes one fillable template field for a product
type FieldConfig struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // text, date, number, select
	FillSource string `json:"fill_source"`
	Required   bool   `json:"required"`
}

// StatusLogEntry is one immutable audit record of a status transition.
// Entries are append-only; they are never updated or deleted.
type StatusLogEntry struct {
	ID         string          `json:"id"`
	ContractID string          `json:"contract_id"`
	FromStatus *ContractStatus `json:"from_status,omitempty"`
	ToStatus   ContractStatus  `json:"to_status"`
	OperatorID string          `json:"operator_id,omitempty"`
	Remark     string          `json:"remark,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Approver describes one signing participant for a single flow creation.
// It is built per orchestration call and never persisted.
type Approver struct {
	Type             ApproverType
	Name             string
	Phone            string
	OrganizationName string
	IDNumber         string
	SignOrder        int // lower signs first
}
