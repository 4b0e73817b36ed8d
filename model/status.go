package model

import "fmt"

// ContractStatus is the lifecycle state of a contract
type ContractStatus string

const (
	StatusDraft         ContractStatus = "DRAFT"
	StatusPendingPartyB ContractStatus = "PENDING_PARTY_B" // awaiting counterpart signature
	StatusPendingPartyA ContractStatus = "PENDING_PARTY_A" // awaiting internal approval
	StatusCompleted     ContractStatus = "COMPLETED"
	StatusRejected      ContractStatus = "REJECTED"
	StatusExpired       ContractStatus = "EXPIRED"
	StatusCancelled     ContractStatus = "CANCELLED"

	// StatusInitiating marks a contract claimed by an in-flight
	// orchestration. It only exists between the claim and the
	// commit/revert, is never written to the status log, and is not a
	// legal source or target in the public transition table.
	StatusInitiating ContractStatus = "INITIATING"
)

// legalTransitions is the fixed table of allowed lifecycle moves.
// Terminal states have no entry.
var legalTransitions = map[ContractStatus][]ContractStatus{
	StatusDraft:         {StatusPendingPartyB, StatusCancelled},
	StatusPendingPartyB: {StatusPendingPartyA, StatusRejected, StatusExpired, StatusCancelled},
	StatusPendingPartyA: {StatusCompleted, StatusRejected, StatusCancelled},
}

// IsTerminal reports whether no further transitions are valid from s
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the public lifecycle states
func (s ContractStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingPartyB, StatusPendingPartyA,
		StatusCompleted, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is in the transition table
func CanTransition(from, to ContractStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error naming both states when from -> to
// is not a legal move
func ValidateTransition(from, to ContractStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// ApproverType is the provider's participant classification
type ApproverType int

const (
	ApproverTypeOrganization ApproverType = 0
	ApproverTypeIndividual   ApproverType = 1
	// ApproverTypeOrgAutoSign signs server-side without human action
	ApproverTypeOrgAutoSign ApproverType = 3
)

// FlowStatus is the canonical state of a remote signing flow
type FlowStatus string

const (
	FlowStatusUnknown         FlowStatus = "UNKNOWN"
	FlowStatusUnsigned        FlowStatus = "UNSIGNED"
	FlowStatusPartiallySigned FlowStatus = "PARTIALLY_SIGNED"
	FlowStatusRejected        FlowStatus = "REJECTED"
	FlowStatusSigned          FlowStatus = "SIGNED"
	FlowStatusExpired         FlowStatus = "EXPIRED"
	FlowStatusCancelled       FlowStatus = "CANCELLED"
)

// flowStatusCodes translates the provider's small-integer flow status to
// the canonical enum. Raw provider codes never leave the API boundary.
var flowStatusCodes = map[int64]FlowStatus{
	0: FlowStatusUnknown,
	1: FlowStatusUnsigned,
	2: FlowStatusPartiallySigned,
	3: FlowStatusRejected,
	4: FlowStatusSigned,
	5: FlowStatusExpired,
	6: FlowStatusCancelled,
}

// FlowStatusFromCode translates a provider flow status code. The second
// return is false for codes not in the table.
func FlowStatusFromCode(code int64) (FlowStatus, bool) {
	s, ok := flowStatusCodes[code]
	return s, ok
}

// ContractStatus maps a flow status to the contract status it implies.
// The second return is false when the flow status implies no change of
// contract state (signing still in progress).
func (f FlowStatus) ContractStatus() (ContractStatus, bool) {
	switch f {
	case FlowStatusRejected:
		return StatusRejected, true
	case FlowStatusSigned:
		// All approvers signed; the contract moves on to internal approval.
		return StatusPendingPartyA, true
	case FlowStatusExpired:
		return StatusExpired, true
	case FlowStatusCancelled:
		return StatusCancelled, true
	}
	return "", false
}
