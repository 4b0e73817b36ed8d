package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AnTengye/esignflow/model"
	"github.com/AnTengye/esignflow/pkg/logger"
)

// Orchestrator drives a draft contract through the remote signing flow:
// CreateFlow -> CreateDocument -> StartFlow -> CreateFlowSignUrl. Local
// state changes only after the whole chain succeeds; any failure leaves
// the contract exactly as it was.
type Orchestrator struct {
	store Store
	ess   *ESSService
}

func NewOrchestrator(store Store, ess *ESSService) *Orchestrator {
	return &Orchestrator{store: store, ess: ess}
}

// InitiateResult is what a successful orchestration hands back to the UI
type InitiateResult struct {
	FlowID          string    `json:"flow_id"`
	SignURL         string    `json:"sign_url"`
	SignURLExpireAt time.Time `json:"sign_url_expire_at"`
}

// Initiate runs the full signing flow for a draft contract. The contract
// is claimed with an atomic status compare-and-swap before the first
// remote call and reverted to DRAFT on any failure; only after the last
// step succeeds are flow id, sign url, expiry and the new status persisted
// together with one DRAFT -> PENDING_PARTY_B log entry.
func (o *Orchestrator) Initiate(ctx context.Context, contractID, operatorID string) (*InitiateResult, error) {
	contract, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, &StepError{Step: StepInit, Err: err}
	}
	if contract.Status != model.StatusDraft {
		return nil, &StepError{Step: StepInit, Err: &PreconditionError{
			Reason: fmt.Sprintf("contract %s is %s, only DRAFT contracts can be initiated", contractID, contract.Status),
		}}
	}

	product, err := o.store.GetProduct(ctx, contract.ProductID)
	if err != nil {
		return nil, &StepError{Step: StepInit, Err: err}
	}
	if product.TemplateID == "" {
		return nil, &StepError{Step: StepInit, Err: &PreconditionError{
			Reason: fmt.Sprintf("product %s has no template id", product.ID),
		}}
	}

	// Claim the contract before any remote call so concurrent initiations
	// cannot interleave.
	if err := o.store.CompareAndSwapStatus(ctx, contractID, model.StatusDraft, model.StatusInitiating); err != nil {
		return nil, &StepError{Step: StepInit, Err: err}
	}

	result, err := o.runFlow(ctx, contract, product, operatorID)
	if err != nil {
		if revertErr := o.store.CompareAndSwapStatus(ctx, contractID, model.StatusInitiating, model.StatusDraft); revertErr != nil {
			logger.Error(ctx, "failed to revert orchestration claim",
				"contract_id", contractID, "error", revertErr)
		}
		return nil, err
	}
	return result, nil
}

// runFlow executes the four provider steps and the final commit. Callers
// own the claim and its revert.
func (o *Orchestrator) runFlow(ctx context.Context, contract *model.Contract, product *model.Product, operatorID string) (*InitiateResult, error) {
	counterpart := counterpartApprover(contract)
	approvers := []model.Approver{
		{
			Type:             model.ApproverTypeOrgAutoSign,
			OrganizationName: o.ess.OrganizationName(),
			SignOrder:        0,
		},
		counterpart,
	}

	var deadline *time.Time
	if product.DeadlineDays > 0 {
		d := time.Now().AddDate(0, 0, product.DeadlineDays)
		deadline = &d
	}

	flowName := fmt.Sprintf("%s-%s", product.Name, contract.ContractNo)
	description := fmt.Sprintf("Signing flow for contract %s", contract.ContractNo)

	flowID, err := o.ess.CreateFlow(ctx, flowName, description, approvers, deadline)
	if err != nil {
		return nil, &StepError{Step: ActionCreateFlow, Err: err}
	}
	logger.Info(ctx, "signing flow created", "contract_id", contract.ID, "flow_id", flowID)

	fields := BuildFormFields(contract.FormData, product.FieldConfigs)
	if _, err := o.ess.CreateDocument(ctx, flowID, product.TemplateID, nil, fields); err != nil {
		return nil, &StepError{Step: ActionCreateDocument, Err: err}
	}

	if _, err := o.ess.StartFlow(ctx, flowID); err != nil {
		return nil, &StepError{Step: ActionStartFlow, Err: err}
	}

	urlInfo, err := o.ess.CreateFlowSignURL(ctx, flowID, counterpart)
	if err != nil {
		return nil, &StepError{Step: ActionCreateFlowSignURL, Err: err}
	}

	err = o.store.CommitSigning(ctx, contract.ID, flowID, urlInfo.SignURL, urlInfo.ExpireAt,
		model.StatusDraft, model.StatusPendingPartyB, operatorID, "signing flow initiated")
	if err != nil {
		return nil, &StepError{Step: StepUnknown, Err: err}
	}

	logger.Info(ctx, "contract handed to counterpart",
		"contract_id", contract.ID, "flow_id", flowID)

	return &InitiateResult{
		FlowID:          flowID,
		SignURL:         urlInfo.SignURL,
		SignURLExpireAt: urlInfo.ExpireAt,
	}, nil
}

// RegenerateSignURL issues a fresh signing link for a contract already
// awaiting its counterpart. Only the url and expiry change; the status
// and the audit trail stay untouched.
func (o *Orchestrator) RegenerateSignURL(ctx context.Context, contractID string) (*InitiateResult, error) {
	contract, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, &StepError{Step: StepInit, Err: err}
	}
	if contract.Status != model.StatusPendingPartyB {
		return nil, &StepError{Step: StepInit, Err: &PreconditionError{
			Reason: fmt.Sprintf("contract %s is %s, sign urls exist only while PENDING_PARTY_B", contractID, contract.Status),
		}}
	}
	if contract.FlowID == "" {
		return nil, &StepError{Step: StepInit, Err: &PreconditionError{
			Reason: fmt.Sprintf("contract %s has no flow id", contractID),
		}}
	}

	urlInfo, err := o.ess.CreateFlowSignURL(ctx, contract.FlowID, counterpartApprover(contract))
	if err != nil {
		return nil, &StepError{Step: ActionCreateFlowSignURL, Err: err}
	}

	if err := o.store.UpdateSignURL(ctx, contractID, urlInfo.SignURL, urlInfo.ExpireAt); err != nil {
		return nil, &StepError{Step: StepUnknown, Err: err}
	}

	return &InitiateResult{
		FlowID:          contract.FlowID,
		SignURL:         urlInfo.SignURL,
		SignURLExpireAt: urlInfo.ExpireAt,
	}, nil
}

// SyncStatus pulls the remote flow state and, when it implies a different
// contract status, applies that transition with a log entry. Returns the
// canonical flow status either way.
func (o *Orchestrator) SyncStatus(ctx context.Context, contractID, operatorID string) (model.FlowStatus, error) {
	contract, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return "", &StepError{Step: StepInit, Err: err}
	}
	if contract.FlowID == "" {
		return "", &StepError{Step: StepInit, Err: &PreconditionError{
			Reason: fmt.Sprintf("contract %s has no flow id", contractID),
		}}
	}

	infos, err := o.ess.DescribeFlowInfo(ctx, []string{contract.FlowID})
	if err != nil {
		return "", &StepError{Step: ActionDescribeFlowInfo, Err: err}
	}

	var flow *FlowInfo
	for i := range infos {
		if infos[i].FlowID == contract.FlowID {
			flow = &infos[i]
			break
		}
	}
	if flow == nil {
		return "", &StepError{Step: ActionDescribeFlowInfo, Err: &DataShapeError{
			Reason: fmt.Sprintf("provider returned no info for flow %s", contract.FlowID),
		}}
	}

	implied, change := flow.Status.ContractStatus()
	if change && implied != contract.Status {
		err := o.store.TransitionStatus(ctx, contractID, contract.Status, implied,
			operatorID, fmt.Sprintf("synced from provider, flow status %s", flow.Status))
		if err != nil {
			return "", &StepError{Step: ActionDescribeFlowInfo, Err: err}
		}
		logger.Info(ctx, "contract status synced",
			"contract_id", contractID, "from", contract.Status, "to", implied)
	}

	return flow.Status, nil
}

// DescribeTemplate fetches a template and its components for display
func (o *Orchestrator) DescribeTemplate(ctx context.Context, templateID string) (*Template, error) {
	return o.ess.DescribeFlowTemplates(ctx, templateID)
}

// counterpartApprover builds the approver value for the contract's
// counterpart, signing after the auto-sign organization.
func counterpartApprover(contract *model.Contract) model.Approver {
	approver := model.Approver{
		Type:      model.ApproverTypeIndividual,
		Name:      contract.PartyName,
		Phone:     contract.PartyPhone,
		IDNumber:  contract.PartyIDNumber,
		SignOrder: 1,
	}
	if contract.PartyType == model.PartyTypeOrganization {
		approver.Type = model.ApproverTypeOrganization
		approver.OrganizationName = contract.PartyOrgName
	}
	return approver
}

// BuildFormFields filters the contract's form data against the product's
// initiator-filled field configuration and stringifies each value the way
// the provider expects. Signer-filled fields are withheld on purpose; the
// counterpart completes them during signing.
func BuildFormFields(formData map[string]any, configs []model.FieldConfig) map[string]string {
	fields := make(map[string]string)
	for _, cfg := range configs {
		if cfg.FillSource != model.FillSourceInitiator {
			continue
		}
		value, ok := formData[cfg.Name]
		if !ok || value == nil {
			continue
		}
		fields[cfg.Name] = formatFieldValue(value, cfg.Type)
	}
	return fields
}

// formatFieldValue converts a form value to its provider string form.
// Dates become YYYY-MM-DD; numbers and everything else are stringified.
func formatFieldValue(value any, fieldType string) string {
	switch v := value.(type) {
	case time.Time:
		return v.Format("2006-01-02")
	case string:
		if fieldType == "date" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t.Format("2006-01-02")
			}
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
