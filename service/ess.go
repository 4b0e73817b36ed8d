package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AnTengye/esignflow/config"
	"github.com/AnTengye/esignflow/model"
)

// Provider action names, also used for orchestration step attribution.
const (
	ActionCreateFlow            = "CreateFlow"
	ActionCreateDocument        = "CreateDocument"
	ActionStartFlow             = "StartFlow"
	ActionCreateFlowSignURL     = "CreateFlowSignUrl"
	ActionDescribeFlowInfo      = "DescribeFlowInfo"
	ActionDescribeFlowTemplates = "DescribeFlowTemplates"
)

// signURLDefaultTTL replaces missing or invalid expiry values from the provider
const signURLDefaultTTL = 30 * time.Minute

// ESSService is the typed facade over the provider API: one method per
// action, each stamped with the fixed operator identity.
type ESSService struct {
	client     *Client
	operatorID string
	orgName    string
	jumpURL    string
}

func NewESSService(cfg *config.ESSConfig, client *Client) *ESSService {
	return &ESSService{
		client:     client,
		operatorID: cfg.OperatorID,
		orgName:    cfg.OrganizationName,
		jumpURL:    cfg.JumpURL,
	}
}

// OrganizationName returns the operator's own organization name, used for
// the auto-sign approver on every flow.
func (s *ESSService) OrganizationName() string {
	return s.orgName
}

type userInfo struct {
	UserID string `json:"UserId"`
}

func (s *ESSService) operator() userInfo {
	return userInfo{UserID: s.operatorID}
}

type flowApprover struct {
	ApproverType     int64  `json:"ApproverType"`
	ApproverName     string `json:"ApproverName,omitempty"`
	ApproverMobile   string `json:"ApproverMobile,omitempty"`
	ApproverIDNumber string `json:"ApproverIdCardNumber,omitempty"`
	OrganizationName string `json:"OrganizationName,omitempty"`
	SignOrder        int64  `json:"SignOrder"`
}

func toFlowApprover(a model.Approver) flowApprover {
	return flowApprover{
		ApproverType:     int64(a.Type),
		ApproverName:     a.Name,
		ApproverMobile:   a.Phone,
		ApproverIDNumber: a.IDNumber,
		OrganizationName: a.OrganizationName,
		SignOrder:        int64(a.SignOrder),
	}
}

// CreateFlow registers a new signing flow and returns its id
func (s *ESSService) CreateFlow(ctx context.Context, name, description string, approvers []model.Approver, deadline *time.Time) (string, error) {
	wireApprovers := make([]flowApprover, 0, len(approvers))
	for _, a := range approvers {
		wireApprovers = append(wireApprovers, toFlowApprover(a))
	}

	payload := struct {
		Operator        userInfo       `json:"Operator"`
		FlowName        string         `json:"FlowName"`
		FlowDescription string         `json:"FlowDescription,omitempty"`
		Approvers       []flowApprover `json:"Approvers"`
		Unordered       bool           `json:"Unordered"`
		Deadline        int64          `json:"DeadLine,omitempty"`
	}{
		Operator:        s.operator(),
		FlowName:        name,
		FlowDescription: description,
		Approvers:       wireApprovers,
		Unordered:       false, // approvers sign strictly by SignOrder
	}
	if deadline != nil {
		payload.Deadline = deadline.Unix()
	}

	var result struct {
		FlowID string `json:"FlowId"`
	}
	if err := s.client.Call(ctx, ActionCreateFlow, payload, &result); err != nil {
		return "", err
	}
	return result.FlowID, nil
}

type formField struct {
	ComponentName  string `json:"ComponentName"`
	ComponentValue string `json:"ComponentValue"`
}

// CreateDocument binds a flow to a template and fills the initiator fields
func (s *ESSService) CreateDocument(ctx context.Context, flowID, templateID string, fileNames []string, fields map[string]string) (string, error) {
	wireFields := make([]formField, 0, len(fields))
	for name, value := range fields {
		wireFields = append(wireFields, formField{ComponentName: name, ComponentValue: value})
	}

	payload := struct {
		Operator   userInfo    `json:"Operator"`
		FlowID     string      `json:"FlowId"`
		TemplateID string      `json:"TemplateId"`
		FileNames  []string    `json:"FileNames,omitempty"`
		FormFields []formField `json:"FormFields,omitempty"`
	}{
		Operator:   s.operator(),
		FlowID:     flowID,
		TemplateID: templateID,
		FileNames:  fileNames,
		FormFields: wireFields,
	}

	var result struct {
		DocumentID string `json:"DocumentId"`
	}
	if err := s.client.Call(ctx, ActionCreateDocument, payload, &result); err != nil {
		return "", err
	}
	return result.DocumentID, nil
}

// StartFlow activates a flow so signing can begin
func (s *ESSService) StartFlow(ctx context.Context, flowID string) (string, error) {
	payload := struct {
		Operator userInfo `json:"Operator"`
		FlowID   string   `json:"FlowId"`
	}{
		Operator: s.operator(),
		FlowID:   flowID,
	}

	var result struct {
		Status string `json:"Status"`
	}
	if err := s.client.Call(ctx, ActionStartFlow, payload, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// SignURLInfo is the issued signing link for one approver
type SignURLInfo struct {
	SignURL  string
	ExpireAt time.Time
}

// CreateFlowSignURL issues a signing link scoped to the given approver.
// A missing, non-numeric or non-positive expiry from the provider is
// replaced by now plus a default TTL instead of being propagated.
func (s *ESSService) CreateFlowSignURL(ctx context.Context, flowID string, approver model.Approver) (*SignURLInfo, error) {
	payload := struct {
		Operator       userInfo `json:"Operator"`
		FlowID         string   `json:"FlowId"`
		ApproverType   int64    `json:"ApproverType"`
		ApproverName   string   `json:"ApproverName,omitempty"`
		ApproverMobile string   `json:"ApproverMobile,omitempty"`
		JumpURL        string   `json:"JumpUrl,omitempty"`
	}{
		Operator:       s.operator(),
		FlowID:         flowID,
		ApproverType:   int64(approver.Type),
		ApproverName:   approver.Name,
		ApproverMobile: approver.Phone,
		JumpURL:        s.jumpURL,
	}

	var result struct {
		FlowApproverURLInfos []struct {
			SignURL           string `json:"SignUrl"`
			ApproverType      int64  `json:"ApproverType"`
			ApproverName      string `json:"ApproverName"`
			ApproverMobile    string `json:"ApproverMobile"`
			SignURLExpireTime string `json:"SignUrlExpireTime"`
		} `json:"FlowApproverUrlInfos"`
	}
	if err := s.client.Call(ctx, ActionCreateFlowSignURL, payload, &result); err != nil {
		return nil, err
	}

	if len(result.FlowApproverURLInfos) == 0 {
		return nil, &DataShapeError{Reason: fmt.Sprintf("no sign url returned for flow %s", flowID)}
	}

	info := result.FlowApproverURLInfos[0]
	expireAt := time.Now().Add(signURLDefaultTTL)
	if secs, err := strconv.ParseInt(info.SignURLExpireTime, 10, 64); err == nil && secs > 0 {
		expireAt = time.Unix(secs, 0)
	}

	return &SignURLInfo{
		SignURL:  info.SignURL,
		ExpireAt: expireAt,
	}, nil
}

// ApproverInfo is the canonical per-approver progress of a flow
type ApproverInfo struct {
	Name    string
	Type    model.ApproverType
	Signed  bool
	Message string
}

// FlowInfo is the canonical progress of one remote flow
type FlowInfo struct {
	FlowID    string
	Status    model.FlowStatus
	Message   string
	Approvers []ApproverInfo
}

// DescribeFlowInfo queries the provider for flow progress. Raw provider
// status codes are translated here; nothing downstream sees them.
func (s *ESSService) DescribeFlowInfo(ctx context.Context, flowIDs []string) ([]FlowInfo, error) {
	payload := struct {
		Operator userInfo `json:"Operator"`
		FlowIDs  []string `json:"FlowIds"`
	}{
		Operator: s.operator(),
		FlowIDs:  flowIDs,
	}

	var result struct {
		FlowDescInfos []struct {
			FlowID        string `json:"FlowId"`
			FlowStatus    int64  `json:"FlowStatus"`
			FlowMessage   string `json:"FlowMessage"`
			ApproverInfos []struct {
				ApproveName    string `json:"ApproveName"`
				ApproveType    int64  `json:"ApproveType"`
				ApproveStatus  int64  `json:"ApproveStatus"`
				ApproveMessage string `json:"ApproveMessage"`
			} `json:"ApproverInfos"`
		} `json:"FlowDescInfos"`
	}
	if err := s.client.Call(ctx, ActionDescribeFlowInfo, payload, &result); err != nil {
		return nil, err
	}

	infos := make([]FlowInfo, 0, len(result.FlowDescInfos))
	for _, raw := range result.FlowDescInfos {
		status, ok := model.FlowStatusFromCode(raw.FlowStatus)
		if !ok {
			return nil, &DataShapeError{Reason: fmt.Sprintf("unknown flow status code %d for flow %s", raw.FlowStatus, raw.FlowID)}
		}

		info := FlowInfo{
			FlowID:  raw.FlowID,
			Status:  status,
			Message: raw.FlowMessage,
		}
		for _, a := range raw.ApproverInfos {
			info.Approvers = append(info.Approvers, ApproverInfo{
				Name:    a.ApproveName,
				Type:    model.ApproverType(a.ApproveType),
				Signed:  a.ApproveStatus == 2,
				Message: a.ApproveMessage,
			})
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// TemplateComponent is one fillable or signable placeholder of a template
type TemplateComponent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Value    string `json:"value,omitempty"`
	Extra    string `json:"extra,omitempty"`
}

// Template is a provider-managed document skeleton
type Template struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Components []TemplateComponent `json:"components"`
}

// DescribeFlowTemplates fetches one template by id. Zero matches is a
// terminal template-not-found error.
func (s *ESSService) DescribeFlowTemplates(ctx context.Context, templateID string) (*Template, error) {
	type filter struct {
		Key    string   `json:"Key"`
		Values []string `json:"Values"`
	}
	payload := struct {
		Operator userInfo `json:"Operator"`
		Filters  []filter `json:"Filters"`
	}{
		Operator: s.operator(),
		Filters:  []filter{{Key: "template-id", Values: []string{templateID}}},
	}

	var result struct {
		Templates []struct {
			TemplateID   string `json:"TemplateId"`
			TemplateName string `json:"TemplateName"`
			Components   []struct {
				ComponentID       string `json:"ComponentId"`
				ComponentName     string `json:"ComponentName"`
				ComponentType     string `json:"ComponentType"`
				ComponentRequired bool   `json:"ComponentRequired"`
				ComponentValue    string `json:"ComponentValue"`
				ComponentExtra    string `json:"ComponentExtra"`
			} `json:"Components"`
		} `json:"Templates"`
	}
	if err := s.client.Call(ctx, ActionDescribeFlowTemplates, payload, &result); err != nil {
		return nil, err
	}

	if len(result.Templates) == 0 {
		return nil, &DataShapeError{Reason: fmt.Sprintf("template %s not found", templateID)}
	}

	raw := result.Templates[0]
	tmpl := &Template{
		ID:   raw.TemplateID,
		Name: raw.TemplateName,
	}
	for _, c := range raw.Components {
		tmpl.Components = append(tmpl.Components, TemplateComponent{
			ID:       c.ComponentID,
			Name:     c.ComponentName,
			Type:     c.ComponentType,
			Required: c.ComponentRequired,
			Value:    c.ComponentValue,
			Extra:    c.ComponentExtra,
		})
	}
	return tmpl, nil
}
