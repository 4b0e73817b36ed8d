package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AnTengye/esignflow/model"
)

// essTestServer fakes the provider: one canned response per action, and a
// record of the actions it saw, in order.
type essTestServer struct {
	server    *httptest.Server
	responses map[string]string
	calls     []string
	bodies    map[string][]byte
}

func newESSTestServer() *essTestServer {
	s := &essTestServer{
		responses: make(map[string]string),
		bodies:    make(map[string][]byte),
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.Header.Get("X-TC-Action")
		s.calls = append(s.calls, action)

		body, _ := io.ReadAll(r.Body)
		s.bodies[action] = body

		resp, ok := s.responses[action]
		if !ok {
			resp = `{"Response":{"RequestId":"req-0","Error":{"Code":"InvalidParameter","Message":"unexpected action"}}}`
		}
		fmt.Fprint(w, resp)
	}))
	return s
}

func (s *essTestServer) Close() {
	s.server.Close()
}

func newTestESSService(s *essTestServer) *ESSService {
	cfg := testESSConfig(s.server.URL)
	return NewESSService(cfg, NewClient(cfg, NewSlidingWindowLimiter(100, time.Second)))
}

func TestESSCreateFlow(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()
	server.responses[ActionCreateFlow] = `{"Response":{"RequestId":"req-1","FlowId":"flow-42"}}`

	svc := newTestESSService(server)

	approvers := []model.Approver{
		{Type: model.ApproverTypeOrgAutoSign, OrganizationName: "Test Org", SignOrder: 0},
		{Type: model.ApproverTypeIndividual, Name: "Zhang San", Phone: "13800000000", SignOrder: 1},
	}
	flowID, err := svc.CreateFlow(context.Background(), "flow name", "desc", approvers, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if flowID != "flow-42" {
		t.Errorf("Expected flow-42, got %s", flowID)
	}

	var payload struct {
		Operator struct {
			UserID string `json:"UserId"`
		} `json:"Operator"`
		Approvers []struct {
			ApproverType int64 `json:"ApproverType"`
			SignOrder    int64 `json:"SignOrder"`
		} `json:"Approvers"`
		Unordered bool `json:"Unordered"`
	}
	if err := json.Unmarshal(server.bodies[ActionCreateFlow], &payload); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}
	if payload.Operator.UserID != "op-1" {
		t.Errorf("Expected operator op-1, got %s", payload.Operator.UserID)
	}
	if len(payload.Approvers) != 2 {
		t.Fatalf("Expected 2 approvers, got %d", len(payload.Approvers))
	}
	if payload.Approvers[0].ApproverType != 3 || payload.Approvers[0].SignOrder != 0 {
		t.Errorf("Expected auto-sign approver first, got %+v", payload.Approvers[0])
	}
	if payload.Approvers[1].SignOrder != 1 {
		t.Errorf("Expected counterpart sign order 1, got %d", payload.Approvers[1].SignOrder)
	}
	if payload.Unordered {
		t.Error("Expected ordered signing")
	}
}

func TestESSCreateDocumentFormFields(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()
	server.responses[ActionCreateDocument] = `{"Response":{"RequestId":"req-2","DocumentId":"doc-7"}}`

	svc := newTestESSService(server)

	docID, err := svc.CreateDocument(context.Background(), "flow-42", "tmpl-1", nil,
		map[string]string{"amount": "1200", "start_date": "2024-05-01"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if docID != "doc-7" {
		t.Errorf("Expected doc-7, got %s", docID)
	}

	var payload struct {
		FlowID     string `json:"FlowId"`
		TemplateID string `json:"TemplateId"`
		FormFields []struct {
			ComponentName  string `json:"ComponentName"`
			ComponentValue string `json:"ComponentValue"`
		} `json:"FormFields"`
	}
	if err := json.Unmarshal(server.bodies[ActionCreateDocument], &payload); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}
	if payload.TemplateID != "tmpl-1" {
		t.Errorf("Expected tmpl-1, got %s", payload.TemplateID)
	}
	if len(payload.FormFields) != 2 {
		t.Errorf("Expected 2 form fields, got %d", len(payload.FormFields))
	}
}

func TestESSCreateFlowSignURL(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()

	expire := time.Now().Add(time.Hour).Unix()
	server.responses[ActionCreateFlowSignURL] = fmt.Sprintf(
		`{"Response":{"RequestId":"req-3","FlowApproverUrlInfos":[{"SignUrl":"https://sign.test/abc","ApproverType":1,"ApproverName":"Zhang San","ApproverMobile":"13800000000","SignUrlExpireTime":"%d"}]}}`,
		expire,
	)

	svc := newTestESSService(server)

	info, err := svc.CreateFlowSignURL(context.Background(), "flow-42",
		model.Approver{Type: model.ApproverTypeIndividual, Name: "Zhang San", Phone: "13800000000", SignOrder: 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if info.SignURL != "https://sign.test/abc" {
		t.Errorf("Unexpected sign url: %s", info.SignURL)
	}
	if info.ExpireAt.Unix() != expire {
		t.Errorf("Expected expiry %d, got %d", expire, info.ExpireAt.Unix())
	}
}

func TestESSSignURLExpiryFallback(t *testing.T) {
	tests := []struct {
		name   string
		expire string
	}{
		{"missing", ""},
		{"non-numeric", "soon"},
		{"zero", "0"},
		{"negative", "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newESSTestServer()
			defer server.Close()
			server.responses[ActionCreateFlowSignURL] = fmt.Sprintf(
				`{"Response":{"RequestId":"req-3","FlowApproverUrlInfos":[{"SignUrl":"https://sign.test/abc","SignUrlExpireTime":"%s"}]}}`,
				tt.expire,
			)

			svc := newTestESSService(server)
			before := time.Now()

			info, err := svc.CreateFlowSignURL(context.Background(), "flow-42",
				model.Approver{Type: model.ApproverTypeIndividual, SignOrder: 1})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			// Bad expiry is replaced with now + 30 minutes, never propagated
			want := before.Add(signURLDefaultTTL)
			if info.ExpireAt.Before(want.Add(-time.Minute)) || info.ExpireAt.After(want.Add(time.Minute)) {
				t.Errorf("Expected fallback expiry near %v, got %v", want, info.ExpireAt)
			}
		})
	}
}

func TestESSSignURLEmptyListTerminal(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()
	server.responses[ActionCreateFlowSignURL] = `{"Response":{"RequestId":"req-3","FlowApproverUrlInfos":[]}}`

	svc := newTestESSService(server)

	_, err := svc.CreateFlowSignURL(context.Background(), "flow-42",
		model.Approver{Type: model.ApproverTypeIndividual, SignOrder: 1})
	if err == nil {
		t.Fatal("Expected error for empty sign url list")
	}

	var shapeErr *DataShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("Expected DataShapeError, got %T: %v", err, err)
	}
	if len(server.calls) != 1 {
		t.Errorf("Empty list is terminal, got %d calls", len(server.calls))
	}
}

func TestESSDescribeFlowInfo(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()
	server.responses[ActionDescribeFlowInfo] = `{"Response":{"RequestId":"req-5","FlowDescInfos":[
		{"FlowId":"flow-42","FlowStatus":4,"FlowMessage":"all signed",
		 "ApproverInfos":[{"ApproveName":"Test Org","ApproveType":3,"ApproveStatus":2},
		                  {"ApproveName":"Zhang San","ApproveType":1,"ApproveStatus":2}]}]}}`

	svc := newTestESSService(server)

	infos, err := svc.DescribeFlowInfo(context.Background(), []string{"flow-42"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 flow info, got %d", len(infos))
	}
	if infos[0].Status != model.FlowStatusSigned {
		t.Errorf("Expected SIGNED, got %s", infos[0].Status)
	}
	if len(infos[0].Approvers) != 2 || !infos[0].Approvers[1].Signed {
		t.Errorf("Expected both approvers signed, got %+v", infos[0].Approvers)
	}
}

func TestESSDescribeFlowInfoUnknownStatus(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()
	server.responses[ActionDescribeFlowInfo] = `{"Response":{"RequestId":"req-5","FlowDescInfos":[{"FlowId":"flow-42","FlowStatus":99}]}}`

	svc := newTestESSService(server)

	_, err := svc.DescribeFlowInfo(context.Background(), []string{"flow-42"})
	var shapeErr *DataShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("Expected DataShapeError for unknown status code, got %T: %v", err, err)
	}
}

func TestESSDescribeFlowTemplates(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()
	server.responses[ActionDescribeFlowTemplates] = `{"Response":{"RequestId":"req-6","Templates":[
		{"TemplateId":"tmpl-1","TemplateName":"Lease","Components":[
			{"ComponentId":"c-1","ComponentName":"amount","ComponentType":"TEXT","ComponentRequired":true},
			{"ComponentId":"c-2","ComponentName":"start_date","ComponentType":"DATE","ComponentRequired":false}]}]}}`

	svc := newTestESSService(server)

	tmpl, err := svc.DescribeFlowTemplates(context.Background(), "tmpl-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tmpl.ID != "tmpl-1" || tmpl.Name != "Lease" {
		t.Errorf("Unexpected template: %+v", tmpl)
	}
	if len(tmpl.Components) != 2 {
		t.Fatalf("Expected 2 components, got %d", len(tmpl.Components))
	}
	if !tmpl.Components[0].Required || tmpl.Components[0].Name != "amount" {
		t.Errorf("Unexpected component: %+v", tmpl.Components[0])
	}
}

func TestESSDescribeFlowTemplatesNotFound(t *testing.T) {
	server := newESSTestServer()
	defer server.Close()
	server.responses[ActionDescribeFlowTemplates] = `{"Response":{"RequestId":"req-6","Templates":[]}}`

	svc := newTestESSService(server)

	_, err := svc.DescribeFlowTemplates(context.Background(), "tmpl-missing")
	if err == nil {
		t.Fatal("Expected error for missing template")
	}

	var shapeErr *DataShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("Expected DataShapeError, got %T: %v", err, err)
	}
	if len(server.calls) != 1 {
		t.Errorf("Template not found is terminal, got %d calls", len(server.calls))
	}
}
