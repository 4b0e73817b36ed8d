package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AnTengye/esignflow/config"
	"github.com/AnTengye/esignflow/model"
	"github.com/AnTengye/esignflow/service"
	"github.com/gin-gonic/gin"
)

// fakeProvider serves canned responses keyed by the X-TC-Action header
type fakeProvider struct {
	server    *httptest.Server
	responses map[string]string
	calls     int
}

func newFakeProvider() *fakeProvider {
	p := &fakeProvider{responses: make(map[string]string)}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls++
		action := r.Header.Get("X-TC-Action")
		resp, ok := p.responses[action]
		if !ok {
			resp = `{"Response":{"RequestId":"req-0","Error":{"Code":"InvalidParameter","Message":"unexpected action"}}}`
		}
		fmt.Fprint(w, resp)
	}))
	return p
}

func (p *fakeProvider) Close() {
	p.server.Close()
}

func (p *fakeProvider) happyPath() {
	p.responses["CreateFlow"] = `{"Response":{"RequestId":"req-1","FlowId":"flow-42"}}`
	p.responses["CreateDocument"] = `{"Response":{"RequestId":"req-2","DocumentId":"doc-7"}}`
	p.responses["StartFlow"] = `{"Response":{"RequestId":"req-3","Status":"START"}}`
	p.responses["CreateFlowSignUrl"] = fmt.Sprintf(
		`{"Response":{"RequestId":"req-4","FlowApproverUrlInfos":[{"SignUrl":"https://sign.test/abc","SignUrlExpireTime":"%d"}]}}`,
		time.Now().Add(time.Hour).Unix(),
	)
}

func newTestHandler(p *fakeProvider) (*ContractHandler, *service.MemoryStore) {
	essCfg := &config.ESSConfig{
		SecretID:         "AKIDtest1234567890",
		SecretKey:        "testsecretkey",
		Host:             "ess.tencentcloudapi.com",
		Endpoint:         p.server.URL,
		Service:          "ess",
		Version:          "2020-11-11",
		OperatorID:       "op-auto",
		OrganizationName: "Test Org",
		RateLimit:        100,
		Retry: config.RetryConfig{
			MaxAttempts: 1,
			BaseDelayMs: 1,
			MaxDelayMs:  5,
		},
	}
	store := service.NewMemoryStore(&config.StoreConfig{MaxContracts: 100})
	client := service.NewClient(essCfg, service.NewSlidingWindowLimiter(100, time.Second))
	ess := service.NewESSService(essCfg, client)
	orch := service.NewOrchestrator(store, ess)
	return NewContractHandler(orch, store), store
}

func seedDraft(t *testing.T, store *service.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	contract := &model.Contract{
		ID:         "c-1",
		ContractNo: "HT-2024-c-1",
		Status:     model.StatusDraft,
		PartyName:  "Zhang San",
		PartyPhone: "13800000000",
		PartyType:  model.PartyTypeIndividual,
		ProductID:  "prod-1",
		FormData:   map[string]any{"amount": float64(1200)},
		CreatedAt:  time.Now(),
	}
	if err := store.SaveContract(ctx, contract); err != nil {
		t.Fatalf("Failed to seed contract: %v", err)
	}

	product := &model.Product{
		ID:         "prod-1",
		Name:       "Lease",
		TemplateID: "tmpl-1",
		FieldConfigs: []model.FieldConfig{
			{Name: "amount", Type: "number", FillSource: model.FillSourceInitiator},
		},
	}
	if err := store.SaveProduct(ctx, product); err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
}

func newTestRouter(h *ContractHandler) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("operator_id", "op-1001")
		c.Next()
	})
	router.POST("/contracts/:id/initiate", h.Initiate)
	router.POST("/contracts/:id/sign-url", h.RegenerateSignURL)
	router.POST("/contracts/:id/sync", h.Sync)
	router.GET("/contracts/:id", h.Get)
	router.GET("/contracts/:id/status-log", h.GetStatusLog)
	router.GET("/templates/:id", h.GetTemplate)
	return router
}

func TestContractHandlerInitiate(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()
	provider.happyPath()

	handler, store := newTestHandler(provider)
	seedDraft(t, store)
	router := newTestRouter(handler)

	req := httptest.NewRequest("POST", "/contracts/c-1/initiate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var result service.InitiateResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result.FlowID != "flow-42" {
		t.Errorf("Expected flow-42, got %s", result.FlowID)
	}
	if result.SignURL != "https://sign.test/abc" {
		t.Errorf("Unexpected sign url %s", result.SignURL)
	}

	contract, _ := store.GetContract(context.Background(), "c-1")
	if contract.Status != model.StatusPendingPartyB {
		t.Errorf("Expected PENDING_PARTY_B, got %s", contract.Status)
	}
}

func TestContractHandlerInitiateNotDraft(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()

	handler, store := newTestHandler(provider)
	seedDraft(t, store)

	ctx := context.Background()
	contract, _ := store.GetContract(ctx, "c-1")
	contract.Status = model.StatusCompleted
	store.SaveContract(ctx, contract)

	router := newTestRouter(handler)

	req := httptest.NewRequest("POST", "/contracts/c-1/initiate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	if provider.calls != 0 {
		t.Errorf("Expected no provider calls, got %d", provider.calls)
	}
}

func TestContractHandlerInitiateNotFound(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()

	handler, _ := newTestHandler(provider)
	router := newTestRouter(handler)

	req := httptest.NewRequest("POST", "/contracts/missing/initiate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestContractHandlerInitiateProviderError(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()
	provider.responses["CreateFlow"] = `{"Response":{"RequestId":"req-9","Error":{"Code":"InvalidParameter","Message":"bad approver"}}}`

	handler, store := newTestHandler(provider)
	seedDraft(t, store)
	router := newTestRouter(handler)

	req := httptest.NewRequest("POST", "/contracts/c-1/initiate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["step"] != "CreateFlow" {
		t.Errorf("Expected step CreateFlow, got %v", body["step"])
	}
	if body["provider_request_id"] != "req-9" {
		t.Errorf("Expected provider request id req-9, got %v", body["provider_request_id"])
	}

	// Contract must be back in DRAFT after the failed flow
	contract, _ := store.GetContract(context.Background(), "c-1")
	if contract.Status != model.StatusDraft {
		t.Errorf("Expected DRAFT after failure, got %s", contract.Status)
	}
}

func TestContractHandlerRegenerateSignURL(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()
	provider.happyPath()

	handler, store := newTestHandler(provider)
	seedDraft(t, store)
	router := newTestRouter(handler)

	// Drive the contract to PENDING_PARTY_B first
	req := httptest.NewRequest("POST", "/contracts/c-1/initiate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Initiate failed: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("POST", "/contracts/c-1/sign-url", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var result service.InitiateResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result.SignURL == "" {
		t.Error("Expected non-empty sign url")
	}

	// No extra audit entry for a regenerated url
	entries, _ := store.ListStatusLog(context.Background(), "c-1")
	if len(entries) != 1 {
		t.Errorf("Expected 1 log entry, got %d", len(entries))
	}
}

func TestContractHandlerRegenerateOnDraft(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()

	handler, store := newTestHandler(provider)
	seedDraft(t, store)
	router := newTestRouter(handler)

	req := httptest.NewRequest("POST", "/contracts/c-1/sign-url", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestContractHandlerSync(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()
	provider.happyPath()
	provider.responses["DescribeFlowInfo"] = `{"Response":{"RequestId":"req-5","FlowDescInfos":[{"FlowId":"flow-42","FlowStatus":4}]}}`

	handler, store := newTestHandler(provider)
	seedDraft(t, store)
	router := newTestRouter(handler)

	req := httptest.NewRequest("POST", "/contracts/c-1/initiate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Initiate failed: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("POST", "/contracts/c-1/sync", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["status"] != string(model.StatusPendingPartyA) {
		t.Errorf("Expected PENDING_PARTY_A, got %v", body["status"])
	}

	contract, _ := store.GetContract(context.Background(), "c-1")
	if contract.Status != model.StatusPendingPartyA {
		t.Errorf("Expected PENDING_PARTY_A persisted, got %s", contract.Status)
	}
}

func TestContractHandlerGetAndStatusLog(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()

	handler, store := newTestHandler(provider)
	seedDraft(t, store)
	router := newTestRouter(handler)

	req := httptest.NewRequest("GET", "/contracts/c-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/contracts/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/contracts/c-1/status-log", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/contracts/missing/status-log", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown contract log, got %d", w.Code)
	}
}

func TestContractHandlerGetTemplate(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()
	provider.responses["DescribeFlowTemplates"] = `{"Response":{"RequestId":"req-6","Templates":[{"TemplateId":"tmpl-1","TemplateName":"Lease","Components":[{"ComponentId":"comp-1","ComponentName":"amount","ComponentType":"TEXT","ComponentRequired":true}]}]}}`

	handler, _ := newTestHandler(provider)
	router := newTestRouter(handler)

	req := httptest.NewRequest("GET", "/templates/tmpl-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var template service.Template
	if err := json.Unmarshal(w.Body.Bytes(), &template); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if template.ID != "tmpl-1" || len(template.Components) != 1 {
		t.Errorf("Unexpected template %+v", template)
	}
}

func TestContractHandlerGetTemplateMissing(t *testing.T) {
	provider := newFakeProvider()
	defer provider.Close()
	provider.responses["DescribeFlowTemplates"] = `{"Response":{"RequestId":"req-6","Templates":[]}}`

	handler, _ := newTestHandler(provider)
	router := newTestRouter(handler)

	req := httptest.NewRequest("GET", "/templates/tmpl-nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d: %s", w.Code, w.Body.String())
	}
}
