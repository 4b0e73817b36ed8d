package handler

import (
	"errors"
	"net/http"

	"github.com/AnTengye/esignflow/middleware"
	"github.com/AnTengye/esignflow/service"
	"github.com/gin-gonic/gin"
)

type ContractHandler struct {
	orchestrator *service.Orchestrator
	store        service.Store
}

func NewContractHandler(orchestrator *service.Orchestrator, store service.Store) *ContractHandler {
	return &ContractHandler{
		orchestrator: orchestrator,
		store:        store,
	}
}

// Initiate kicks off the signing flow for a draft contract
func (h *ContractHandler) Initiate(c *gin.Context) {
	id := c.Param("id")
	operatorID := middleware.GetOperatorID(c)

	result, err := h.orchestrator.Initiate(c.Request.Context(), id, operatorID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RegenerateSignURL issues a fresh signing link for a pending contract
func (h *ContractHandler) RegenerateSignURL(c *gin.Context) {
	id := c.Param("id")

	result, err := h.orchestrator.RegenerateSignURL(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Sync pulls the provider's flow status and applies any implied transition
func (h *ContractHandler) Sync(c *gin.Context) {
	id := c.Param("id")
	operatorID := middleware.GetOperatorID(c)

	flowStatus, err := h.orchestrator.SyncStatus(c.Request.Context(), id, operatorID)
	if err != nil {
		writeError(c, err)
		return
	}

	contract, err := h.store.GetContract(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          contract.ID,
		"flow_status": flowStatus,
		"status":      contract.Status,
	})
}

// Get returns a single contract
func (h *ContractHandler) Get(c *gin.Context) {
	id := c.Param("id")

	contract, err := h.store.GetContract(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// GetStatusLog returns the status transition history of a contract
func (h *ContractHandler) GetStatusLog(c *gin.Context) {
	id := c.Param("id")

	// Confirm the contract exists so an unknown id is a 404, not an
	// empty list.
	if _, err := h.store.GetContract(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	entries, err := h.store.ListStatusLog(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GetTemplate returns a signing template and its fillable components
func (h *ContractHandler) GetTemplate(c *gin.Context) {
	id := c.Param("id")

	template, err := h.orchestrator.DescribeTemplate(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, template)
}

// writeError maps the service error taxonomy onto HTTP statuses. The
// failing orchestration step, when known, rides along so callers can see
// how far the flow got.
func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}

	var stepErr *service.StepError
	if errors.As(err, &stepErr) {
		body["step"] = stepErr.Step
	}

	var (
		precondErr  *service.PreconditionError
		providerErr *service.ProviderError
		networkErr  *service.NetworkError
		shapeErr    *service.DataShapeError
	)

	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, body)
	case errors.As(err, &precondErr):
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &providerErr):
		if providerErr.RequestID != "" {
			body["provider_request_id"] = providerErr.RequestID
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.As(err, &networkErr), errors.As(err, &shapeErr):
		c.JSON(http.StatusBadGateway, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}
