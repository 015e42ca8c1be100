// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/peyk-io/peyk/app/dto"
	businessflow "github.com/peyk-io/peyk/business_flow"
	"github.com/peyk-io/peyk/utils"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	StartCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	StopCampaign(c fiber.Ctx) error
	RetryFailed(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	campaignFlow businessflow.CampaignControlFlow
	validator    *validator.Validate
}

func (h *CampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignControlFlow) *CampaignHandler {
	return &CampaignHandler{
		campaignFlow: campaignFlow,
		validator:    validator.New(),
	}
}

// CreateCampaign handles the campaign creation process
// @Summary Create Campaign
// @Description Create a new campaign with messages, recipients, pacing and optional schedule
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body dto.CreateCampaignRequest true "Campaign creation data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateCampaignResponse} "Campaign created successfully"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Account not found or inactive"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest

	// Parse request body
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request format", "INVALID_REQUEST_FORMAT", nil)
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		validationErrors := make(map[string]string)
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors[err.Field()] = getValidationErrorMessage(err)
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	// Client metadata
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))

	result, err := h.campaignFlow.CreateCampaign(h.createRequestContext(c, "/api/v1/campaigns"), &req, metadata)
	if err != nil {
		if businessflow.IsAccountNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Account not found", "ACCOUNT_NOT_FOUND", nil)
		}
		if businessflow.IsAccountInactive(err) {
			return h.ErrorResponse(c, fiber.StatusForbidden, "Account is inactive", "ACCOUNT_INACTIVE", nil)
		}
		if businessflow.IsValidationError(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR", nil)
		}

		log.Println("Campaign creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// StartCampaign handles starting campaign delivery
// @Summary Start Campaign
// @Description Begin delivering a created or scheduled campaign
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ControlActionResponse} "Campaign started"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign already running or channel busy"
// @Failure 422 {object} dto.APIResponse "Channel not connected"
// @Failure 429 {object} dto.APIResponse "Daily quota exhausted"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid}/start [post]
func (h *CampaignHandler) StartCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	result, err := h.campaignFlow.StartCampaign(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/start"), campaignUUID)
	if err != nil {
		return h.controlErrorResponse(c, "Failed to start campaign", "CAMPAIGN_START_FAILED", err)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign started", result)
}

// PauseCampaign handles pausing a running campaign
// @Summary Pause Campaign
// @Description Pause delivery of a running campaign, retaining its position
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ControlActionResponse} "Campaign paused"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign not running"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid}/pause [post]
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	result, err := h.campaignFlow.PauseCampaign(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/pause"), campaignUUID)
	if err != nil {
		return h.controlErrorResponse(c, "Failed to pause campaign", "CAMPAIGN_PAUSE_FAILED", err)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign paused", result)
}

// ResumeCampaign handles resuming a paused campaign
// @Summary Resume Campaign
// @Description Resume delivery of a paused campaign from its saved position
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ControlActionResponse} "Campaign resumed"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign not paused"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid}/resume [post]
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	result, err := h.campaignFlow.ResumeCampaign(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/resume"), campaignUUID)
	if err != nil {
		return h.controlErrorResponse(c, "Failed to resume campaign", "CAMPAIGN_RESUME_FAILED", err)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign resumed", result)
}

// StopCampaign handles stopping a campaign permanently
// @Summary Stop Campaign
// @Description Stop a campaign permanently; it cannot be resumed afterwards
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ControlActionResponse} "Campaign stopped"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign already in a terminal state"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid}/stop [post]
func (h *CampaignHandler) StopCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	result, err := h.campaignFlow.StopCampaign(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/stop"), campaignUUID)
	if err != nil {
		return h.controlErrorResponse(c, "Failed to stop campaign", "CAMPAIGN_STOP_FAILED", err)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign stopped", result)
}

// RetryFailed handles re-queuing failed recipients of a completed campaign
// @Summary Retry Failed Recipients
// @Description Re-queue failed recipients of a completed campaign for another delivery attempt
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.RetryFailedResponse} "Retry run started"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 409 {object} dto.APIResponse "Campaign still running or nothing to retry"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid}/retry-failed [post]
func (h *CampaignHandler) RetryFailed(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	result, err := h.campaignFlow.RetryFailed(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/retry-failed"), campaignUUID)
	if err != nil {
		if businessflow.IsNoFailedRecipients(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Campaign has no failed recipients", "NO_FAILED_RECIPIENTS", nil)
		}
		return h.controlErrorResponse(c, "Failed to retry campaign", "CAMPAIGN_RETRY_FAILED", err)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Retry run started", result)
}

// GetCampaign returns a campaign with its progress, schedule and failed recipients
// @Summary Get Campaign
// @Description Retrieve a campaign with delivery progress, schedule days and failed recipients
// @Tags Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.GetCampaignResponse} "Campaign retrieved"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns/{uuid} [get]
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	result, err := h.campaignFlow.GetCampaign(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID), campaignUUID)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}

		log.Println("Get campaign failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to retrieve campaign", "GET_CAMPAIGN_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// ListCampaigns returns a paginated list of an account's campaigns
// @Summary List Campaigns
// @Description List an account's campaigns with pagination and optional filters
// @Tags Campaigns
// @Produce json
// @Param account_uuid query string true "Account UUID"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(10)
// @Param orderby query string false "Sort order: newest or oldest" default(newest)
// @Param title query string false "Filter by title substring"
// @Param status query string false "Filter by status"
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignsResponse} "Campaigns retrieved"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Account not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	// Parse query params
	pageStr := c.Query("page", "1")
	limitStr := c.Query("limit", "10")
	page := 1
	if v, err := strconv.Atoi(pageStr); err == nil && v > 0 {
		page = v
	}
	limit := 10
	if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	orderby := c.Query("orderby", "newest")
	title := c.Query("title")
	status := c.Query("status")

	accountUUID := c.Query("account_uuid")
	if accountUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Account UUID is required", "MISSING_ACCOUNT_UUID", nil)
	}

	// Build request DTO
	var filter *dto.ListCampaignsFilter
	if title != "" || status != "" {
		filter = &dto.ListCampaignsFilter{}
		if title != "" {
			filter.Title = &title
		}
		if status != "" {
			filter.Status = &status
		}
	}
	req := &dto.ListCampaignsRequest{
		AccountUUID: accountUUID,
		Page:        page,
		Limit:       limit,
		OrderBy:     orderby,
		Filter:      filter,
	}

	if err := h.validator.Struct(req); err != nil {
		validationErrors := make(map[string]string)
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors[err.Field()] = getValidationErrorMessage(err)
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.campaignFlow.ListCampaigns(h.createRequestContext(c, "/api/v1/campaigns"), req)
	if err != nil {
		if businessflow.IsAccountNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Account not found", "ACCOUNT_NOT_FOUND", nil)
		}

		log.Println("List campaigns failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list campaigns", "LIST_CAMPAIGNS_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", result)
}

// controlErrorResponse maps lifecycle control errors to HTTP responses shared by
// the start, pause, resume, stop and retry endpoints.
func (h *CampaignHandler) controlErrorResponse(c fiber.Ctx, message, errorCode string, err error) error {
	if businessflow.IsCampaignNotFound(err) {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	}
	if businessflow.IsCampaignAlreadyRunning(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is already running", "CAMPAIGN_ALREADY_RUNNING", nil)
	}
	if businessflow.IsChannelInUse(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Channel session is busy with another campaign", "CHANNEL_IN_USE", nil)
	}
	if businessflow.IsCampaignNotRunning(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is not running", "CAMPAIGN_NOT_RUNNING", nil)
	}
	if businessflow.IsCampaignNotPaused(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is not paused", "CAMPAIGN_NOT_PAUSED", nil)
	}
	if businessflow.IsCampaignTerminal(err) || businessflow.IsIllegalStatusTransition(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is in a terminal state", "CAMPAIGN_TERMINAL", nil)
	}
	if businessflow.IsNoPendingRecipients(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign has no pending recipients", "NO_PENDING_RECIPIENTS", nil)
	}
	if businessflow.IsChannelNotConnected(err) {
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Channel session is not connected", "CHANNEL_NOT_CONNECTED", nil)
	}
	if businessflow.IsDailyQuotaExhausted(err) {
		return h.ErrorResponse(c, fiber.StatusTooManyRequests, "Daily sending quota exhausted", "DAILY_QUOTA_EXHAUSTED", nil)
	}
	if businessflow.IsAccountNotFound(err) {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Account not found", "ACCOUNT_NOT_FOUND", nil)
	}

	log.Println(message, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, errorCode, nil)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *CampaignHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

// createRequestContextWithTimeout creates a context with custom timeout and request-scoped values
func (h *CampaignHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
