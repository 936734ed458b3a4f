package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/api/middleware"
	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// access is the minimum caller a method accepts.
type access int

const (
	accessPublic access = iota
	accessUser
	accessStaff
)

type apiMethod struct {
	fn     apiMethodFunc
	access access
}

// Services bundles the service layer the HTTP handlers call into.
type Services struct {
	Users         services.IUserService
	Requests      services.IRequestService
	Conversations services.IConversationService
	Projects      services.IProjectService
	Pledges       services.IPledgeService
	Videos        services.IVideoService
	Ratings       services.IRatingService
	Notifications services.INotificationService
	Settings      services.ISettingsService
	Webhooks      services.IWebhookService
}

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg     *config.Config
	svc     Services
	methods map[string]apiMethod
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(cfg *config.Config, svc Services) *JsonApiHandler {
	h := &JsonApiHandler{cfg: cfg, svc: svc}
	h.methods = map[string]apiMethod{
		"ping": {h.ping, accessPublic},

		// account
		"register":          {h.register, accessPublic},
		"login":             {h.login, accessPublic},
		"refreshToken":      {h.refreshToken, accessUser},
		"linkPayoutAccount": {h.linkPayoutAccount, accessUser},
		"setNotifyByEmail":  {h.setNotifyByEmail, accessUser},
		"deleteAccount":     {h.deleteAccount, accessUser},

		// negotiation
		"createRequest":      {h.createRequest, accessUser},
		"cancelRequest":      {h.cancelRequest, accessUser},
		"claimRequest":       {h.claimRequest, accessUser},
		"createConversation": {h.createConversation, accessUser},
		"sendMessage":        {h.sendMessage, accessUser},
		"makeOffer":          {h.makeOffer, accessUser},
		"acceptOffer":        {h.acceptOffer, accessUser},
		"rejectOffer":        {h.rejectOffer, accessUser},
		"leaveConversation":  {h.leaveConversation, accessUser},
		"getInbox":           {h.getInbox, accessUser},

		// funding
		"createProject":      {h.createProject, accessUser},
		"completeProject":    {h.completeProject, accessUser},
		"confirmCompletion":  {h.confirmCompletion, accessUser},
		"cancelProject":      {h.cancelProject, accessUser},
		"resumeProject":      {h.resumeProject, accessUser},
		"initiatePledge":     {h.initiatePledge, accessUser},
		"requestVideoUpload": {h.requestVideoUpload, accessUser},
		"requestDemoUpload":  {h.requestDemoUpload, accessUser},
		"confirmVideoUpload": {h.confirmVideoUpload, accessUser},
		"addVideoComment":    {h.addVideoComment, accessUser},
		"rateProject":        {h.rateProject, accessUser},

		// notifications
		"markNotificationRead":     {h.markNotificationRead, accessUser},
		"markAllNotificationsRead": {h.markAllNotificationsRead, accessUser},

		// staff
		"setSetting":         {h.setSetting, accessStaff},
		"refundPledge":       {h.refundPledge, accessStaff},
		"replayWebhookEvent": {h.replayWebhookEvent, accessStaff},
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api.
// The caller, if any, has already been identified by OptionalAuthMiddleware.
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, NewApiError("Failed to read request body"))
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, NewApiError("Invalid JSON request format"))
		return
	}

	method, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, NewApiError(fmt.Sprintf("Unknown method: %s", req.Method)))
		return
	}
	if apiErr := h.checkAccess(c, method.access); apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}

	result, apiErr := method.fn(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}
	h.sendSuccessResponse(c, result)
}

func (h *JsonApiHandler) checkAccess(c *gin.Context, required access) *ApiError {
	if required == accessPublic {
		return nil
	}
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return &ApiError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: "Authentication required"}
	}
	if required == accessStaff && !actor.Role.IsStaff() {
		return &ApiError{Status: http.StatusForbidden, Code: CodeForbidden, Message: "Staff privileges required"}
	}
	return nil
}

// actor is only called from methods that checkAccess has already guarded.
func actor(c *gin.Context) models.Actor {
	a, _ := middleware.ActorFromContext(c)
	return a
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, apiErr *ApiError) {
	c.JSON(apiErr.status(), JsonApiResponse{Success: false, Error: apiErr.Message, Code: apiErr.Code})
}

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return "pong", nil
}

// parseRequiredSingleArgFromArray takes the raw JSON message for 'arguments',
// expects it to be a JSON array with at least one element,
// and unmarshals that first element into targetVarPtr.
func parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}
	var argArray []json.RawMessage
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}
	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}
	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

// parseIDArg reads a single ID argument: ["<id>"].
func parseIDArg(args json.RawMessage, name string) (utils.SixID, *ApiError) {
	var raw string
	if apiErr := parseRequiredSingleArgFromArray(args, &raw); apiErr != nil {
		return utils.SixID{}, apiErr
	}
	id, err := utils.ParseSixID(raw)
	if err != nil {
		return utils.SixID{}, NewApiError(fmt.Sprintf("Invalid %s format", name))
	}
	return id, nil
}

// fail logs unexpected errors and turns every error into an ApiError.
func fail(method string, err error) *ApiError {
	apiErr := FromServiceError(err)
	if apiErr.Code == CodeInternal {
		log.Printf("ERROR: %s failed: %v", method, err)
	}
	return apiErr
}
