package handlers

import (
	"encoding/json"
	"log"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

func (h *JsonApiHandler) createRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in services.CreateRequestInput
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	a := actor(c)
	req, err := h.svc.Requests.CreateRequest(c.Request.Context(), a, in)
	if err != nil {
		return nil, fail("createRequest", err)
	}
	log.Printf("Request %s created by %s (target %s)", req.ID, a.UserID, idString(in.TargetTeacherID))
	return req, nil
}

func (h *JsonApiHandler) cancelRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	requestID, apiErr := parseIDArg(args, "request_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Requests.CancelRequest(c.Request.Context(), actor(c), requestID); err != nil {
		return nil, fail("cancelRequest", err)
	}
	return true, nil
}

// claimRequest converts a request straight into a project at the request's budget.
func (h *JsonApiHandler) claimRequest(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	requestID, apiErr := parseIDArg(args, "request_id")
	if apiErr != nil {
		return nil, apiErr
	}
	project, err := h.svc.Requests.ClaimRequest(c.Request.Context(), actor(c), requestID)
	if err != nil {
		return nil, fail("claimRequest", err)
	}
	return project, nil
}

// CreateConversationResponse tells the teacher whether an existing conversation was reused.
type CreateConversationResponse struct {
	Conversation interface{} `json:"conversation"`
	Created      bool        `json:"created"`
}

func (h *JsonApiHandler) createConversation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	requestID, apiErr := parseIDArg(args, "request_id")
	if apiErr != nil {
		return nil, apiErr
	}
	conv, created, err := h.svc.Conversations.CreateConversation(c.Request.Context(), actor(c), requestID)
	if err != nil {
		return nil, fail("createConversation", err)
	}
	return CreateConversationResponse{Conversation: conv, Created: created}, nil
}

type SendMessageArgs struct {
	ConversationID utils.SixID `json:"conversation_id"`
	services.SendMessageInput
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SendMessageArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ConversationID.IsZero() {
		return nil, NewApiError("conversation_id is required")
	}
	msg, err := h.svc.Conversations.SendMessage(c.Request.Context(), actor(c), reqArgs.ConversationID, reqArgs.SendMessageInput)
	if err != nil {
		return nil, fail("sendMessage", err)
	}
	return msg, nil
}

type MakeOfferArgs struct {
	ConversationID utils.SixID `json:"conversation_id"`
	services.ProjectTerms
}

func (h *JsonApiHandler) makeOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs MakeOfferArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ConversationID.IsZero() {
		return nil, NewApiError("conversation_id is required")
	}
	msg, err := h.svc.Conversations.MakeOffer(c.Request.Context(), actor(c), reqArgs.ConversationID, reqArgs.ProjectTerms)
	if err != nil {
		return nil, fail("makeOffer", err)
	}
	return msg, nil
}

func (h *JsonApiHandler) acceptOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	messageID, apiErr := parseIDArg(args, "message_id")
	if apiErr != nil {
		return nil, apiErr
	}
	a := actor(c)
	project, err := h.svc.Conversations.AcceptOffer(c.Request.Context(), a, messageID)
	if err != nil {
		return nil, fail("acceptOffer", err)
	}
	log.Printf("Offer %s accepted by %s, project %s", messageID, a.UserID, project.ID)
	return project, nil
}

func (h *JsonApiHandler) rejectOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	messageID, apiErr := parseIDArg(args, "message_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Conversations.RejectOffer(c.Request.Context(), actor(c), messageID); err != nil {
		return nil, fail("rejectOffer", err)
	}
	return true, nil
}

func (h *JsonApiHandler) leaveConversation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	conversationID, apiErr := parseIDArg(args, "conversation_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Conversations.LeaveConversation(c.Request.Context(), actor(c), conversationID); err != nil {
		return nil, fail("leaveConversation", err)
	}
	return true, nil
}

func (h *JsonApiHandler) getInbox(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	inbox, err := h.svc.Conversations.Inbox(c.Request.Context(), actor(c))
	if err != nil {
		return nil, fail("getInbox", err)
	}
	return inbox, nil
}
