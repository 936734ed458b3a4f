package handlers

import (
	"encoding/json"
	"log"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

func (h *JsonApiHandler) createProject(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var in services.CreateProjectInput
	if apiErr := parseRequiredSingleArgFromArray(args, &in); apiErr != nil {
		return nil, apiErr
	}
	project, err := h.svc.Projects.CreateProject(c.Request.Context(), actor(c), in)
	if err != nil {
		return nil, fail("createProject", err)
	}
	return project, nil
}

func (h *JsonApiHandler) completeProject(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	projectID, apiErr := parseIDArg(args, "project_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Projects.CompleteProject(c.Request.Context(), actor(c), projectID); err != nil {
		return nil, fail("completeProject", err)
	}
	return true, nil
}

func (h *JsonApiHandler) confirmCompletion(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	projectID, apiErr := parseIDArg(args, "project_id")
	if apiErr != nil {
		return nil, apiErr
	}
	project, err := h.svc.Projects.ConfirmCompletion(c.Request.Context(), actor(c), projectID)
	if err != nil {
		return nil, fail("confirmCompletion", err)
	}
	log.Printf("Project %s completed, transfer %s", project.ID, project.StripeTransferID)
	return project, nil
}

func (h *JsonApiHandler) cancelProject(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	projectID, apiErr := parseIDArg(args, "project_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Projects.CancelProject(c.Request.Context(), actor(c), projectID); err != nil {
		return nil, fail("cancelProject", err)
	}
	return true, nil
}

func (h *JsonApiHandler) resumeProject(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	projectID, apiErr := parseIDArg(args, "project_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Projects.ResumeProject(c.Request.Context(), actor(c), projectID); err != nil {
		return nil, fail("resumeProject", err)
	}
	return true, nil
}

type InitiatePledgeArgs struct {
	ProjectID utils.SixID `json:"project_id"`
	Amount    int64       `json:"amount"`
}

func (h *JsonApiHandler) initiatePledge(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs InitiatePledgeArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ProjectID.IsZero() {
		return nil, NewApiError("project_id is required")
	}
	checkout, err := h.svc.Pledges.InitiatePledge(c.Request.Context(), actor(c), reqArgs.ProjectID, reqArgs.Amount)
	if err != nil {
		return nil, fail("initiatePledge", err)
	}
	return checkout, nil
}

type VideoUploadArgs struct {
	ProjectID      utils.SixID `json:"project_id"`
	ConversationID utils.SixID `json:"conversation_id"`
	Filename       string      `json:"filename"`
	ContentType    string      `json:"content_type"`
}

func (h *JsonApiHandler) requestVideoUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs VideoUploadArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ProjectID.IsZero() {
		return nil, NewApiError("project_id is required")
	}
	upload, err := h.svc.Videos.RequestUpload(c.Request.Context(), actor(c), reqArgs.ProjectID, reqArgs.Filename, reqArgs.ContentType)
	if err != nil {
		return nil, fail("requestVideoUpload", err)
	}
	return upload, nil
}

// requestDemoUpload presigns a demo clip that the teacher then links in a message.
func (h *JsonApiHandler) requestDemoUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs VideoUploadArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ConversationID.IsZero() {
		return nil, NewApiError("conversation_id is required")
	}
	upload, err := h.svc.Videos.RequestDemoUpload(c.Request.Context(), actor(c), reqArgs.ConversationID, reqArgs.Filename, reqArgs.ContentType)
	if err != nil {
		return nil, fail("requestDemoUpload", err)
	}
	return upload, nil
}

type ConfirmVideoUploadArgs struct {
	ProjectID utils.SixID `json:"project_id"`
	ObjectKey string      `json:"object_key"`
	Title     string      `json:"title"`
}

func (h *JsonApiHandler) confirmVideoUpload(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ConfirmVideoUploadArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ProjectID.IsZero() || reqArgs.ObjectKey == "" {
		return nil, NewApiError("project_id and object_key are required")
	}
	video, err := h.svc.Videos.ConfirmUpload(c.Request.Context(), actor(c), reqArgs.ProjectID, reqArgs.ObjectKey, reqArgs.Title)
	if err != nil {
		return nil, fail("confirmVideoUpload", err)
	}
	return video, nil
}

type VideoCommentArgs struct {
	VideoID utils.SixID `json:"video_id"`
	Content string      `json:"content"`
}

func (h *JsonApiHandler) addVideoComment(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs VideoCommentArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.VideoID.IsZero() {
		return nil, NewApiError("video_id is required")
	}
	comment, err := h.svc.Videos.AddComment(c.Request.Context(), actor(c), reqArgs.VideoID, reqArgs.Content)
	if err != nil {
		return nil, fail("addVideoComment", err)
	}
	return comment, nil
}

type RateProjectArgs struct {
	ProjectID utils.SixID `json:"project_id"`
	Rating    int         `json:"rating"`
	Comment   string      `json:"comment"`
}

func (h *JsonApiHandler) rateProject(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RateProjectArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.ProjectID.IsZero() {
		return nil, NewApiError("project_id is required")
	}
	rating, err := h.svc.Ratings.RateProject(c.Request.Context(), actor(c), reqArgs.ProjectID, reqArgs.Rating, reqArgs.Comment)
	if err != nil {
		return nil, fail("rateProject", err)
	}
	return rating, nil
}

func (h *JsonApiHandler) markNotificationRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	notificationID, apiErr := parseIDArg(args, "notification_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Notifications.MarkRead(c.Request.Context(), actor(c), notificationID); err != nil {
		return nil, fail("markNotificationRead", err)
	}
	return true, nil
}

func (h *JsonApiHandler) markAllNotificationsRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	n, err := h.svc.Notifications.MarkAllRead(c.Request.Context(), actor(c).UserID)
	if err != nil {
		return nil, fail("markAllNotificationsRead", err)
	}
	return n, nil
}
