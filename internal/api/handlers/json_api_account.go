package handlers

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/auth"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

type RegisterArgs struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string      `json:"token"`
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

func (h *JsonApiHandler) issueToken(user *models.User) (interface{}, *ApiError) {
	token, err := auth.GenerateJWT(user.ID, user.Role, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for user %s: %v", user.ID, err)
		return nil, fail("issueToken", err)
	}
	return AuthResponse{Token: token, ID: user.ID.String(), Email: user.Email, Role: user.Role}, nil
}

func (h *JsonApiHandler) register(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RegisterArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	user, err := h.svc.Users.Register(c.Request.Context(), reqArgs.Name, reqArgs.Email, reqArgs.Password, models.Role(reqArgs.Role))
	if err != nil {
		return nil, fail("register", err)
	}
	log.Printf("Registered %s %s", user.Role, user.ID)
	return h.issueToken(user)
}

// login answers false for unknown e-mails and wrong passwords alike.
func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	user, err := h.svc.Users.Authenticate(c.Request.Context(), reqArgs.Email, reqArgs.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		return false, nil
	}
	if err != nil {
		return nil, fail("login", err)
	}
	return h.issueToken(user)
}

// refreshToken re-reads the user so a changed role takes effect.
func (h *JsonApiHandler) refreshToken(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	user, err := h.svc.Users.FindByID(c.Request.Context(), actor(c).UserID)
	if err != nil {
		return nil, fail("refreshToken", err)
	}
	token, err := auth.GenerateJWT(user.ID, user.Role, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		return nil, fail("refreshToken", err)
	}
	return token, nil
}

func (h *JsonApiHandler) linkPayoutAccount(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var accountID string
	if apiErr := parseRequiredSingleArgFromArray(args, &accountID); apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Users.LinkPayoutAccount(c.Request.Context(), actor(c), accountID); err != nil {
		return nil, fail("linkPayoutAccount", err)
	}
	return true, nil
}

func (h *JsonApiHandler) setNotifyByEmail(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var enabled bool
	if apiErr := parseRequiredSingleArgFromArray(args, &enabled); apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Users.SetNotifyByEmail(c.Request.Context(), actor(c).UserID, enabled); err != nil {
		return nil, fail("setNotifyByEmail", err)
	}
	return enabled, nil
}

// deleteAccount deletes the caller's own account, or, for staff, the account named by
// the optional argument.
func (h *JsonApiHandler) deleteAccount(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	a := actor(c)
	target := a.UserID
	var argArray []json.RawMessage
	if len(args) > 0 && json.Unmarshal(args, &argArray) == nil && len(argArray) > 0 {
		id, apiErr := parseIDArg(args, "user_id")
		if apiErr != nil {
			return nil, apiErr
		}
		target = id
	}
	if err := h.svc.Users.DeleteAccount(c.Request.Context(), a, target); err != nil {
		return nil, fail("deleteAccount", err)
	}
	log.Printf("Account %s deleted by %s", target, a.UserID)
	return true, nil
}

type SetSettingArgs struct {
	Key      string      `json:"key"`
	Value    interface{} `json:"value"`
	IsPublic bool        `json:"is_public"`
}

func (h *JsonApiHandler) setSetting(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SetSettingArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.Key == "" {
		return nil, NewApiError("Setting key is required")
	}
	if err := h.svc.Settings.Set(c.Request.Context(), reqArgs.Key, reqArgs.Value, reqArgs.IsPublic); err != nil {
		return nil, fail("setSetting", err)
	}
	log.Printf("Setting %s changed by %s", reqArgs.Key, actor(c).UserID)
	return true, nil
}

func (h *JsonApiHandler) refundPledge(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	pledgeID, apiErr := parseIDArg(args, "pledge_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.svc.Pledges.RefundPledge(c.Request.Context(), pledgeID); err != nil {
		return nil, fail("refundPledge", err)
	}
	return true, nil
}

func (h *JsonApiHandler) replayWebhookEvent(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var eventID string
	if apiErr := parseRequiredSingleArgFromArray(args, &eventID); apiErr != nil {
		return nil, apiErr
	}
	err := h.svc.Webhooks.ReplayEvent(c.Request.Context(), eventID)
	if errors.Is(err, services.ErrReplayNoop) {
		return "noop", nil
	}
	if err != nil {
		return nil, fail("replayWebhookEvent", err)
	}
	return "applied", nil
}

// idString is used in log lines where an optional id may be absent.
func idString(id *utils.SixID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}
