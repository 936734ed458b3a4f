package handlers_test

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/storage"
	"lingocrowd/core/internal/utils"
)

// --- Mocks ---

// MockUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	args := m.Called(ctx, name, email, password, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByStripeAccount(ctx context.Context, accountID string) (*models.User, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) LinkPayoutAccount(ctx context.Context, actor models.Actor, accountID string) error {
	return m.Called(ctx, actor, accountID).Error(0)
}

func (m *MockUserService) SetNotifyByEmail(ctx context.Context, userID utils.SixID, enabled bool) error {
	return m.Called(ctx, userID, enabled).Error(0)
}

func (m *MockUserService) DeleteAccount(ctx context.Context, actor models.Actor, userID utils.SixID) error {
	return m.Called(ctx, actor, userID).Error(0)
}

// MockRequestService
type MockRequestService struct {
	mock.Mock
}

func (m *MockRequestService) CreateRequest(ctx context.Context, actor models.Actor, in services.CreateRequestInput) (*models.Request, error) {
	args := m.Called(ctx, actor, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Request), args.Error(1)
}

func (m *MockRequestService) GetRequest(ctx context.Context, viewer *models.Actor, requestID utils.SixID) (*models.Request, error) {
	args := m.Called(ctx, viewer, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Request), args.Error(1)
}

func (m *MockRequestService) ListRequests(ctx context.Context, viewer *models.Actor, filter services.RequestFilter) ([]models.Request, error) {
	args := m.Called(ctx, viewer, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Request), args.Error(1)
}

func (m *MockRequestService) CancelRequest(ctx context.Context, actor models.Actor, requestID utils.SixID) error {
	return m.Called(ctx, actor, requestID).Error(0)
}

func (m *MockRequestService) ClaimRequest(ctx context.Context, actor models.Actor, requestID utils.SixID) (*models.Project, error) {
	args := m.Called(ctx, actor, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

// MockConversationService
type MockConversationService struct {
	mock.Mock
}

func (m *MockConversationService) CreateConversation(ctx context.Context, actor models.Actor, requestID utils.SixID) (*models.Conversation, bool, error) {
	args := m.Called(ctx, actor, requestID)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.Conversation), args.Bool(1), args.Error(2)
}

func (m *MockConversationService) GetConversation(ctx context.Context, actor models.Actor, conversationID utils.SixID) (*models.Conversation, error) {
	args := m.Called(ctx, actor, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockConversationService) MakeOffer(ctx context.Context, actor models.Actor, conversationID utils.SixID, terms services.ProjectTerms) (*models.Message, error) {
	args := m.Called(ctx, actor, conversationID, terms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockConversationService) AcceptOffer(ctx context.Context, actor models.Actor, messageID utils.SixID) (*models.Project, error) {
	args := m.Called(ctx, actor, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockConversationService) RejectOffer(ctx context.Context, actor models.Actor, messageID utils.SixID) error {
	return m.Called(ctx, actor, messageID).Error(0)
}

func (m *MockConversationService) LeaveConversation(ctx context.Context, actor models.Actor, conversationID utils.SixID) error {
	return m.Called(ctx, actor, conversationID).Error(0)
}

func (m *MockConversationService) SendMessage(ctx context.Context, actor models.Actor, conversationID utils.SixID, in services.SendMessageInput) (*models.Message, error) {
	args := m.Called(ctx, actor, conversationID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockConversationService) ListMessages(ctx context.Context, actor models.Actor, conversationID utils.SixID, limit int64) ([]models.Message, error) {
	args := m.Called(ctx, actor, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockConversationService) Inbox(ctx context.Context, actor models.Actor) (*services.Inbox, error) {
	args := m.Called(ctx, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Inbox), args.Error(1)
}

// MockProjectService
type MockProjectService struct {
	mock.Mock
}

func (m *MockProjectService) CreateProject(ctx context.Context, actor models.Actor, in services.CreateProjectInput) (*models.Project, error) {
	args := m.Called(ctx, actor, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockProjectService) GetProject(ctx context.Context, projectID utils.SixID) (*models.Project, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockProjectService) ListProjects(ctx context.Context, filter services.ProjectFilter) ([]models.Project, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Project), args.Error(1)
}

func (m *MockProjectService) CompleteProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error {
	return m.Called(ctx, actor, projectID).Error(0)
}

func (m *MockProjectService) ConfirmCompletion(ctx context.Context, actor models.Actor, projectID utils.SixID) (*models.Project, error) {
	args := m.Called(ctx, actor, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockProjectService) CancelProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error {
	return m.Called(ctx, actor, projectID).Error(0)
}

func (m *MockProjectService) ResumeProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error {
	return m.Called(ctx, actor, projectID).Error(0)
}

// MockPledgeService
type MockPledgeService struct {
	mock.Mock
}

func (m *MockPledgeService) InitiatePledge(ctx context.Context, actor models.Actor, projectID utils.SixID, amount int64) (*services.PledgeCheckout, error) {
	args := m.Called(ctx, actor, projectID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PledgeCheckout), args.Error(1)
}

func (m *MockPledgeService) FindByID(ctx context.Context, pledgeID utils.SixID) (*models.Pledge, error) {
	args := m.Called(ctx, pledgeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Pledge), args.Error(1)
}

func (m *MockPledgeService) ListMyPledges(ctx context.Context, actor models.Actor) ([]models.Pledge, error) {
	args := m.Called(ctx, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Pledge), args.Error(1)
}

func (m *MockPledgeService) RefundPledge(ctx context.Context, pledgeID utils.SixID) error {
	return m.Called(ctx, pledgeID).Error(0)
}

// MockVideoService
type MockVideoService struct {
	mock.Mock
}

func (m *MockVideoService) RequestUpload(ctx context.Context, actor models.Actor, projectID utils.SixID, filename, contentType string) (*storage.Upload, error) {
	args := m.Called(ctx, actor, projectID, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Upload), args.Error(1)
}

func (m *MockVideoService) RequestDemoUpload(ctx context.Context, actor models.Actor, conversationID utils.SixID, filename, contentType string) (*storage.Upload, error) {
	args := m.Called(ctx, actor, conversationID, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Upload), args.Error(1)
}

func (m *MockVideoService) ConfirmUpload(ctx context.Context, actor models.Actor, projectID utils.SixID, objectKey, title string) (*models.Video, error) {
	args := m.Called(ctx, actor, projectID, objectKey, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Video), args.Error(1)
}

func (m *MockVideoService) ListVideos(ctx context.Context, projectID utils.SixID) ([]models.Video, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Video), args.Error(1)
}

func (m *MockVideoService) CountVideos(ctx context.Context, projectID utils.SixID) (int64, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVideoService) AddComment(ctx context.Context, actor models.Actor, videoID utils.SixID, content string) (*models.VideoComment, error) {
	args := m.Called(ctx, actor, videoID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VideoComment), args.Error(1)
}

func (m *MockVideoService) ListComments(ctx context.Context, videoID utils.SixID) ([]models.VideoComment, error) {
	args := m.Called(ctx, videoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.VideoComment), args.Error(1)
}

// MockRatingService
type MockRatingService struct {
	mock.Mock
}

func (m *MockRatingService) RateProject(ctx context.Context, actor models.Actor, projectID utils.SixID, rating int, comment string) (*models.ProjectRating, error) {
	args := m.Called(ctx, actor, projectID, rating, comment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProjectRating), args.Error(1)
}

func (m *MockRatingService) ListRatings(ctx context.Context, projectID utils.SixID) ([]models.ProjectRating, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProjectRating), args.Error(1)
}

// MockNotificationService
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) Create(ctx context.Context, userID utils.SixID, nt models.NotificationType, content, link string) (*models.Notification, error) {
	args := m.Called(ctx, userID, nt, content, link)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Notification), args.Error(1)
}

func (m *MockNotificationService) FindByID(ctx context.Context, id utils.SixID) (*models.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Notification), args.Error(1)
}

func (m *MockNotificationService) ListForUser(ctx context.Context, userID utils.SixID, unreadOnly bool, limit int64) ([]models.Notification, error) {
	args := m.Called(ctx, userID, unreadOnly, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *MockNotificationService) UnreadCount(ctx context.Context, userID utils.SixID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationService) MarkRead(ctx context.Context, actor models.Actor, id utils.SixID) error {
	return m.Called(ctx, actor, id).Error(0)
}

func (m *MockNotificationService) MarkAllRead(ctx context.Context, userID utils.SixID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// MockSettingsService
type MockSettingsService struct {
	mock.Mock
}

func (m *MockSettingsService) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSettingsService) Get(ctx context.Context, key string) (interface{}, error) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Error(1)
}

func (m *MockSettingsService) GetInt64(ctx context.Context, key string, defaultValue int64) int64 {
	return m.Called(ctx, key, defaultValue).Get(0).(int64)
}

func (m *MockSettingsService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockSettingsService) Set(ctx context.Context, key string, value interface{}, isPublic bool) error {
	return m.Called(ctx, key, value, isPublic).Error(0)
}

func (m *MockSettingsService) SubscribeToChanges(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSettingsService) PlatformFeePercent(ctx context.Context) decimal.Decimal {
	return m.Called(ctx).Get(0).(decimal.Decimal)
}

// MockWebhookService
type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	return m.Called(ctx, rawBody, signature).Error(0)
}

func (m *MockWebhookService) ReplayEvent(ctx context.Context, providerEventID string) error {
	return m.Called(ctx, providerEventID).Error(0)
}

func (m *MockWebhookService) ListUnprocessed(ctx context.Context, limit int64) ([]models.WebhookEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.WebhookEvent), args.Error(1)
}
