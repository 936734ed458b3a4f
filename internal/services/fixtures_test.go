package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/payments"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/storage"
	"lingocrowd/core/internal/utils"
)

// --- Mocks ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCheckout(ctx context.Context, params payments.CheckoutParams) (*payments.Checkout, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Checkout), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, chargeRef string) error {
	return m.Called(ctx, chargeRef).Error(0)
}

func (m *mockGateway) ExpireCheckout(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockGateway) CreatePayout(ctx context.Context, params payments.PayoutParams) (*payments.Payout, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Payout), args.Error(1)
}

func (m *mockGateway) ParseWebhook(rawBody []byte, signature string) (payments.Event, error) {
	args := m.Called(rawBody, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(payments.Event), args.Error(1)
}

func (m *mockGateway) DecodeStoredEvent(rawBody []byte) (payments.Event, error) {
	args := m.Called(rawBody)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(payments.Event), args.Error(1)
}

type mockVideoStorage struct {
	mock.Mock
}

func (m *mockVideoStorage) PresignVideoUpload(ctx context.Context, kind storage.VideoKind, ownerID, filename, contentType string) (*storage.Upload, error) {
	args := m.Called(ctx, kind, ownerID, filename, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Upload), args.Error(1)
}

func (m *mockVideoStorage) PublicURL(objectKey string) string {
	return "https://cdn.example.com/" + objectKey
}

func (m *mockVideoStorage) OwnsKey(kind storage.VideoKind, ownerID, objectKey string) bool {
	return objectKey == fmt.Sprintf("videos/%s/%s/clip.mp4", kind, ownerID)
}

// recordingTasks remembers what was enqueued.
type recordingTasks struct {
	mu            sync.Mutex
	notifications []utils.SixID
	refunds       []utils.SixID
}

func (r *recordingTasks) EnqueueNotificationEmail(_ context.Context, id utils.SixID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, id)
	return nil
}

func (r *recordingTasks) EnqueueRefundRetry(_ context.Context, id utils.SixID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds = append(r.refunds, id)
	return nil
}

func (r *recordingTasks) refundIDs() []utils.SixID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]utils.SixID(nil), r.refunds...)
}

// --- Environment ---

type testEnv struct {
	db            *mongo.Database
	cfg           *config.Config
	hub           *realtime.Hub
	gateway       *mockGateway
	tasks         *recordingTasks
	settings      ISettingsService
	requests      IRequestService
	conversations IConversationService
	projects      IProjectService
	pledges       IPledgeService
	webhooks      IWebhookService
	notifications INotificationService
	users         IUserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database := utils.SetupTestDB(t, "services")
	require.NoError(t, db.EnsureIndexes(context.Background(), database))

	cfg := &config.Config{
		Currency:           "usd",
		FrontendURL:        "http://localhost:3000",
		PlatformFeePercent: decimal.RequireFromString("0.10"),
		PasswordRegexp:     "^.{8,}$",
		AppName:            "LingoCrowd",
	}
	env := &testEnv{
		db:      database,
		cfg:     cfg,
		hub:     realtime.NewHub(),
		gateway: new(mockGateway),
		tasks:   &recordingTasks{},
	}
	d := NewDispatcher(database, env.hub, env.tasks)
	env.settings = NewSettingsService(database, cfg, nil)
	env.requests = NewRequestService(database, d)
	env.conversations = NewConversationService(database, d, env.requests)
	env.projects = NewProjectService(database, d, env.gateway, env.settings, cfg)
	env.pledges = NewPledgeService(database, d, env.gateway, env.settings, cfg)
	env.webhooks = NewWebhookService(database, d, env.gateway)
	env.notifications = NewNotificationService(database, d)
	env.users = NewUserService(database, cfg)
	return env
}

func (e *testEnv) seedUser(t *testing.T, role models.Role) models.Actor {
	t.Helper()
	now := time.Now().UTC()
	user := &models.User{
		Name:          string(role),
		Role:          role,
		NotifyByEmail: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	user.GenID()
	user.Email = fmt.Sprintf("%s-%s@example.com", role, user.ID)
	_, err := e.db.Collection(models.UsersCollection).InsertOne(context.Background(), user)
	require.NoError(t, err)
	return models.Actor{UserID: user.ID, Role: role}
}

func (e *testEnv) seedRequest(t *testing.T, student models.Actor, in CreateRequestInput) *models.Request {
	t.Helper()
	if in.Title == "" {
		in.Title = "Past tense in Spanish"
	}
	if in.Description == "" {
		in.Description = "Short videos on preterite vs imperfect"
	}
	if in.Language == "" {
		in.Language = "es"
	}
	if in.Level == "" {
		in.Level = "B1"
	}
	if in.Budget == 0 {
		in.Budget = 5000
	}
	req, err := e.requests.CreateRequest(context.Background(), student, in)
	require.NoError(t, err)
	return req
}

func (e *testEnv) seedProject(t *testing.T, teacher models.Actor, goal int64, status models.ProjectStatus) *models.Project {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Project{
		TeacherID:   teacher.UserID,
		Title:       "Preterite in 10 minutes",
		FundingGoal: goal,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, db.InsertOne(context.Background(), e.db.Collection(models.ProjectsCollection), p))
	return p
}

// seedPledge inserts a pledge directly and, for CAPTURED pledges, adds it to funding.
func (e *testEnv) seedPledge(t *testing.T, project *models.Project, student models.Actor, amount int64, status models.PledgeStatus) *models.Pledge {
	t.Helper()
	ctx := context.Background()
	p := &models.Pledge{
		Base:      models.NewBase(),
		ProjectID: project.ID,
		StudentID: student.UserID,
		Amount:    amount,
		Currency:  "usd",
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	p.CheckoutSessionID = "cs_test_" + p.ID.String()
	if status != models.PledgePending {
		p.PaymentIntentID = "pi_test_" + p.ID.String()
	}
	_, err := e.db.Collection(models.PledgesCollection).InsertOne(ctx, p)
	require.NoError(t, err)
	if status == models.PledgeCaptured {
		_, err = e.db.Collection(models.ProjectsCollection).UpdateOne(ctx,
			bson.M{"_id": project.ID}, bson.M{"$inc": bson.M{"current_funding": amount}})
		require.NoError(t, err)
	}
	return p
}

func (e *testEnv) reloadProject(t *testing.T, id utils.SixID) *models.Project {
	t.Helper()
	p, err := findProject(context.Background(), e.db, id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) reloadPledge(t *testing.T, id utils.SixID) *models.Pledge {
	t.Helper()
	p, err := findPledge(context.Background(), e.db, id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) reloadRequest(t *testing.T, id utils.SixID) *models.Request {
	t.Helper()
	r, err := findRequest(context.Background(), e.db, id)
	require.NoError(t, err)
	return r
}

func (e *testEnv) countNotifications(t *testing.T, userID utils.SixID, nt models.NotificationType) int64 {
	t.Helper()
	n, err := e.db.Collection(models.NotificationsCollection).CountDocuments(context.Background(),
		bson.M{"user_id": userID, "type": nt})
	require.NoError(t, err)
	return n
}

func (e *testEnv) count(t *testing.T, collection string, filter bson.M) int64 {
	t.Helper()
	n, err := e.db.Collection(collection).CountDocuments(context.Background(), filter)
	require.NoError(t, err)
	return n
}

// watch subscribes userID to channel on the in-process hub until the test ends.
func (e *testEnv) watch(t *testing.T, userID utils.SixID, channel string) *realtime.Subscriber {
	t.Helper()
	sub := realtime.NewSubscriber(userID)
	require.NoError(t, e.hub.Subscribe(context.Background(), channel, sub))
	t.Cleanup(func() { e.hub.Unsubscribe(context.Background(), channel, sub) })
	return sub
}

// drain collects the event types buffered for sub without blocking.
func drain(sub *realtime.Subscriber) []string {
	var types []string
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return types
			}
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}
