package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/auth"
	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/utils"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown e-mail or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// activeProjectStatuses block account deletion: the teacher still owes delivery or holds funds.
var activeProjectStatuses = []models.ProjectStatus{
	models.ProjectFunding,
	models.ProjectSuccessful,
	models.ProjectPendingConfirmation,
	models.ProjectOnHold,
}

// IUserService defines the interface for user-related operations.
type IUserService interface {
	Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByStripeAccount(ctx context.Context, accountID string) (*models.User, error)
	LinkPayoutAccount(ctx context.Context, actor models.Actor, accountID string) error
	SetNotifyByEmail(ctx context.Context, userID utils.SixID, enabled bool) error
	DeleteAccount(ctx context.Context, actor models.Actor, userID utils.SixID) error
}

// userService implements IUserService.
type userService struct {
	db         *mongo.Database
	cfg        *config.Config
	passwordRe *regexp.Regexp
}

// NewUserService creates a new UserService.
func NewUserService(database *mongo.Database, cfg *config.Config) IUserService {
	re, err := regexp.Compile(cfg.PasswordRegexp)
	if err != nil {
		log.Printf("Warning: invalid PASSWORD_REGEXP %q (%v), falling back to minimum length 8", cfg.PasswordRegexp, err)
		re = regexp.MustCompile(`^.{8,}$`)
	}
	return &userService{db: database, cfg: cfg, passwordRe: re}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a student or teacher account. Staff roles are granted out of band.
func (s *userService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newValidationError("name", "is required")
	}
	if !strings.Contains(email, "@") {
		return nil, newValidationError("email", "is not a valid address")
	}
	if role != models.RoleStudent && role != models.RoleTeacher {
		return nil, newValidationError("role", "must be student or teacher")
	}
	if !s.passwordRe.MatchString(password) {
		return nil, newValidationError("password", "does not meet the password policy")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &models.User{
		Name:          name,
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		NotifyByEmail: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = db.InsertOne(ctx, s.db.Collection(models.UsersCollection), user)
	if err != nil {
		if db.IsDuplicateOnIndex(err, db.IndexUserEmail) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to insert user %s: %w", email, err)
	}
	return user, nil
}

// Authenticate checks the password of a live account.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *userService) findOne(ctx context.Context, filter bson.M, what string) (*models.User, error) {
	var user models.User
	filter["deleted"] = false
	err := s.db.Collection(models.UsersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("user")
		}
		return nil, fmt.Errorf("error finding user by %s: %w", what, err)
	}
	return &user, nil
}

func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": userID}, "id "+userID.String())
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": normalizeEmail(email)}, "email")
}

func (s *userService) FindByStripeAccount(ctx context.Context, accountID string) (*models.User, error) {
	if accountID == "" {
		return nil, notFound("user")
	}
	return s.findOne(ctx, bson.M{"stripe_account_id": accountID}, "stripe account "+accountID)
}

// LinkPayoutAccount stores the connected account a teacher is paid out to. The
// account's charge/payout flags arrive later through account.updated webhooks.
func (s *userService) LinkPayoutAccount(ctx context.Context, actor models.Actor, accountID string) error {
	if !actor.Role.CanTeach() {
		return forbidden("link a payout account")
	}
	accountID = strings.TrimSpace(accountID)
	if !strings.HasPrefix(accountID, "acct_") {
		return newValidationError("account_id", "is not a connected account id")
	}
	res, err := s.db.Collection(models.UsersCollection).UpdateOne(ctx,
		bson.M{"_id": actor.UserID, "deleted": false},
		bson.M{"$set": bson.M{"stripe_account_id": accountID, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to link payout account for %s: %w", actor.UserID, err)
	}
	if res.MatchedCount == 0 {
		return notFound("user")
	}
	return nil
}

func (s *userService) SetNotifyByEmail(ctx context.Context, userID utils.SixID, enabled bool) error {
	res, err := s.db.Collection(models.UsersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"notify_by_email": enabled, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to update notification preference for %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return notFound("user")
	}
	return nil
}

// DeleteAccount soft-deletes a user: the document is anonymised in place and every
// reference the user left behind is reassigned to models.DeletedUserID. Refused while
// the user owns a project that is still running.
func (s *userService) DeleteAccount(ctx context.Context, actor models.Actor, userID utils.SixID) error {
	if !actor.Is(userID) && !actor.Role.IsAdmin() {
		return forbidden("delete this account")
	}
	if userID == models.DeletedUserID {
		return newValidationError("user_id", "cannot delete the placeholder account")
	}
	if _, err := s.FindByID(ctx, userID); err != nil {
		return err
	}

	active, err := s.db.Collection(models.ProjectsCollection).CountDocuments(ctx, bson.M{
		"teacher_id": userID,
		"status":     bson.M{"$in": activeProjectStatuses},
	})
	if err != nil {
		return fmt.Errorf("failed to check projects of %s: %w", userID, err)
	}
	if active > 0 {
		return precondition("account", "", "owns running projects; cancel or complete them first")
	}

	now := time.Now().UTC()
	reassign := []struct {
		collection string
		field      string
	}{
		{models.RequestsCollection, "student_id"},
		{models.ConversationsCollection, "student_id"},
		{models.ConversationsCollection, "teacher_id"},
		{models.MessagesCollection, "sender_id"},
		{models.PledgesCollection, "student_id"},
		{models.ProjectsCollection, "teacher_id"},
		{models.VideosCollection, "teacher_id"},
		{models.VideoCommentsCollection, "user_id"},
		{models.NotificationsCollection, "user_id"},
	}
	// Ratings keep the anonymised user: one rating per user and project is unique.

	return db.WithTransaction(ctx, s.db, func(sc mongo.SessionContext) error {
		res, err := s.db.Collection(models.UsersCollection).UpdateOne(sc,
			bson.M{"_id": userID, "deleted": false},
			bson.M{
				"$set": bson.M{
					"name":            "Deleted user",
					"email":           fmt.Sprintf("deleted-%s@deleted.invalid", strings.ToLower(userID.String())),
					"password":        "",
					"notify_by_email": false,
					"charges_enabled": false,
					"payouts_enabled": false,
					"deleted":         true,
					"deleted_at":      now,
					"updated_at":      now,
				},
				"$unset": bson.M{"stripe_customer_id": "", "stripe_account_id": ""},
			})
		if err != nil {
			return fmt.Errorf("failed to anonymise user %s: %w", userID, err)
		}
		if res.MatchedCount == 0 {
			return notFound("user")
		}
		for _, r := range reassign {
			_, err := s.db.Collection(r.collection).UpdateMany(sc,
				bson.M{r.field: userID},
				bson.M{"$set": bson.M{r.field: models.DeletedUserID}})
			if err != nil {
				return fmt.Errorf("failed to reassign %s.%s of %s: %w", r.collection, r.field, userID, err)
			}
		}
		return nil
	})
}

// syncAccountFlags stores the charge/payout flags of a connected account and returns the
// user as it was before the update. ctx may be a SessionContext.
func syncAccountFlags(ctx context.Context, database *mongo.Database, accountID string, chargesEnabled, payoutsEnabled bool) (*models.User, error) {
	var before models.User
	err := database.Collection(models.UsersCollection).FindOneAndUpdate(ctx,
		bson.M{"stripe_account_id": accountID, "deleted": false},
		bson.M{"$set": bson.M{
			"charges_enabled": chargesEnabled,
			"payouts_enabled": payoutsEnabled,
			"updated_at":      time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("user")
		}
		return nil, fmt.Errorf("failed to sync account %s: %w", accountID, err)
	}
	return &before, nil
}
