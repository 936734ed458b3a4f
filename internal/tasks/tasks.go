package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/email"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeNotificationEmail = "notification:email"
	TypeRefundRetry       = "pledge:refund:retry"
	TypeFundingAudit      = "funding:audit"
)

const (
	queueCritical = "critical"
	queueDefault  = "default"
	queueLow      = "low"
)

// FundingAuditSchedule runs the drift check once a night.
const FundingAuditSchedule = "30 3 * * *"

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// --- Task Client (Enqueuing tasks) ---

// NotificationPayload names the notification to e-mail.
type NotificationPayload struct {
	NotificationID string `json:"notification_id"`
}

// RefundPayload names the pledge whose refund is retried.
type RefundPayload struct {
	PledgeID string `json:"pledge_id"`
}

// Client enqueues background work. It satisfies services.TaskEnqueuer.
type Client struct {
	client *asynq.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{client: asynq.NewClient(redisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueNotificationEmail(ctx context.Context, notificationID utils.SixID) error {
	payload, err := json.Marshal(NotificationPayload{NotificationID: notificationID.String()})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeNotificationEmail, payload, asynq.MaxRetry(5), asynq.Queue(queueDefault))
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// EnqueueRefundRetry queues one refund attempt per pledge; a retry already waiting for
// the same pledge is not duplicated.
func (c *Client) EnqueueRefundRetry(ctx context.Context, pledgeID utils.SixID) error {
	payload, err := json.Marshal(RefundPayload{PledgeID: pledgeID.String()})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeRefundRetry, payload,
		asynq.MaxRetry(20),
		asynq.Queue(queueCritical),
		asynq.TaskID("refund-"+pledgeID.String()),
		asynq.ProcessIn(time.Minute))
	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueFundingAudit runs the drift check now instead of waiting for the schedule.
func (c *Client) EnqueueFundingAudit(ctx context.Context) error {
	_, err := c.client.EnqueueContext(ctx, asynq.NewTask(TypeFundingAudit, nil, asynq.Queue(queueLow), asynq.MaxRetry(1)))
	return err
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	db                   *mongo.Database
	emailSender          email.Sender
	notificationService  services.INotificationService
	userService          services.IUserService
	pledgeService        services.IPledgeService
	emailTemplateService services.IEmailTemplateService
}

func NewTaskProcessor(
	cfg *config.Config,
	database *mongo.Database,
	emailSender email.Sender,
	notificationService services.INotificationService,
	userService services.IUserService,
	pledgeService services.IPledgeService,
	emailTemplateService services.IEmailTemplateService,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		db:                   database,
		emailSender:          emailSender,
		notificationService:  notificationService,
		userService:          userService,
		pledgeService:        pledgeService,
		emailTemplateService: emailTemplateService,
	}
}

// NewServeMux registers every task handler.
func NewServeMux(processor *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotificationEmail, processor.HandleNotificationEmailTask)
	mux.HandleFunc(TypeRefundRetry, processor.HandleRefundRetryTask)
	mux.HandleFunc(TypeFundingAudit, processor.HandleFundingAuditTask)
	return mux
}

// SetupServer starts the task server in the background and returns it for shutdown.
func SetupServer(cfg *config.Config, processor *TaskProcessor) (*asynq.Server, error) {
	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Queues: map[string]int{
				queueCritical: 6,
				queueDefault:  3,
				queueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)
	if err := srv.Start(NewServeMux(processor)); err != nil {
		return nil, fmt.Errorf("could not start asynq server: %w", err)
	}
	log.Println("Registered background task handlers.")
	return srv, nil
}

// SetupScheduler registers the periodic tasks and starts the scheduler.
func SetupScheduler(cfg *config.Config) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt(cfg), &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := scheduler.Register(FundingAuditSchedule, asynq.NewTask(TypeFundingAudit, nil, asynq.Queue(queueLow), asynq.MaxRetry(1)))
	if err != nil {
		return nil, fmt.Errorf("could not register funding audit: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("could not start asynq scheduler: %w", err)
	}
	log.Printf("Scheduled funding audit (%s) as entry %s", FundingAuditSchedule, entryID)
	return scheduler, nil
}

// skipIfPermanent stops retries for errors a later attempt cannot fix.
func skipIfPermanent(err error) error {
	var nf *services.NotFoundError
	var valErr *services.ValidationError
	if errors.As(err, &nf) || errors.As(err, &valErr) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// --- Task Handlers ---

// HandleNotificationEmailTask mails a persisted notification to a user who wants e-mail.
func (p *TaskProcessor) HandleNotificationEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notification task payload: %v: %w", err, asynq.SkipRetry)
	}
	notificationID, err := utils.ParseSixID(payload.NotificationID)
	if err != nil {
		return fmt.Errorf("invalid notification ID %q: %w", payload.NotificationID, asynq.SkipRetry)
	}

	n, err := p.notificationService.FindByID(ctx, notificationID)
	if err != nil {
		return skipIfPermanent(err)
	}
	if n.IsRead {
		return nil
	}
	user, err := p.userService.FindByID(ctx, n.UserID)
	if err != nil {
		return skipIfPermanent(err)
	}
	if !user.NotifyByEmail {
		return nil
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, string(n.Type), services.DefaultLocale)
	if err != nil {
		return err
	}
	link := n.Link
	if link != "" && strings.HasPrefix(link, "/") {
		link = strings.TrimRight(p.cfg.FrontendURL, "/") + link
	}
	subject, body, err := services.RenderEmailTemplate(tmpl, map[string]interface{}{
		"name":     user.Name,
		"content":  n.Content,
		"link":     link,
		"app_name": p.cfg.AppName,
	})
	if err != nil {
		log.Printf("Template %s/%s does not render: %v", tmpl.TemplateID, tmpl.Locale, err)
		return fmt.Errorf("email template broken: %w", asynq.SkipRetry)
	}

	rawMessage := email.BuildMessage(p.cfg.SmtpFromAddress, user.Email, subject, body)
	if err := p.emailSender.Send(ctx, []string{user.Email}, subject, rawMessage); err != nil {
		return fmt.Errorf("failed to send notification %s: %w", n.ID, err)
	}
	log.Printf("Notification %s (%s) e-mailed to user %s", n.ID, n.Type, user.ID)
	return nil
}

// HandleRefundRetryTask retries the gateway refund of a pledge whose refund failed earlier.
// A pledge that is no longer CAPTURED has been refunded meanwhile.
func (p *TaskProcessor) HandleRefundRetryTask(ctx context.Context, t *asynq.Task) error {
	var payload RefundPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal refund task payload: %v: %w", err, asynq.SkipRetry)
	}
	pledgeID, err := utils.ParseSixID(payload.PledgeID)
	if err != nil {
		return fmt.Errorf("invalid pledge ID %q: %w", payload.PledgeID, asynq.SkipRetry)
	}

	err = p.pledgeService.RefundPledge(ctx, pledgeID)
	var pre *services.PreconditionError
	if errors.As(err, &pre) {
		log.Printf("Refund retry of pledge %s skipped: %v", pledgeID, err)
		return nil
	}
	if err != nil {
		log.Printf("Refund retry of pledge %s failed: %v", pledgeID, err)
		return skipIfPermanent(err)
	}
	log.Printf("Pledge %s refunded on retry", pledgeID)
	return nil
}

// HandleFundingAuditTask logs projects whose stored funding disagrees with their
// captured pledges and refunds pledges still held by cancelled projects. It never
// rewrites funding; that is left to the operator CLI.
func (p *TaskProcessor) HandleFundingAuditTask(ctx context.Context, t *asynq.Task) error {
	drifts, err := services.AuditFunding(ctx, p.db, false)
	if err != nil {
		return err
	}
	log.Printf("Funding audit finished, %d project(s) drifted", len(drifts))

	owed, err := services.OwedRefunds(ctx, p.db)
	if err != nil {
		return err
	}
	for _, pledgeID := range owed {
		err := p.pledgeService.RefundPledge(ctx, pledgeID)
		var pre *services.PreconditionError
		switch {
		case err == nil:
			log.Printf("Owed refund of pledge %s issued by the audit", pledgeID)
		case errors.As(err, &pre):
		default:
			log.Printf("Owed refund of pledge %s failed: %v", pledgeID, err)
		}
	}
	return nil
}
