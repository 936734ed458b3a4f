package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/models"
)

const DefaultLocale = "en-US"

// genericTemplate covers notification types without a dedicated template.
var genericTemplate = models.EmailTemplate{
	TemplateID: "notification",
	Locale:     DefaultLocale,
	Subject:    "{{.app_name}}: you have a new notification",
	Body:       "Hi {{.name}},\n\n{{.content}}\n\n{{if .link}}Open: {{.link}}\n\n{{end}}You can turn these e-mails off in your settings.",
}

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	string(models.NotifyNewRequest): {
		Subject: "{{.app_name}}: a student asked you for a video",
		Body:    "Hi {{.name}},\n\n{{.content}}\n\nSee the request: {{.link}}",
	},
	string(models.NotifyOfferAccepted): {
		Subject: "{{.app_name}}: your offer was accepted",
		Body:    "Hi {{.name}},\n\n{{.content}}\n\nThe project page: {{.link}}",
	},
	string(models.NotifyProjectFunded): {
		Subject: "{{.app_name}}: your project is fully funded",
		Body:    "Hi {{.name}},\n\n{{.content}}\n\nUpload your videos here: {{.link}}",
	},
	string(models.NotifyConfirmCompletion): {
		Subject: "{{.app_name}}: please confirm the project is complete",
		Body:    "Hi {{.name}},\n\n{{.content}}\n\nConfirm here: {{.link}}",
	},
	string(models.NotifyPayoutSent): {
		Subject: "{{.app_name}}: payout sent",
		Body:    "Hi {{.name}},\n\n{{.content}}",
	},
	string(models.NotifyPledgeRefunded): {
		Subject: "{{.app_name}}: your pledge was refunded",
		Body:    "Hi {{.name}},\n\n{{.content}}\n\n{{.link}}",
	},
	string(models.NotifyProjectOnHold): {
		Subject: "{{.app_name}}: action needed on your payout account",
		Body:    "Hi {{.name}},\n\n{{.content}}\n\n{{.link}}",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error
}

const emailTemplatesCollection = "email_templates"

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(db *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{db: db}
}

// GetTemplate retrieves an email template by ID and locale. Templates missing from the
// database fall back to the built-in ones, and unknown IDs to the generic template.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	var tmpl models.EmailTemplate
	err := s.db.Collection(emailTemplatesCollection).FindOne(ctx, bson.M{
		"template_id": templateID,
		"locale":      locale,
	}).Decode(&tmpl)
	if err == nil {
		return &tmpl, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}

	if def, ok := defaultEmailTemplates[templateID]; ok {
		def.TemplateID = templateID
		def.Locale = locale
		return &def, nil
	}
	generic := genericTemplate
	return &generic, nil
}

// SaveTemplate saves an email template to the database
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	if _, _, err := RenderEmailTemplate(tmpl, nil); err != nil {
		return newValidationError("template", err.Error())
	}
	_, err := s.db.Collection(emailTemplatesCollection).UpdateOne(ctx,
		bson.M{"template_id": tmpl.TemplateID, "locale": tmpl.Locale},
		bson.M{"$set": tmpl},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

// RenderEmailTemplate executes the subject and body of tmpl against data.
func RenderEmailTemplate(tmpl *models.EmailTemplate, data map[string]interface{}) (string, string, error) {
	render := func(name, src string) (string, error) {
		t, err := template.New(name).Option("missingkey=zero").Parse(src)
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("render %s: %w", name, err)
		}
		return buf.String(), nil
	}
	subject, err := render("subject", tmpl.Subject)
	if err != nil {
		return "", "", err
	}
	body, err := render("body", tmpl.Body)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}
