package models

// EmailTemplate is the e-mail rendering of one notification type. Subject and Body are
// text/template sources.
type EmailTemplate struct {
	TemplateID string `bson:"template_id" json:"template_id"`
	Locale     string `bson:"locale" json:"locale"`
	Subject    string `bson:"subject" json:"subject"`
	Body       string `bson:"body" json:"body"`
}
