// Package email sends account and lead notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/Masterminds/sprig/v3"
)

const appName = "Color & Craft"

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	boundary := "colorcraft-boundary"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// LeadData describes a contact form submission.
type LeadData struct {
	AppName   string
	Name      string
	Email     string
	Phone     string
	Message   string
	Source    string
	ManageURL string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{AppName: appName, UserName: userName, VerificationURL: verificationURL}
	html, err := render("verification", data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nVerify your %s account: %s\n\nThe link expires in 24 hours.", userName, appName, verificationURL)
	return s.SendHTMLEmail([]string{to}, "Verify your "+appName+" account", text, html)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL}
	html, err := render("reset", data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nReset your password: %s\n\nThe link expires in 1 hour.", userName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", text, html)
}

// SendLeadNotification tells the shop about a new website enquiry.
func (s *Service) SendLeadNotification(to string, lead LeadData) error {
	lead.AppName = appName
	html, err := render("lead", lead)
	if err != nil {
		return fmt.Errorf("render lead template: %w", err)
	}
	text := fmt.Sprintf("New enquiry from %s <%s>\nPhone: %s\n\n%s", lead.Name, lead.Email, lead.Phone, lead.Message)
	return s.SendHTMLEmail([]string{to}, "New enquiry from "+lead.Name, text, html)
}

// SendContactAcknowledgement confirms receipt to the person who filled in
// the contact form.
func (s *Service) SendContactAcknowledgement(to, name string) error {
	html, err := render("ack", LeadData{AppName: appName, Name: name})
	if err != nil {
		return fmt.Errorf("render acknowledgement template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nThanks for getting in touch with %s. We will reply within two working days.", name, appName)
	return s.SendHTMLEmail([]string{to}, "We received your message", text, html)
}

var templates = template.Must(template.New("email").Funcs(sprig.HtmlFuncMap()).Parse(layout))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layout = `
{{define "head"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.6; color: #3b2f2a; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #a0522d; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #a0522d; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #777; }
        .link { word-break: break-all; color: #a0522d; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
{{end}}

{{define "foot"}}
</body>
</html>{{end}}

{{define "verification"}}{{template "head" .}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Please verify your email address to activate your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer"><p>If you didn't create an account with {{.AppName}}, you can ignore this email.</p></div>
{{template "foot"}}{{end}}

{{define "reset"}}{{template "head" .}}
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password.</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p class="link">{{.ResetURL}}</p>
    <p><strong>Important:</strong> This reset link will expire in 1 hour.</p>
    <div class="footer"><p>If you didn't request a reset, your password will remain unchanged.</p></div>
{{template "foot"}}{{end}}

{{define "lead"}}{{template "head" .}}
    <h2>New enquiry</h2>
    <p><strong>{{.Name}}</strong> &lt;{{.Email}}&gt;{{if .Phone}} · {{.Phone}}{{end}}</p>
    <p>Source: {{.Source | default "website"}}</p>
    <blockquote>{{with .Message}}{{trunc 2000 .}}{{else}}(no message){{end}}</blockquote>
    {{if .ManageURL}}<p><a href="{{.ManageURL}}" class="button">Open in dashboard</a></p>{{end}}
{{template "foot"}}{{end}}

{{define "ack"}}{{template "head" .}}
    <h2>Thanks, {{.Name | title}}!</h2>
    <p>We received your message and will reply within two working days.</p>
    <div class="footer"><p>{{.AppName}} · Furniture restoration</p></div>
{{template "foot"}}{{end}}
`
