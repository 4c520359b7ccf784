package services

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"campuspay/internal/models"
	"campuspay/internal/pdf"
)

// mailer is the part of *gomail.Dialer we use.
type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailService interface {
	OTPSender
	SignupNotifier
}

type emailService struct {
	dialer mailer
	from   string
	admin  string
	slips  pdf.SlipGenerator
	log    *zap.Logger
}

func NewEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail, adminEmail string, slips pdf.SlipGenerator, log *zap.Logger) EmailService {
	dialer := gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)
	return newEmailService(dialer, fromEmail, adminEmail, slips, log)
}

func newEmailService(d mailer, from, admin string, slips pdf.SlipGenerator, log *zap.Logger) *emailService {
	return &emailService{dialer: d, from: from, admin: admin, slips: slips, log: log.Named("email")}
}

func (s *emailService) SendOTP(_ context.Context, email, code string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "CampusPay Signup OTP")
	m.SetBody("text/html", fmt.Sprintf(`<p>Your OTP is: <b>%s</b>. It expires in 5 minutes.</p>`, code))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send otp email: %w", err)
	}
	return nil
}

// NotifySignup sends the welcome email with the registration slip attached.
// The admin address, when configured, is copied.
func (s *emailService) NotifySignup(_ context.Context, user *models.User) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", user.Email)
	if s.admin != "" {
		m.SetHeader("Bcc", s.admin)
	}
	m.SetHeader("Subject", "Welcome to CampusPay!")

	body := fmt.Sprintf(`
		<h2>Welcome to CampusPay, %s!</h2>
		<p>Your %s account has been successfully created.</p>
		<p>Your registration slip is attached.</p>
		<p>Best regards,<br>The CampusPay Team</p>
	`, user.Name, user.Role)
	m.SetBody("text/html", body)

	if s.slips != nil {
		slip, err := s.slips.RegistrationSlip(pdf.SlipData{
			UserID:       user.ID,
			Name:         user.Name,
			Email:        user.Email,
			Mobile:       user.Mobile,
			Role:         string(user.Role),
			Course:       user.Course,
			RegisteredAt: user.CreatedAt,
		})
		if err != nil {
			// send without the attachment
			s.log.Warn("registration slip failed", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			m.Attach("registration.pdf", gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(slip)
				return err
			}))
		}
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}
	return nil
}
