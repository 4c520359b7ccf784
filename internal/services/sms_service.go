package services

import (
	"context"
	"fmt"

	"campuspay/internal/models"
	"campuspay/internal/utils"
)

type smsSender interface {
	SendSMS(ctx context.Context, to, text string) (*utils.SendSMSResponse, error)
}

// SMSService texts the new user's mobile number after signup.
type SMSService struct {
	client smsSender
}

func NewSMSService(client smsSender) *SMSService {
	return &SMSService{client: client}
}

func (s *SMSService) NotifySignup(ctx context.Context, user *models.User) error {
	if user.Mobile == "" {
		return nil
	}
	text := fmt.Sprintf("Welcome to CampusPay, %s! Your %s account is ready.", user.Name, user.Role)
	if _, err := s.client.SendSMS(ctx, utils.FormatPhoneE164(user.Mobile), text); err != nil {
		return fmt.Errorf("welcome sms: %w", err)
	}
	return nil
}
