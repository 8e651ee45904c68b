package services

import (
	"context"
	"errors"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
)

var errMessagingDisabled = errors.New("messaging not configured")

// MessageSender delivers a text message to a customer phone.
type MessageSender interface {
	Send(ctx context.Context, to, body string) (channel string, err error)
}

// TwilioService sends SMS or WhatsApp messages. Numbers in E.164 form go
// over WhatsApp when a WhatsApp sender is configured, everything else is SMS.
type TwilioService struct {
	client       *twilio.RestClient
	fromSMS      string
	fromWhatsApp string
	log          *zap.Logger
}

// NewTwilioService returns nil when credentials are missing so callers can
// treat messaging as optional.
func NewTwilioService(accountSID, authToken, fromSMS, fromWhatsApp string, log *zap.Logger) *TwilioService {
	if accountSID == "" || authToken == "" {
		log.Warn("twilio credentials missing, customer messaging disabled")
		return nil
	}
	return &TwilioService{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		fromSMS:      fromSMS,
		fromWhatsApp: fromWhatsApp,
		log:          log,
	}
}

// Send implements MessageSender.
func (s *TwilioService) Send(_ context.Context, to, body string) (string, error) {
	if s == nil {
		return "", errMessagingDisabled
	}

	channel, recipient, from := s.route(to)
	if from == "" {
		return channel, errMessagingDisabled
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return channel, err
	}
	if resp.Sid != nil {
		s.log.Debug("twilio message sent", zap.String("to", to), zap.String("sid", *resp.Sid), zap.String("channel", channel))
	}
	return channel, nil
}

func (s *TwilioService) route(to string) (channel, recipient, from string) {
	if strings.HasPrefix(to, "+") && s.fromWhatsApp != "" {
		return ChannelWhatsApp, "whatsapp:" + to, "whatsapp:" + s.fromWhatsApp
	}
	return ChannelSMS, to, s.fromSMS
}
