package services

import (
	"context"
	"fmt"

	"depthguard/models"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioChannel delivers emergency notifications over SMS or voice call
// through Twilio. It implements interfaces.NotificationChannel for the
// "sms" and "phone" methods.
type TwilioChannel struct {
	client     *twilio.RestClient
	fromNumber string
	voiceURL   string // TwiML endpoint that reads the message aloud
}

func NewTwilioChannel(accountSID, authToken, fromNumber, voiceURL string) *TwilioChannel {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioChannel{
		client:     client,
		fromNumber: fromNumber,
		voiceURL:   voiceURL,
	}
}

// Send delivers the message to the contact. Phone dispatch places a voice
// call; anything else goes out as SMS.
func (tc *TwilioChannel) Send(ctx context.Context, contact models.EmergencyContact, method, message string) error {
	if contact.Phone == "" {
		return fmt.Errorf("contact %s has no phone number", contact.ID)
	}

	if method == models.MethodPhone && tc.voiceURL != "" {
		return tc.placeCall(contact, message)
	}
	return tc.sendSMS(contact, message)
}

func (tc *TwilioChannel) sendSMS(contact models.EmergencyContact, message string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo(contact.Phone)
	params.SetFrom(tc.fromNumber)
	params.SetBody(message)

	resp, err := tc.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio sms to %s: %w", contact.Name, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	logrus.WithFields(logrus.Fields{
		"contact": contact.Name,
		"sid":     sid,
	}).Info("sms dispatched")
	return nil
}

func (tc *TwilioChannel) placeCall(contact models.EmergencyContact, message string) error {
	params := &openapi.CreateCallParams{}
	params.SetTo(contact.Phone)
	params.SetFrom(tc.fromNumber)
	params.SetUrl(tc.voiceURL)

	resp, err := tc.client.Api.CreateCall(params)
	if err != nil {
		return fmt.Errorf("twilio call to %s: %w", contact.Name, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	logrus.WithFields(logrus.Fields{
		"contact": contact.Name,
		"sid":     sid,
	}).Info("voice call placed")
	return nil
}
