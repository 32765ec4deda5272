package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"engagement-platform/internal/customer"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioAPI is the subset of the Twilio REST surface the dispatcher uses.
type twilioAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// VoiceURL serves TwiML for outbound calls; VoicemailURL for ringless voicemail drops.
	VoiceURL     string
	VoicemailURL string
	// StatusCallbackURL receives call status webhooks (optional).
	StatusCallbackURL string
}

// TwilioDispatcher delivers SMS, calls, and ringless voicemail through Twilio.
type TwilioDispatcher struct {
	api  twilioAPI
	opts TwilioOptions
	log  *slog.Logger
}

func NewTwilioDispatcher(opts TwilioOptions, log *slog.Logger) (*TwilioDispatcher, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, errors.New("channel: twilio account sid and auth token must be provided")
	}
	if opts.FromNumber == "" {
		return nil, errors.New("channel: twilio from number must be provided")
	}
	if log == nil {
		log = slog.Default()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return &TwilioDispatcher{api: client.Api, opts: opts, log: log}, nil
}

func (d *TwilioDispatcher) Send(ctx context.Context, ch customer.Channel, c customer.Customer, p Payload) (Receipt, error) {
	to := strings.TrimSpace(c.Phone)
	if to == "" {
		return Receipt{}, ErrNoAddress
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	switch ch {
	case customer.ChannelSMS:
		return d.sendSMS(to, p)
	case customer.ChannelCall:
		return d.placeCall(to, d.opts.VoiceURL, p, false)
	case customer.ChannelRVM:
		return d.placeCall(to, d.opts.VoicemailURL, p, true)
	default:
		return Receipt{}, fmt.Errorf("%w: %s", ErrUnsupportedChannel, ch)
	}
}

func (d *TwilioDispatcher) sendSMS(to string, p Payload) (Receipt, error) {
	if strings.TrimSpace(p.Body) == "" {
		return Receipt{}, errors.New("channel: sms body required")
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(d.opts.FromNumber)
	params.SetBody(p.Body)

	msg, err := d.api.CreateMessage(params)
	if err != nil {
		d.log.Error("twilio sms failed", "to", to, "action_id", p.ActionID, "err", err)
		return Receipt{}, fmt.Errorf("channel: send sms: %w", err)
	}
	return Receipt{Delivered: true, ExternalID: deref(msg.Sid)}, nil
}

func (d *TwilioDispatcher) placeCall(to, twimlURL string, p Payload, voicemail bool) (Receipt, error) {
	if twimlURL == "" {
		return Receipt{}, errors.New("channel: twiml url not configured")
	}
	u, err := url.Parse(twimlURL)
	if err != nil {
		return Receipt{}, fmt.Errorf("channel: twiml url: %w", err)
	}
	q := u.Query()
	q.Set("action_id", p.ActionID)
	u.RawQuery = q.Encode()

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.opts.FromNumber)
	params.SetUrl(u.String())
	if voicemail {
		// Wait for the greeting to finish so the drop lands after the beep.
		params.SetMachineDetection("DetectMessageEnd")
	}
	if d.opts.StatusCallbackURL != "" {
		params.SetStatusCallback(d.opts.StatusCallbackURL)
	}

	call, err := d.api.CreateCall(params)
	if err != nil {
		d.log.Error("twilio call failed", "to", to, "action_id", p.ActionID, "voicemail", voicemail, "err", err)
		return Receipt{}, fmt.Errorf("channel: place call: %w", err)
	}
	// Queued, not yet delivered; the status webhook reports the outcome.
	return Receipt{Delivered: false, ExternalID: deref(call.Sid)}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
