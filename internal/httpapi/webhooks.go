package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"engagement-platform/internal/channel"
	"engagement-platform/internal/customer"
	"engagement-platform/internal/orchestrator"
	"engagement-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioWebhooks converts Twilio callbacks to engine calls and writes TwiML.
//
// No business logic here.
type TwilioWebhooks struct {
	Engine *orchestrator.Orchestrator
	Now    func() time.Time
}

// HandleInboundSMS feeds the message to the sender's conversation and replies inline.
// Unknown senders get an empty response so Twilio sends nothing back.
func (h TwilioWebhooks) HandleInboundSMS(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}

	msg, err := channel.ParseTwilioInboundMessage(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	var bodies []string
	reply, err := h.Engine.HandleInbound(c.Request.Context(), orchestrator.Inbound{
		Phone:      msg.From,
		Channel:    customer.ChannelSMS,
		Body:       msg.Body,
		ReceivedAt: h.Now().UTC(),
		ExternalID: msg.MessageSid,
	})
	switch {
	case errors.Is(err, customer.ErrNotFound):
		log.Info("sms from unknown number", "message_sid", msg.MessageSid)
	case err != nil:
		log.Error("inbound sms failed", "message_sid", msg.MessageSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound failed"})
		return
	default:
		bodies = reply.Replies
	}

	twiml, err := channel.RenderMessageReply(bodies...)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleCallStatus records engagement signals from a voice status callback.
func (h TwilioWebhooks) HandleCallStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}

	st, err := channel.ParseTwilioCallStatus(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	recs, err := h.Engine.RecordCallStatus(c.Request.Context(), st, h.Now().UTC())
	if err != nil {
		log.Error("call status failed", "call_sid", st.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call status failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": len(recs)})
}

// RequireTwilioSignature rejects webhook requests whose X-Twilio-Signature does not match.
// baseURL is the public scheme and host Twilio was configured with; the request URI is
// appended to it.
func RequireTwilioSignature(authToken, baseURL string) gin.HandlerFunc {
	validator := twilioclient.NewRequestValidator(authToken)
	baseURL = strings.TrimRight(baseURL, "/")
	return func(c *gin.Context) {
		sig := c.GetHeader("X-Twilio-Signature")
		if sig == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !validator.Validate(baseURL+c.Request.URL.RequestURI(), params, sig) {
			logger.FromGin(c).Warn("twilio signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
