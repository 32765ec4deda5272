package customer

import "strings"

// Channel is an outbound contact channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelCall  Channel = "call"
	// ChannelRVM is a ringless voicemail drop.
	ChannelRVM Channel = "rvm"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelCall, ChannelRVM:
		return true
	default:
		return false
	}
}

// Customer is the engine's read-only view of a CRM contact.
// The CRM owns the record; the engine never writes it.
type Customer struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Phone string `json:"phone,omitempty" db:"phone"`
	Email string `json:"email,omitempty" db:"email"`

	Industry     string `json:"industry,omitempty" db:"industry"`
	BusinessType string `json:"business_type,omitempty" db:"business_type"`

	PipelineStage string `json:"pipeline_stage" db:"pipeline_stage"`

	DoNotContact bool `json:"do_not_contact" db:"do_not_contact"`

	EmailOptIn bool `json:"email_opt_in" db:"email_opt_in"`
	SMSOptIn   bool `json:"sms_opt_in" db:"sms_opt_in"`
	CallOptIn  bool `json:"call_opt_in" db:"call_opt_in"`

	// Fields carries numeric profile values referenced by conditions (lead_score, ...).
	Fields map[string]float64 `json:"fields,omitempty"`
}

// OptedIn reports the opt-in flag for ch. Ringless voicemail follows the call opt-in.
func (c Customer) OptedIn(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return c.EmailOptIn
	case ChannelSMS:
		return c.SMSOptIn
	case ChannelCall, ChannelRVM:
		return c.CallOptIn
	default:
		return false
	}
}

// Contactable is the outbound gate applied before any condition is evaluated.
func (c Customer) Contactable(ch Channel) bool {
	return !c.DoNotContact && c.OptedIn(ch)
}

// FirstName is used for template personalization.
func (c Customer) FirstName() string {
	name := strings.TrimSpace(c.Name)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// Segment is what specialist matching compares against: industry, else business type.
func (c Customer) Segment() string {
	if c.Industry != "" {
		return c.Industry
	}
	return c.BusinessType
}

// Vars are the template placeholders a customer fills in outbound content.
func (c Customer) Vars() map[string]string {
	return map[string]string{
		"name":          c.Name,
		"first_name":    c.FirstName(),
		"email":         c.Email,
		"phone":         c.Phone,
		"industry":      c.Industry,
		"business_type": c.BusinessType,
	}
}
