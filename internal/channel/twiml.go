package channel

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Minimal TwiML messaging response builder. The twilio-go SDK covers the REST API
// only, so replies to inbound webhooks are rendered here.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlMessage struct {
	XMLName xml.Name `xml:"Message"`
	Body    string   `xml:",chardata"`
}

// RenderMessageReply renders one <Message> per non-empty body. With no bodies it renders
// an empty <Response/>, which tells Twilio not to reply.
func RenderMessageReply(bodies ...string) (string, error) {
	var r twimlResponse
	for _, b := range bodies {
		if strings.TrimSpace(b) == "" {
			continue
		}
		r.Verbs = append(r.Verbs, twimlMessage{Body: b})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
