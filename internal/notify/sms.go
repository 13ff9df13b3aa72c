package notify

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/aininja-pro/cora-voice/internal/dedup"
)

// maxSMSLen caps messages at two SMS segments.
const maxSMSLen = 320

// templates are code-defined for now. Every template ends with the opt-out
// notice required for compliance.
var templates = map[string]string{
	"showing_confirm": "CORA here: your showing at {address} is set for {when}. Reply C to confirm, R to reschedule. Reply STOP to opt out.",
	"agent_summary":   "Summary: {summary}. Reply STOP to opt out.",
	"lead_captured":   "New lead: {name}, {phone}. Reply STOP to opt out.",
	"missed_call":     "You missed a call. Reply CALL to ring back. Reply STOP to opt out.",
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)
var digitsRe = regexp.MustCompile(`\D`)

// Sender delivers templated SMS through Twilio. Duplicate sends of the same
// rendered message to the same number are suppressed for a fixed window.
type Sender struct {
	client *twilio.RestClient
	from   string
	sent   *dedup.ContentCache
}

type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

func NewSender(cfg Config) *Sender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Sender{
		client: client,
		from:   cfg.FromNumber,
		sent:   dedup.NewContentCache(5 * time.Minute),
	}
}

// RenderTemplate fills {placeholders} from payload and truncates to two SMS
// segments. Unknown templates and missing variables are errors.
func RenderTemplate(name string, payload map[string]string) (string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("notify: unknown template %q", name)
	}
	var missing []string
	msg := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := payload[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("notify: missing template variables: %s", strings.Join(missing, ", "))
	}
	if len(msg) > maxSMSLen {
		msg = msg[:maxSMSLen-3] + "..."
	}
	return msg, nil
}

// NormalizePhone coerces a US number into E.164.
func NormalizePhone(phone string) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(phone), "+") {
		digits := digitsRe.ReplaceAllString(phone, "")
		if len(digits) < 11 {
			return "", fmt.Errorf("notify: invalid phone number: %s", phone)
		}
		return "+" + digits, nil
	}
	digits := digitsRe.ReplaceAllString(phone, "")
	switch len(digits) {
	case 10:
		return "+1" + digits, nil
	case 11:
		if digits[0] == '1' {
			return "+" + digits, nil
		}
	}
	return "", fmt.Errorf("notify: invalid phone number: %s", phone)
}

// Send renders and delivers one templated message. A repeat of the same
// message to the same number within the suppression window is dropped.
func (s *Sender) Send(to, template string, payload map[string]string) error {
	if s.from == "" {
		return fmt.Errorf("notify: SMS sender number not configured")
	}
	normalized, err := NormalizePhone(to)
	if err != nil {
		return err
	}
	body, err := RenderTemplate(template, payload)
	if err != nil {
		return err
	}
	if !s.sent.Admit(normalized + "|" + body) {
		log.Printf("notify: suppressed duplicate SMS to %s (%s)", normalized, template)
		return nil
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(normalized)
	params.SetFrom(s.from)
	params.SetBody(body)
	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("notify: send SMS: %w", err)
	}
	return nil
}
