package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const TypeMailSend = "mail.send"

var (
	ErrInvalidJobType    = errors.New("invalid job type")
	ErrInvalidJobPayload = errors.New("invalid job payload")
)

// MailSendPayload is the outbox payload for one email. Purpose is a free-form
// label ("email_verify", "project_invite", ...) carried for logging only.
type MailSendPayload struct {
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Purpose     string    `json:"purpose,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (p MailSendPayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// DecodeMailSend unmarshals and validates a mail.send payload.
func DecodeMailSend(raw json.RawMessage) (MailSendPayload, error) {
	if len(raw) == 0 {
		return MailSendPayload{}, ErrInvalidJobPayload
	}

	var p MailSendPayload

	if err := json.Unmarshal(raw, &p); err != nil {
		return MailSendPayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if strings.TrimSpace(p.To) == "" || strings.TrimSpace(p.Subject) == "" {
		return MailSendPayload{}, ErrInvalidJobPayload
	}

	return p, nil
}
