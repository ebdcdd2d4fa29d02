// ABOUTME: Tagged union of action payloads keyed by action_type
// ABOUTME: Decodes raw action_payload JSON and validates each variant's required fields

package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Payload is one variant of the action payload union.
type Payload interface {
	// Type returns the action_type discriminator of the variant.
	Type() Type
	// Body returns the human-facing text carried by the action.
	Body() string
}

// DMSend is the payload of a social direct message.
type DMSend struct {
	RecipientID string `json:"recipient_id" validate:"notblank"`
	Message     string `json:"message" validate:"notblank"`
}

func (p *DMSend) Type() Type   { return TypeDMSend }
func (p *DMSend) Body() string { return p.Message }

// EmailSend is the payload of a transactional email. Body is Markdown unless
// HTML is supplied.
type EmailSend struct {
	To      string `json:"to" validate:"notblank,email"`
	Subject string `json:"subject" validate:"notblank"`
	Text    string `json:"body" validate:"notblank"`
	HTML    string `json:"html,omitempty"`
	From    string `json:"from,omitempty"`
	ReplyTo string `json:"reply_to,omitempty" validate:"omitempty,email"`
}

func (p *EmailSend) Type() Type   { return TypeEmailSend }
func (p *EmailSend) Body() string { return p.Text }

// WebsiteReply is a reply posted into the website chat widget.
type WebsiteReply struct {
	Message   string `json:"message" validate:"notblank"`
	VisitorID string `json:"visitor_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (p *WebsiteReply) Type() Type   { return TypeWebsiteReply }
func (p *WebsiteReply) Body() string { return p.Message }

// ContentRender asks the render pipelines to produce finished content.
type ContentRender struct {
	JobID        string         `json:"job_id,omitempty"`
	Text         string         `json:"text" validate:"notblank"`
	Instructions map[string]any `json:"instructions,omitempty"`
}

func (p *ContentRender) Type() Type   { return TypeContentRender }
func (p *ContentRender) Body() string { return p.Text }

// ValidationError reports a payload that cannot be dispatched. It is a
// caller error and is never recorded as a provider failure.
type ValidationError struct {
	Type     Type
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Type, strings.Join(e.Problems, "; "))
}

// Invalid builds a ValidationError with a single problem.
func Invalid(t Type, format string, args ...any) *ValidationError {
	return &ValidationError{Type: t, Problems: []string{fmt.Sprintf(format, args...)}}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("registering notblank validation: %v", err))
	}
	return v
}

// Decode performs the discriminated match on t, unmarshals raw into the
// matching variant and validates it.
func Decode(t Type, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case TypeDMSend:
		p = &DMSend{}
	case TypeEmailSend:
		p = &EmailSend{}
	case TypeWebsiteReply:
		p = &WebsiteReply{}
	case TypeContentRender:
		p = &ContentRender{}
	default:
		return nil, Invalid(t, "unknown action_type %q", t)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, Invalid(t, "action_payload is empty")
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, Invalid(t, "action_payload is not a valid %s object: %v", t, err)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the variant's required-field contract.
func Validate(p Payload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Invalid(p.Type(), "%v", err)
	}
	ve := &ValidationError{Type: p.Type()}
	for _, fe := range fieldErrs {
		ve.Problems = append(ve.Problems, describeFieldError(fe))
	}
	return ve
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
