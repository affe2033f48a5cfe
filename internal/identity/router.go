// internal/identity/router.go
// Package identity resolves a raw submission to a client identity.
package identity

import (
	"context"
	"fmt"
	"strings"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
)

// Default probe lists. The numeric keys are the fixed field ids of the
// intake form schema; the named keys cover forms built with readable keys.
var (
	DefaultEmailKeys = []string{"2", "email", "contact_email", "e_mail"}
	DefaultNameKeys  = []string{"1", "name", "full_name", "contact_name"}
	DefaultPhoneKeys = []string{"3", "phone", "phone_number", "contact_phone"}
)

// Contact is the identity extracted from a submission's answers.
type Contact struct {
	Email string
	Name  string
	Phone string
}

// Schema is the prioritized field-key schema used for extraction.
type Schema struct {
	EmailKeys []string
	NameKeys  []string
	PhoneKeys []string
}

// DefaultSchema returns the built-in probe lists.
func DefaultSchema() Schema {
	return Schema{
		EmailKeys: DefaultEmailKeys,
		NameKeys:  DefaultNameKeys,
		PhoneKeys: DefaultPhoneKeys,
	}
}

// Merge overlays non-empty override lists onto s.
func (s Schema) Merge(emailKeys, nameKeys, phoneKeys []string) Schema {
	out := s
	if len(emailKeys) > 0 {
		out.EmailKeys = emailKeys
	}
	if len(nameKeys) > 0 {
		out.NameKeys = nameKeys
	}
	if len(phoneKeys) > 0 {
		out.PhoneKeys = phoneKeys
	}
	return out
}

// Router extracts contact details from submissions and resolves them to
// existing clients.
type Router struct {
	store  store.Store
	logger logger.Logger
}

func NewRouter(st store.Store, log logger.Logger) *Router {
	return &Router{
		store:  st,
		logger: log.WithFields(map[string]interface{}{"component": "identity-router"}),
	}
}

// Extract probes the answers map with the schema's ordered key lists. If no
// email is resolvable the submission is a permanent skip and an
// IDENTITY_UNRESOLVABLE error is returned; name and phone are best-effort.
func (r *Router) Extract(sub models.Submission, schema Schema) (Contact, error) {
	contact := Contact{
		Email: probe(sub.Answers, schema.EmailKeys),
		Name:  probe(sub.Answers, schema.NameKeys),
		Phone: probe(sub.Answers, schema.PhoneKeys),
	}

	contact.Email = strings.ToLower(strings.TrimSpace(contact.Email))
	if contact.Email == "" || !strings.Contains(contact.Email, "@") {
		return Contact{}, stderrors.NewIdentityUnresolvableError(sub.ID)
	}

	contact.Name = strings.TrimSpace(contact.Name)
	contact.Phone = strings.TrimSpace(contact.Phone)
	return contact, nil
}

// Resolve looks up an existing client for the contact. The boolean reports
// whether the pipeline should route to "create" (true) or "update" (false).
func (r *Router) Resolve(ctx context.Context, contact Contact, clientType string) (*models.Client, bool, error) {
	client, err := r.store.GetClientByEmail(ctx, contact.Email, clientType)
	if err == store.ErrNotFound {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, stderrors.NewDatabaseQueryFailedError("client", err)
	}
	return client, false, nil
}

func probe(answers map[string]models.Answer, keys []string) string {
	for _, key := range keys {
		ans, ok := answers[key]
		if !ok {
			continue
		}
		if v := answerString(ans.Answer); v != "" {
			return v
		}
	}
	return ""
}

func answerString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	case float64, int, int64:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	default:
		return ""
	}
}
