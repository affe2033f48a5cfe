// internal/notify/notifier.go
// Package notify sends agent-facing email through SES and operator alerts
// through SNS.
package notify

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
)

// SESService is the slice of the SES API the notifier uses.
type SESService interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Notifier emails agents when a submission finishes processing. When SES is
// disabled the notifier logs and succeeds so local environments run without
// AWS credentials.
type Notifier struct {
	ses       SESService
	fromEmail string
	enabled   bool
	timeout   time.Duration
	logger    logger.Logger
}

func NewNotifier(svc SESService, fromEmail string, enabled bool, timeout time.Duration, log logger.Logger) *Notifier {
	return &Notifier{
		ses:       svc,
		fromEmail: fromEmail,
		enabled:   enabled,
		timeout:   timeout,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// NotifyReportReady emails the agent that a submission's report is available.
func (n *Notifier) NotifyReportReady(ctx context.Context, agentEmail string, data ReportReadyData) error {
	subject, body, err := RenderReportReady(data)
	if err != nil {
		return stderrors.NewNotificationFailedError(err)
	}

	if !n.enabled {
		n.logger.Info("email sending disabled, skipping agent notification", map[string]interface{}{
			"agentEmail":  agentEmail,
			"clientEmail": data.ClientEmail,
		})
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{agentEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
	}

	if _, err := n.ses.SendEmail(ctx, input); err != nil {
		return stderrors.NewNotificationFailedError(err)
	}

	n.logger.Info("agent notified", map[string]interface{}{
		"agentEmail":  agentEmail,
		"clientEmail": data.ClientEmail,
		"formId":      data.FormID,
	})
	return nil
}
