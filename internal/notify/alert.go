// internal/notify/alert.go
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"intake-engine/internal/common/logger"
)

// SNSService is the slice of the SNS API the alerter uses.
type SNSService interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// DeadLetterAlertData is published to the operator topic when a submission is
// parked after exhausting retries.
type DeadLetterAlertData struct {
	SubmissionID string `json:"submissionId"`
	FormID       string `json:"formId"`
	ClientEmail  string `json:"clientEmail"`
	Stage        string `json:"stage"`
	ErrorCode    string `json:"errorCode"`
	ErrorDetail  string `json:"errorDetail"`
	OccurredAt   string `json:"occurredAt"`
}

// Alerter publishes dead-letter alerts. Alerts are best-effort: failures are
// logged and never propagate into pipeline outcomes.
type Alerter struct {
	sns      SNSService
	topicARN string
	enabled  bool
	logger   logger.Logger
}

func NewAlerter(svc SNSService, topicARN string, enabled bool, log logger.Logger) *Alerter {
	return &Alerter{
		sns:      svc,
		topicARN: topicARN,
		enabled:  enabled,
		logger:   log.WithFields(map[string]interface{}{"component": "alerter"}),
	}
}

// AlertDeadLetter announces that a submission was parked for manual review.
func (a *Alerter) AlertDeadLetter(ctx context.Context, data DeadLetterAlertData) {
	if !a.enabled {
		return
	}
	if data.OccurredAt == "" {
		data.OccurredAt = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		a.logger.Error("failed to marshal dead-letter alert", map[string]interface{}{"error": err.Error()})
		return
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String("Intake submission parked: " + data.SubmissionID),
		Message:  aws.String(string(payload)),
	}
	if _, err := a.sns.Publish(ctx, input); err != nil {
		a.logger.Error("failed to publish dead-letter alert", map[string]interface{}{
			"submissionId": data.SubmissionID,
			"error":        err.Error(),
		})
		return
	}

	a.logger.Info("dead-letter alert published", map[string]interface{}{
		"submissionId": data.SubmissionID,
		"stage":        data.Stage,
	})
}
