// internal/notify/notifier_test.go
package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
)

// ==========================
// Test Fakes
// ==========================

type fakeSES struct {
	calls []*ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.calls = append(f.calls, input)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{}, nil
}

type fakeSNS struct {
	calls []*sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.calls = append(f.calls, input)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{}, nil
}

func reportData() ReportReadyData {
	return ReportReadyData{
		ClientName:  "Jane Roe",
		ClientEmail: "jane@example.com",
		ClientType:  "buyer",
		FormID:      "form-001",
		Summary:     "Qualified buyer with financing in place.",
		ReportURL:   "https://docs.example.com/report-001",
	}
}

// ==========================
// Template Tests
// ==========================

func TestRenderReportReady(t *testing.T) {
	subject, body, err := RenderReportReady(reportData())
	require.NoError(t, err)

	assert.Equal(t, "New buyer intake: Jane Roe", subject)
	assert.Contains(t, body, "Jane Roe <jane@example.com>")
	assert.Contains(t, body, "https://docs.example.com/report-001")
	assert.Contains(t, body, "Qualified buyer with financing in place.")
}

// ==========================
// Notifier Tests
// ==========================

func TestNotifyReportReady(t *testing.T) {
	svc := &fakeSES{}
	n := NewNotifier(svc, "noreply@example.com", true, time.Second, logger.NewNop())

	require.NoError(t, n.NotifyReportReady(context.Background(), "agent@example.com", reportData()))

	require.Len(t, svc.calls, 1)
	input := svc.calls[0]
	assert.Equal(t, "noreply@example.com", *input.Source)
	assert.Equal(t, []string{"agent@example.com"}, input.Destination.ToAddresses)
	assert.Contains(t, *input.Message.Body.Text.Data, "Jane Roe")
}

func TestNotifyReportReady_SendFailure(t *testing.T) {
	svc := &fakeSES{err: errors.New("throttled")}
	n := NewNotifier(svc, "noreply@example.com", true, time.Second, logger.NewNop())

	err := n.NotifyReportReady(context.Background(), "agent@example.com", reportData())
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeNotificationFailed, stderrors.CodeOf(err))
	assert.True(t, stderrors.IsRetryable(err))
}

func TestNotifyReportReady_Disabled(t *testing.T) {
	svc := &fakeSES{}
	n := NewNotifier(svc, "noreply@example.com", false, time.Second, logger.NewNop())

	require.NoError(t, n.NotifyReportReady(context.Background(), "agent@example.com", reportData()))
	assert.Empty(t, svc.calls)
}

// ==========================
// Alerter Tests
// ==========================

func TestAlertDeadLetter(t *testing.T) {
	svc := &fakeSNS{}
	a := NewAlerter(svc, "arn:aws:sns:us-east-1:000000000000:intake-alerts", true, logger.NewNop())

	a.AlertDeadLetter(context.Background(), DeadLetterAlertData{
		SubmissionID: "sub-001",
		FormID:       "form-001",
		Stage:        "generate_report",
		ErrorCode:    "ARTIFACT_GENERATION_FAILED",
	})

	require.Len(t, svc.calls, 1)
	input := svc.calls[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:intake-alerts", *input.TopicArn)
	assert.Contains(t, *input.Message, `"submissionId":"sub-001"`)
	assert.Contains(t, *input.Message, `"occurredAt"`)
}

func TestAlertDeadLetter_PublishFailureSwallowed(t *testing.T) {
	svc := &fakeSNS{err: errors.New("topic gone")}
	a := NewAlerter(svc, "arn:topic", true, logger.NewNop())

	// Must not panic or propagate.
	a.AlertDeadLetter(context.Background(), DeadLetterAlertData{SubmissionID: "sub-001"})
	assert.Len(t, svc.calls, 1)
}

func TestAlertDeadLetter_Disabled(t *testing.T) {
	svc := &fakeSNS{}
	a := NewAlerter(svc, "arn:topic", false, logger.NewNop())

	a.AlertDeadLetter(context.Background(), DeadLetterAlertData{SubmissionID: "sub-001"})
	assert.Empty(t, svc.calls)
}
