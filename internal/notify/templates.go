// internal/notify/templates.go
package notify

import (
	"bytes"
	"text/template"
)

// ReportReadyData fills the agent notification for a fully processed
// submission. The fields form a closed schema: a template referencing a
// field outside it fails at init, not silently in a sent message.
type ReportReadyData struct {
	ClientName  string
	ClientEmail string
	ClientType  string
	FormID      string
	Summary     string
	ReportURL   string
}

const reportReadySubject = `New {{.ClientType}} intake: {{.ClientName}}`

const reportReadyBody = `A new intake form has been completed.

Client:  {{.ClientName}} <{{.ClientEmail}}>
Type:    {{.ClientType}}
Form:    {{.FormID}}
Report:  {{.ReportURL}}

Qualification summary:

{{.Summary}}
`

var (
	reportReadySubjectTmpl = template.Must(template.New("report-ready-subject").Parse(reportReadySubject))
	reportReadyBodyTmpl    = template.Must(template.New("report-ready-body").Parse(reportReadyBody))
)

// RenderReportReady renders the subject and body for an agent notification.
func RenderReportReady(data ReportReadyData) (subject, body string, err error) {
	var sb, bb bytes.Buffer
	if err := reportReadySubjectTmpl.Execute(&sb, data); err != nil {
		return "", "", err
	}
	if err := reportReadyBodyTmpl.Execute(&bb, data); err != nil {
		return "", "", err
	}
	return sb.String(), bb.String(), nil
}
