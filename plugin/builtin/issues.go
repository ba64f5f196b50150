package builtin

import (
	"fmt"
	"strings"

	"github.com/safing/extender/plugin/shared"
)

// HighSeverityAlert issues a host alert for every issue with a severity listed
// in the "severities" option, which defaults to "High".
type HighSeverityAlert struct {
	shared.Base
}

var _ shared.IssueHandler = &HighSeverityAlert{}

func newHighSeverityAlert() (*HighSeverityAlert, error) {
	return &HighSeverityAlert{}, nil
}

// NewScanIssue implements shared.IssueHandler.
func (hsa *HighSeverityAlert) NewScanIssue(issue *shared.Issue) error {
	severities := []string{"High"}
	if hsa.Config != nil {
		if configured := hsa.Config.Section(ModuleIssues + ".HighSeverityAlert").GetList("severities"); len(configured) > 0 {
			severities = configured
		}
	}

	for _, severity := range severities {
		if strings.EqualFold(severity, issue.Severity) {
			return hsa.Host.IssueAlert(fmt.Sprintf("%s issue: %s at %s", issue.Severity, issue.Name, issue.URL))
		}
	}
	return nil
}
