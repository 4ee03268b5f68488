package helpers

import (
	"fmt"

	"github.com/oksasatya/student-records-api/pkg/mailer"
	mailtpl "github.com/oksasatya/student-records-api/pkg/mailer/templates"
)

// SubjectFor picks a subject for a templated job that did not set one.
func SubjectFor(job mailer.EmailJob) string {
	if job.Subject != "" {
		return job.Subject
	}
	switch job.Template {
	case mailtpl.StudentWelcome:
		return "Welcome, your student account is ready"
	case mailtpl.ProfileUpdated:
		return "Your student profile was updated"
	default:
		return "Notification"
	}
}

// EnsureRecipientAndEmail makes sure the template data knows who it is addressed to.
func EnsureRecipientAndEmail(job *mailer.EmailJob) {
	if job.Data == nil {
		job.Data = map[string]any{}
	}
	if v, ok := job.Data["Email"]; !ok || fmt.Sprintf("%v", v) == "" {
		job.Data["Email"] = job.To
	}
}
