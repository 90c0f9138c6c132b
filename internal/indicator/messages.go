package indicator

import (
	"fmt"
	"strings"

	"github.com/rbright/parley/internal/events"
)

const errorTimeoutMS = 3000

// notification is one desktop notification. A zero TimeoutMS keeps it until
// it is replaced or dismissed.
type notification struct {
	Summary   string
	Body      string
	Urgency   urgency
	TimeoutMS int
}

func handoffNotice(req events.TokenRequest) notification {
	body := "Connecting your conversation partner…"
	if issue := strings.TrimSpace(req.Issue); issue != "" {
		body = fmt.Sprintf("Connecting your conversation partner to practice: %s", issue)
	}
	return notification{Summary: "Intake done", Body: body, Urgency: urgencyNormal}
}

func evaluationNotice(eval events.Evaluation) notification {
	body := fmt.Sprintf("Score %.1f (%s)", eval.OverallScore, eval.SkillLevel)
	if summary := strings.TrimSpace(eval.Summary); summary != "" {
		body += "\n" + summary
	}
	return notification{Summary: "Session complete", Body: body, Urgency: urgencyNormal}
}

func failureNotice(data events.ErrorData) notification {
	return notification{
		Summary:   "Session error",
		Body:      data.Message,
		Urgency:   urgencyCritical,
		TimeoutMS: errorTimeoutMS,
	}
}
