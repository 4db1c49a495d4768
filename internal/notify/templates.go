// Package notify renders Notification values into the plain-text bodies
// the concrete adapters send, one small text/template per message shape.
// Every adapter shares the same wording so chat, paging summaries, and
// mail bodies stay consistent.
package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/w3f/ack-escalation/internal/alertmodel"
)

var initialTmpl = template.Must(template.New("initial").Parse(
	"Alert occurred:\n{{if .Message}}{{.Message}}{{else}}{{.AlertName}} ({{.Severity}}){{end}}",
))

var escalationTmpl = template.Must(template.New("escalation").Parse(
	"Escalation occurred:\n{{if .Message}}{{.Message}}{{else}}{{.AlertName}} ({{.Severity}}){{end}}",
))

type alertBodyData struct {
	Message   string
	AlertName string
	Severity  string
}

// AlertBody renders the full alert body for the given context, choosing
// the "occurred" wording for tier 0 and "escalation" wording otherwise.
func AlertBody(ctx alertmodel.AlertContext, hasPrev bool) string {
	data := alertBodyData{
		Message:   ctx.Alert.Message(),
		AlertName: ctx.Alert.Labels.AlertName,
		Severity:  ctx.Alert.Labels.Severity,
	}
	tmpl := initialTmpl
	if hasPrev {
		tmpl = escalationTmpl
	}
	var buf bytes.Buffer
	// Templates above are static and trusted; Execute cannot fail here.
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}

// EscalationNotice is the message the previous tier's channel receives
// when escalation moves to the next one.
func EscalationNotice(id alertmodel.AlertId) string {
	return fmt.Sprintf("Escalation occurred! Notifying next room about escalation ID %s", id.String())
}

// AcknowledgedBody is the retro-broadcast message sent to every
// previously-notified channel except the acknowledger's own.
func AcknowledgedBody(id alertmodel.AlertId, ackedBy alertmodel.User) string {
	return fmt.Sprintf("Alert %s was acknowledged by %s", id.String(), ackedBy.Value)
}

// PagingSummary renders the one-line summary PagerDuty-style events use.
func PagingSummary(ctx alertmodel.AlertContext) string {
	if msg := ctx.Alert.Message(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s (%s)", ctx.Alert.Labels.AlertName, ctx.Alert.Labels.Severity)
}

// ConfirmationText renders a UserConfirmation for delivery on any
// text-based channel (chat, mail). Every adapter that answers user
// commands in plain text shares this wording.
func ConfirmationText(c alertmodel.UserConfirmation) string {
	switch c.Kind {
	case alertmodel.ConfirmationPendingAlerts:
		if len(c.Pending) == 0 {
			return "No pending alerts."
		}
		var b strings.Builder
		b.WriteString("Pending alerts:\n")
		for _, ctx := range c.Pending {
			fmt.Fprintf(&b, "%s: %s\n", ctx.Id.String(), PagingSummary(ctx))
		}
		return b.String()
	case alertmodel.ConfirmationNoPermission:
		return "You do not have permission to acknowledge this alert."
	case alertmodel.ConfirmationAlertOutOfScope:
		return "This alert is not in scope for this room."
	case alertmodel.ConfirmationAlertAcknowledged:
		return fmt.Sprintf("Alert %s acknowledged.", c.Id.String())
	case alertmodel.ConfirmationAlertNotFound:
		return fmt.Sprintf("Alert %s not found.", c.Id.String())
	case alertmodel.ConfirmationHelp:
		return "Commands: ack <id>, acknowledge <id>, pending, help"
	default:
		return "Internal error handling your request."
	}
}
