package notify

import (
	"fmt"
	"html"
	"time"
)

const smsMaxLen = 160

// Message is the rendered, channel-ready form of an Event.
type Message struct {
	Subject   string
	EmailHTML string
	SMS       string
}

// Render builds the patient-facing texts for an event. appName is used as the
// sender signature.
func Render(ev Event, appName string) (Message, error) {
	when := formatWhen(ev.Date, ev.Time)
	name := html.EscapeString(ev.PatientName)
	specialty := html.EscapeString(ev.Specialty)

	var m Message
	switch ev.Type {
	case EventAppointmentConfirmed:
		m.Subject = fmt.Sprintf("Appointment confirmed - %s", appName)
		m.EmailHTML = fmt.Sprintf(
			"<h1>Hello, %s!</h1><p>Your appointment has been <strong>confirmed</strong>.</p>"+
				"<ul><li><strong>Specialty:</strong> %s</li><li><strong>When:</strong> %s</li></ul>",
			name, specialty, html.EscapeString(when))
		m.SMS = fmt.Sprintf("Dear patient, your appointment on %s has been CONFIRMED. %s.", when, appName)
	case EventAppointmentCancelled:
		m.Subject = fmt.Sprintf("Appointment cancelled - %s", appName)
		m.EmailHTML = fmt.Sprintf(
			"<h1>Hello, %s.</h1><p>Your %s appointment on %s has been <strong>cancelled</strong>.</p>",
			name, specialty, html.EscapeString(when))
		m.SMS = fmt.Sprintf("Dear patient, your appointment on %s has been CANCELLED. Contact support for details. %s.", when, appName)
	case EventAppointmentRescheduled:
		m.Subject = fmt.Sprintf("Appointment rescheduled - %s", appName)
		m.EmailHTML = fmt.Sprintf(
			"<h1>Hello, %s.</h1><p>Your %s appointment has been <strong>rescheduled</strong> to %s.</p>",
			name, specialty, html.EscapeString(when))
		m.SMS = fmt.Sprintf("Dear patient, your appointment was RESCHEDULED to %s. %s.", when, appName)
	default:
		return Message{}, fmt.Errorf("unknown event type %q", ev.Type)
	}

	m.SMS = truncateSMS(m.SMS)
	return m, nil
}

func formatWhen(date, clock string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date + " " + clock
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return d.Format("02/01/2006") + " " + clock
	}
	return d.Format("02/01/2006") + " at " + t.Format("03:04 PM")
}

func truncateSMS(s string) string {
	r := []rune(s)
	if len(r) <= smsMaxLen {
		return s
	}
	return string(r[:smsMaxLen-3]) + "..."
}
