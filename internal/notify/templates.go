package notify

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"os"
	texttemplate "text/template"

	"gopkg.in/yaml.v3"

	"gearshare/internal/booking/application/events"
)

// ErrUnknownKind is returned when no template exists for a notification kind.
var ErrUnknownKind = errors.New("notify: unknown notification kind")

// TemplateData provides fields for rendering a notification.
type TemplateData struct {
	Kind          string
	RecipientName string
	BookingID     string
	ItemID        string
	StartDate     string
	EndDate       string
	Status        string
	Amount        string
	Currency      string
	BookingURL    string
}

// TemplateSource is the raw subject and body of one kind.
type TemplateSource struct {
	Subject string `yaml:"subject"`
	HTML    string `yaml:"html"`
}

type catalogueFile struct {
	Templates map[string]TemplateSource `yaml:"templates"`
}

type compiled struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
}

// Templates renders subjects and HTML bodies per notification kind.
type Templates struct {
	byKind map[events.NotificationKind]compiled
}

var defaultSources = map[events.NotificationKind]TemplateSource{
	events.KindBookingRequested: {
		Subject: "New booking request for {{.ItemID}}",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>You have a new booking request for {{.ItemID}} from {{.StartDate}} to {{.EndDate}}.</p>{{if .BookingURL}}<p><a href="{{.BookingURL}}">Review the request</a></p>{{end}}`,
	},
	events.KindBookingApproved: {
		Subject: "Your booking is approved",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>Your booking {{.BookingID}} for {{.ItemID}} ({{.StartDate}} to {{.EndDate}}) has been approved.</p>{{if .BookingURL}}<p><a href="{{.BookingURL}}">View booking</a></p>{{end}}`,
	},
	events.KindBookingConfirmed: {
		Subject: "Booking confirmed: payment received",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>Payment of {{.Amount}} {{.Currency}} was received for booking {{.BookingID}} ({{.StartDate}} to {{.EndDate}}).</p>`,
	},
	events.KindBookingRejected: {
		Subject: "Your booking request was declined",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>Unfortunately your request {{.BookingID}} for {{.ItemID}} was declined by the owner.</p>`,
	},
	events.KindBookingCancelled: {
		Subject: "Booking cancelled",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>Booking {{.BookingID}} for {{.ItemID}} has been cancelled.</p>`,
	},
	events.KindBookingCompleted: {
		Subject: "Rental completed",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>The rental {{.BookingID}} for {{.ItemID}} ended on {{.EndDate}}. Thanks for using gearshare.</p>`,
	},
	events.KindBookingRefunded: {
		Subject: "Refund issued",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>A refund of {{.Amount}} {{.Currency}} was issued for booking {{.BookingID}}.</p>`,
	},
	events.KindPayoutSent: {
		Subject: "Payout sent: {{.Amount}} {{.Currency}}",
		HTML:    `<p>Hi {{.RecipientName}},</p><p>We sent {{.Amount}} {{.Currency}} to your payout account for booking {{.BookingID}}.</p>`,
	},
}

// DefaultTemplates returns the built-in catalogue.
func DefaultTemplates() *Templates {
	t, err := NewTemplates(nil)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTemplates compiles the built-in catalogue with overrides applied on top.
func NewTemplates(overrides map[string]TemplateSource) (*Templates, error) {
	sources := make(map[events.NotificationKind]TemplateSource, len(defaultSources))
	for kind, src := range defaultSources {
		sources[kind] = src
	}
	for name, src := range overrides {
		kind := events.NotificationKind(name)
		base, ok := sources[kind]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, name)
		}
		if src.Subject != "" {
			base.Subject = src.Subject
		}
		if src.HTML != "" {
			base.HTML = src.HTML
		}
		sources[kind] = base
	}

	t := &Templates{byKind: make(map[events.NotificationKind]compiled, len(sources))}
	for kind, src := range sources {
		subject, err := texttemplate.New(string(kind) + ".subject").Option("missingkey=error").Parse(src.Subject)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s subject: %w", kind, err)
		}
		body, err := htmltemplate.New(string(kind) + ".html").Option("missingkey=error").Parse(src.HTML)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s html: %w", kind, err)
		}
		t.byKind[kind] = compiled{subject: subject, html: body}
	}
	return t, nil
}

// ParseTemplates reads a YAML catalogue of the form
//
//	templates:
//	  booking_approved:
//	    subject: "..."
//	    html: "..."
func ParseTemplates(data []byte) (*Templates, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("notify: parse catalogue: %w", err)
	}
	return NewTemplates(file.Templates)
}

// LoadTemplates reads a YAML catalogue from path. An empty path yields the
// built-in catalogue.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return NewTemplates(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTemplates(data)
}

// Has reports whether kind has a template.
func (t *Templates) Has(kind events.NotificationKind) bool {
	if t == nil {
		return false
	}
	_, ok := t.byKind[kind]
	return ok
}

// Render returns the subject and HTML body for kind.
func (t *Templates) Render(kind events.NotificationKind, data TemplateData) (string, string, error) {
	if t == nil {
		return "", "", errors.New("notify: nil templates")
	}
	tpl, ok := t.byKind[kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	var subject bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return "", "", err
	}
	var body bytes.Buffer
	if err := tpl.html.Execute(&body, data); err != nil {
		return "", "", err
	}
	return subject.String(), body.String(), nil
}
