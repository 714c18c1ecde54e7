// Package mailer renders and sends alert emails over SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/BarkinBalci/telemetry-pipeline/internal/config"
	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

// AlertEmail is everything needed to render one alert email
type AlertEmail struct {
	To         string
	ToName     string
	Severity   domain.Severity
	MetricName string
	Message    string
	Value      float64
	Unit       string
	StoreCode  string
	SensorType string
	Timestamp  time.Time
}

type severityStyle struct {
	Label  string
	Color  string
	Border string
}

var styles = map[domain.Severity]severityStyle{
	domain.SeverityPreventive: {Label: "Preventivo", Color: "#fff8e1", Border: "#f9a825"},
	domain.SeverityCritical:   {Label: "Crítico", Color: "#ffebee", Border: "#c62828"},
}

var alertTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family:Arial,sans-serif;color:#212121;">
  <div style="max-width:600px;margin:0 auto;border-left:6px solid {{.Style.Border}};background-color:{{.Style.Color}};padding:16px;">
    <h2 style="margin-top:0;color:{{.Style.Border}};">Alerta {{.Style.Label}}: {{.MetricName}}</h2>
    {{if .ToName}}<p>Hola {{.ToName}},</p>{{end}}
    <p>{{.Message}}</p>
    <table style="border-collapse:collapse;width:100%;">
      {{range .Rows}}<tr>
        <td style="padding:6px;border-bottom:1px solid #e0e0e0;font-weight:bold;">{{.Key}}</td>
        <td style="padding:6px;border-bottom:1px solid #e0e0e0;">{{.Value}}</td>
      </tr>{{end}}
    </table>
  </div>
</body>
</html>`))

type row struct {
	Key   string
	Value string
}

// Subject returns the email subject for a severity and metric
func Subject(sev domain.Severity, metricName string) string {
	return fmt.Sprintf("Alerta %s: %s", styleFor(sev).Label, metricName)
}

// Render returns the HTML body of an alert email
func Render(email AlertEmail) (string, error) {
	value := fmt.Sprintf("%.2f", email.Value)
	if email.Unit != "" {
		value += " " + email.Unit
	}

	data := struct {
		AlertEmail
		Style severityStyle
		Rows  []row
	}{
		AlertEmail: email,
		Style:      styleFor(email.Severity),
		Rows: []row{
			{Key: "Valor", Value: value},
			{Key: "Punto de venta", Value: email.StoreCode},
			{Key: "Sensor", Value: email.SensorType},
			{Key: "Unidad", Value: email.Unit},
			{Key: "Fecha", Value: email.Timestamp.Format("2006-01-02 15:04:05 MST")},
		},
	}

	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render alert email: %w", err)
	}
	return buf.String(), nil
}

func styleFor(sev domain.Severity) severityStyle {
	if s, ok := styles[sev]; ok {
		return s
	}
	return styles[domain.SeverityPreventive]
}

// ErrDeliveryUnknown is returned when SendAlert stops waiting while the SMTP
// exchange is still running. gomail has no deadline after the dial, so the
// message may still be delivered.
var ErrDeliveryUnknown = errors.New("email delivery outcome unknown")

// Sender delivers alert emails through an SMTP relay
type Sender struct {
	dialer  *gomail.Dialer
	from    string
	timeout time.Duration
	send    func(msg *gomail.Message) error
	log     *zap.Logger
}

func NewSender(cfg config.SMTP, log *zap.Logger) *Sender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	from := cfg.From
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.From)
	}

	return &Sender{
		dialer:  dialer,
		from:    from,
		timeout: cfg.Timeout,
		send:    func(msg *gomail.Message) error { return dialer.DialAndSend(msg) },
		log:     log,
	}
}

// SendAlert renders and sends email. It stops waiting when ctx ends or the
// configured timeout passes, whichever is first, and then returns an error
// wrapping ErrDeliveryUnknown. The late result is logged when it arrives.
func (s *Sender) SendAlert(ctx context.Context, email AlertEmail) error {
	body, err := Render(email)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	if email.ToName != "" {
		msg.SetAddressHeader("To", strings.TrimSpace(email.To), email.ToName)
	} else {
		msg.SetHeader("To", strings.TrimSpace(email.To))
	}
	msg.SetHeader("Subject", Subject(email.Severity, email.MetricName))
	msg.SetBody("text/html", body)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.send(msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to send email to %s: %w", email.To, err)
		}
		s.log.Debug("Email sent", zap.String("to", email.To), zap.String("metric", email.MetricName))
		return nil
	case <-ctx.Done():
		go s.awaitLate(errCh, email)
		return fmt.Errorf("failed to send email to %s: %w: %w", email.To, ErrDeliveryUnknown, ctx.Err())
	}
}

func (s *Sender) awaitLate(errCh <-chan error, email AlertEmail) {
	if err := <-errCh; err != nil {
		s.log.Debug("Timed out email also failed", zap.String("to", email.To), zap.Error(err))
		return
	}
	s.log.Warn("Email delivered after timeout", zap.String("to", email.To), zap.String("metric", email.MetricName))
}
