// Package alert e-mails operators when the SweTrack token is rejected and
// again when polling recovers.
package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"

	"github.com/nerrad567/swetrack-sync/internal/infrastructure/config"
	"github.com/nerrad567/swetrack-sync/internal/swetrack"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

const sendTimeout = 30 * time.Second

// Sender delivers one message. *notify.Notify satisfies it.
type Sender interface {
	Send(ctx context.Context, subject, message string) error
}

// Logger is the logging surface of the alerter.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewMailSender builds a notify sender for the configured SMTP relay and
// recipients.
func NewMailSender(cfg config.AlertsConfig) Sender {
	from := cfg.SMTP.From
	if from == "" {
		from = cfg.SMTP.Username
	}

	svc := mail.New(from, fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port))
	if cfg.SMTP.Username != "" {
		svc.AuthenticateSMTP("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host)
	}
	svc.AddReceivers(cfg.Recipients...)

	n := notify.New()
	n.UseServices(svc)
	return n
}

// Alerter turns cycle reports into operator messages. It sends once when a
// roster AuthError first suspends polling and once when a later cycle
// publishes again.
type Alerter struct {
	sender Sender
	logger Logger
	source string

	mu      sync.Mutex
	alerted bool
	wg      sync.WaitGroup
}

// New creates an alerter. source names this instance in message subjects.
func New(sender Sender, logger Logger, source string) *Alerter {
	if source == "" {
		source = "swetrack-sync"
	}
	return &Alerter{sender: sender, logger: logger, source: source}
}

// HandleCycle inspects a cycle report. Register it with
// tracker.Coordinator.OnCycle. Messages are sent in the background.
func (a *Alerter) HandleCycle(report tracker.CycleReport) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case report.Outcome == tracker.OutcomeFailed && report.ErrorKind == swetrack.KindAuth && !a.alerted:
		a.alerted = true
		a.send(
			fmt.Sprintf("[%s] SweTrack token rejected", a.source),
			authBody(report),
		)

	case report.Outcome == tracker.OutcomePublished && a.alerted:
		a.alerted = false
		a.send(
			fmt.Sprintf("[%s] SweTrack polling recovered", a.source),
			recoveryBody(report),
		)
	}
}

// Wait blocks until every message started so far has been attempted.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) send(subject, body string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := a.sender.Send(ctx, subject, body); err != nil {
			a.logger.Error("sending alert failed", "subject", subject, "error", err)
			return
		}
		a.logger.Info("alert sent", "subject", subject)
	}()
}

func authBody(report tracker.CycleReport) string {
	var b strings.Builder
	b.WriteString("The SweTrack API rejected the configured token. Scheduled polls are suspended.\n\n")
	fmt.Fprintf(&b, "Cycle: %s\n", report.ID)
	fmt.Fprintf(&b, "Time: %s\n", report.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if report.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", report.Err)
	}
	b.WriteString("\nThe account allows one active external token. If it was regenerated in the portal, ")
	b.WriteString("update SWETRACK_TOKEN and send SIGHUP, or request a manual refresh.\n")
	return b.String()
}

func recoveryBody(report tracker.CycleReport) string {
	devices := 0
	if report.Snapshot != nil {
		devices = report.Snapshot.Len()
	}
	return fmt.Sprintf("Polling succeeded again.\n\nCycle: %s\nTime: %s\nDevices: %d\n",
		report.ID,
		report.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		devices,
	)
}
