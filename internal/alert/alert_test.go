package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/swetrack-sync/internal/infrastructure/config"
	"github.com/nerrad567/swetrack-sync/internal/swetrack"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
)

type message struct{ subject, body string }

type fakeSender struct {
	mu   sync.Mutex
	sent []message
	err  error
}

func (s *fakeSender) Send(_ context.Context, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message{subject, body})
	return s.err
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func authFailure(id string) tracker.CycleReport {
	return tracker.CycleReport{
		ID:         id,
		Outcome:    tracker.OutcomeFailed,
		ErrorKind:  swetrack.KindAuth,
		Err:        &swetrack.Error{Kind: swetrack.KindAuth, Endpoint: swetrack.EndpointRoster, Status: 401},
		FinishedAt: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
	}
}

func TestAlerter_AuthThenRecovery(t *testing.T) {
	sender := &fakeSender{}
	a := New(sender, nopLogger{}, "depot")

	a.HandleCycle(tracker.CycleReport{ID: "c0", Outcome: tracker.OutcomePublished})
	a.HandleCycle(authFailure("c1"))
	a.HandleCycle(authFailure("c2"))
	a.HandleCycle(tracker.CycleReport{ID: "c3", Outcome: tracker.OutcomeFailed, ErrorKind: swetrack.KindTransient})
	a.HandleCycle(tracker.CycleReport{ID: "c4", Outcome: tracker.OutcomePublished})
	a.HandleCycle(tracker.CycleReport{ID: "c5", Outcome: tracker.OutcomePublished})
	a.Wait()

	require.Len(t, sender.sent, 2)
	subjects := []string{sender.sent[0].subject, sender.sent[1].subject}
	assert.ElementsMatch(t, []string{
		"[depot] SweTrack token rejected",
		"[depot] SweTrack polling recovered",
	}, subjects)
	for _, m := range sender.sent {
		if m.subject == "[depot] SweTrack token rejected" {
			assert.Contains(t, m.body, "c1")
			assert.Contains(t, m.body, "HTTP 401")
		}
	}
}

func TestAlerter_TransientFailuresDoNotAlert(t *testing.T) {
	sender := &fakeSender{}
	a := New(sender, nopLogger{}, "")

	for i := 0; i < 5; i++ {
		a.HandleCycle(tracker.CycleReport{Outcome: tracker.OutcomeFailed, ErrorKind: swetrack.KindTransient})
	}
	a.HandleCycle(tracker.CycleReport{Outcome: tracker.OutcomeAbandoned, ErrorKind: swetrack.KindAuth})
	a.Wait()
	assert.Empty(t, sender.sent)
}

func TestAlerter_SendErrorIsLogged(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	a := New(sender, nopLogger{}, "")

	a.HandleCycle(authFailure("c1"))
	a.Wait()
	assert.Len(t, sender.sent, 1)
}

func TestNewMailSender(t *testing.T) {
	s := NewMailSender(config.AlertsConfig{
		Enabled: true,
		SMTP: config.SMTPConfig{
			Host:     "smtp.example.com",
			Port:     587,
			Username: "alerts@example.com",
			Password: "secret",
		},
		Recipients: []string{"ops@example.com"},
	})
	assert.NotNil(t, s)
}
