package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

type telegramStub struct {
	mu       sync.Mutex
	received []sendMessage
	paths    []string
	statuses []int
}

func (s *telegramStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msg sendMessage
	_ = json.NewDecoder(r.Body).Decode(&msg)
	s.received = append(s.received, msg)
	s.paths = append(s.paths, r.URL.Path)

	status := http.StatusOK
	if len(s.statuses) > 0 {
		status = s.statuses[0]
		s.statuses = s.statuses[1:]
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func newTelegram(t *testing.T, stub *telegramStub) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "T0K", ChatID: "42", APIBase: srv.URL}, nil)
}

func testPosition() *models.Position {
	pos := models.NewPosition("pos-1", "iron_condor", []models.Leg{
		{Side: models.SideSell, OptionType: models.OptionCall, Strike: 22200, Quantity: 65, EntryPrice: 60, CurrentPrice: 40},
		{Side: models.SideSell, OptionType: models.OptionPut, Strike: 21800, Quantity: 65, EntryPrice: 55, CurrentPrice: 45},
	}, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), "2026-03-03")
	return pos
}

func TestTelegramNotifier_SendsHTML(t *testing.T) {
	stub := &telegramStub{}
	n := newTelegram(t, stub)

	err := n.Notify(context.Background(), Event{Type: EventEntry, Strategy: "iron_condor", Message: "credit <42>", Position: testPosition()})
	require.NoError(t, err)

	require.Len(t, stub.received, 1)
	msg := stub.received[0]
	assert.Equal(t, "/botT0K/sendMessage", stub.paths[0])
	assert.Equal(t, "42", msg.ChatID)
	assert.Equal(t, "HTML", msg.ParseMode)
	assert.True(t, strings.HasPrefix(msg.Text, "<b>IRON CONDOR ENTRY</b>"))
	assert.Contains(t, msg.Text, "credit &lt;42&gt;")
	assert.Contains(t, msg.Text, "<code>SELL 22200CE x65, SELL 21800PE x65</code>")
	assert.Contains(t, msg.Text, "P&amp;L: ₹1,950.00")
}

func TestTelegramNotifier_PlainTextRetryOn400(t *testing.T) {
	stub := &telegramStub{statuses: []int{http.StatusBadRequest, http.StatusOK}}
	n := newTelegram(t, stub)

	err := n.Notify(context.Background(), Event{Type: EventError, Strategy: "straddle", Message: "gateway down"})
	require.NoError(t, err)

	require.Len(t, stub.received, 2)
	assert.Empty(t, stub.received[1].ParseMode)
	assert.Equal(t, "STRADDLE ERROR\ngateway down", stub.received[1].Text)
}

func TestTelegramNotifier_ReportsFailure(t *testing.T) {
	stub := &telegramStub{statuses: []int{http.StatusInternalServerError}}
	n := newTelegram(t, stub)

	err := n.Notify(context.Background(), Event{Type: EventTimeExit, Strategy: "straddle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Len(t, stub.received, 1, "only a 400 triggers the plain-text retry")
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Event) error { return f.err }

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	boom := errors.New("boom")

	m := Multi{failingNotifier{err: boom}, NewLogNotifier(logrus.NewEntry(l))}
	err := m.Notify(context.Background(), Event{Type: EventStopHit, Strategy: "daily_scalp", Message: "stop loss", Position: testPosition()})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "stop loss")
	assert.Contains(t, buf.String(), "event=STOP_HIT")
	assert.Contains(t, buf.String(), "position=pos-1")
}

func TestNew_TelegramOnlyWhenEnabled(t *testing.T) {
	assert.IsType(t, &LogNotifier{}, New(config.NotifyConfig{}, nil))
	n := New(config.NotifyConfig{Telegram: config.TelegramConfig{Enabled: true, BotToken: "x", ChatID: "y"}}, nil)
	assert.Len(t, n, 2)
}

func TestExitEventType(t *testing.T) {
	cases := map[models.ExitReason]EventType{
		models.ExitTarget:         EventTargetHit,
		models.ExitStopLoss:       EventStopHit,
		models.ExitTrailingStop:   EventStopHit,
		models.ExitDailyLossLimit: EventStopHit,
		models.ExitTimeExit:       EventTimeExit,
		models.ExitAdjustment:     EventAdjustment,
		models.ExitManual:         EventExit,
	}
	for reason, want := range cases {
		assert.Equal(t, want, ExitEventType(reason), reason)
	}
}

func TestFormatINR(t *testing.T) {
	assert.Equal(t, "₹0.00", formatINR(0))
	assert.Equal(t, "₹999.50", formatINR(999.5))
	assert.Equal(t, "₹1,000.00", formatINR(1000))
	assert.Equal(t, "-₹1,23,456.78", formatINR(-123456.78))
	assert.Equal(t, "₹12,34,56,789.00", formatINR(123456789))
}
