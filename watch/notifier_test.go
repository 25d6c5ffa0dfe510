package watch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVerdict() Verdict {
	return Verdict{
		Tier:        TierConfirmed,
		VesselA:     100,
		VesselB:     200,
		Start:       minute(0),
		End:         minute(50),
		DurationMin: 50,
		Latitude:    offshoreLat,
		Longitude:   offshoreLon,
		NearestPort: "Merak",
		PortKm:      42.5,
		Priority:    PriorityHigh,
		Fingerprint: "abc123",
	}
}

func TestWebhookNotifier_PostsPayload(t *testing.T) {
	var (
		mu      sync.Mutex
		got     WebhookPayload
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	second := sampleVerdict()
	second.Priority = PriorityNormal
	second.VesselB = 300
	require.NoError(t, n.Notify(context.Background(), []Verdict{sampleVerdict(), second}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, "transhipment_alert", got.EventType)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 1, got.HighPriority)
	require.Len(t, got.Verdicts, 2)
	assert.Equal(t, "abc123", got.Verdicts[0].Fingerprint)
}

func TestWebhookNotifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	err := n.Notify(context.Background(), []Verdict{sampleVerdict()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotificationFailure))
	assert.Contains(t, err.Error(), "500")
}

func TestSyslogNotifier_SendsBatchOnOneConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	conns := make(chan []string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			var lines []string
			sc := bufio.NewScanner(conn)
			for sc.Scan() {
				lines = append(lines, sc.Text())
			}
			conn.Close()
			conns <- lines
		}
	}()

	second := sampleVerdict()
	second.VesselB = 300
	second.Fingerprint = "def456"
	n := NewSyslogNotifier(SyslogConfig{Addr: ln.Addr().String(), Labels: map[string]string{"env": "test", "tier": "ignored"}})
	require.NoError(t, n.Notify(context.Background(), []Verdict{sampleVerdict(), second}))

	var lines []string
	select {
	case lines = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no syslog connection received")
	}
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "<132>1 "))
	assert.Contains(t, lines[0], " transhipment-watch - - ")
	assert.Contains(t, lines[0], `[ais env="test" pair="100-200" tier="confirmed" priority="high" duration="50" fingerprint="abc123" port="Merak"]`)
	assert.Contains(t, lines[0], `"fingerprint":"abc123"`)
	assert.Contains(t, lines[1], `pair="100-300"`)

	select {
	case extra := <-conns:
		t.Fatalf("unexpected second connection: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

type mockSyslogSender struct {
	mu    sync.Mutex
	calls [][]SyslogMessage
	failN int
}

func (m *mockSyslogSender) SendRFC5424Batch(_ string, msgs []SyslogMessage, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]SyslogMessage(nil), msgs...))
	if m.failN > 0 {
		m.failN--
		return errors.New("mock send failure")
	}
	return nil
}

func (m *mockSyslogSender) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
}

func (m *mockSyslogSender) Calls() [][]SyslogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]SyslogMessage, len(m.calls))
	copy(out, m.calls)
	return out
}

func TestSyslogNotifier_BatchFailsAsAWhole(t *testing.T) {
	sender := &mockSyslogSender{}
	n := NewSyslogNotifier(SyslogConfig{Addr: "unused:1"})
	n.sender = sender

	second := sampleVerdict()
	second.VesselB = 300
	sender.FailNext(1)
	err := n.Notify(context.Background(), []Verdict{sampleVerdict(), second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotificationFailure))

	require.NoError(t, n.Notify(context.Background(), []Verdict{sampleVerdict(), second}))
	calls := sender.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0], 2)
	assert.Len(t, calls[1], 2)
}

func TestSyslogNotifier_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	n := NewSyslogNotifier(SyslogConfig{Addr: addr, Timeout: 200 * time.Millisecond})
	err = n.Notify(context.Background(), []Verdict{sampleVerdict()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotificationFailure))
}

func TestBuildStructuredData_DefaultSDIDWhenEmpty(t *testing.T) {
	sd := buildStructuredData("", map[string]string{"pair": "1-2"})
	assert.True(t, strings.HasPrefix(sd, "[ais "), sd)
}

func TestBuildStructuredData_SkipsEmptyAndSortsExtraKeys(t *testing.T) {
	sd := buildStructuredData("ais", map[string]string{
		"pair":     "1-2",
		"tier":     "confirmed",
		"env":      "",
		"port":     "Merak",
		"priority": "high",
		"zzz":      "3",
		"aaa":      "1",
	})
	assert.NotContains(t, sd, " env=")

	ia := strings.Index(sd, ` aaa="1"`)
	iz := strings.Index(sd, ` zzz="3"`)
	require.NotEqual(t, -1, ia, sd)
	require.NotEqual(t, -1, iz, sd)
	assert.Less(t, ia, iz)

	ip := strings.Index(sd, ` pair="1-2"`)
	it := strings.Index(sd, ` tier="confirmed"`)
	assert.Less(t, ip, it)
	assert.Less(t, it, ia)
}

func TestEscapeSDParam(t *testing.T) {
	assert.Equal(t, `a\"b\\c\]d e`, escapeSDParam("a\"b\\c]d\ne"))
}

type failingNotifier struct {
	mu    sync.Mutex
	name  string
	calls int
}

func (f *failingNotifier) Name() string { return f.name }

func (f *failingNotifier) Notify(context.Context, []Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("endpoint down")
}

func (f *failingNotifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestBreakerNotifier_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingNotifier{name: "breaker-test"}
	b := NewBreakerNotifier(inner, BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Notify(ctx, []Verdict{sampleVerdict()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endpoint down")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Notify(ctx, []Verdict{sampleVerdict()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotificationFailure))
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 3, inner.Calls())
	assert.Equal(t, "breaker-test", b.Name())
}

func TestMultiNotifier_AttemptsAllMembers(t *testing.T) {
	bad := &failingNotifier{name: "bad"}
	good := &mockNotifier{}
	m := NewMultiNotifier(bad, good)

	err := m.Notify(context.Background(), []Verdict{sampleVerdict()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: endpoint down")
	assert.Equal(t, 1, bad.Calls())
	assert.Len(t, good.Calls(), 1)

	require.NoError(t, NewMultiNotifier(good).Notify(context.Background(), []Verdict{sampleVerdict()}))
}

func TestLogNotifier_NeverFails(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Notify(context.Background(), []Verdict{sampleVerdict()}))
}
