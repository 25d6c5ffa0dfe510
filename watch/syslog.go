package watch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// SyslogMessage is one RFC 5424 line before framing.
type SyslogMessage struct {
	StructuredData string
	Message        string
}

type SyslogSender interface {
	SendRFC5424Batch(appName string, msgs []SyslogMessage, timeout time.Duration) error
}

// SyslogClient writes a batch of RFC 5424 lines over one TCP connection.
type SyslogClient struct {
	addr string
}

func NewSyslogClient(addr string) *SyslogClient {
	return &SyslogClient{addr: addr}
}

// SendRFC5424Batch buffers every line and flushes once. A failed flush may
// still have delivered a prefix of the batch, so receivers see each line at
// least once and should key on the fingerprint param.
func (c *SyslogClient) SendRFC5424Batch(appName string, msgs []SyslogMessage, timeout time.Duration) error {
	if len(msgs) == 0 {
		return nil
	}
	var (
		conn net.Conn
		err  error
	)
	if timeout > 0 {
		conn, err = net.DialTimeout("tcp", c.addr, timeout)
	} else {
		conn, err = net.Dial("tcp", c.addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "-"
	}

	pri := 132 // local0.warning
	if appName == "" {
		appName = "transhipment-watch"
	}

	w := bufio.NewWriter(conn)
	for _, m := range msgs {
		ts := time.Now().UTC().Format(time.RFC3339Nano)
		line := fmt.Sprintf("<%d>1 %s %s %s - - %s %s\n", pri, ts, sanitizeSyslogToken(host), sanitizeSyslogToken(appName), m.StructuredData, strings.TrimSpace(m.Message))
		if _, err := w.WriteString(line); err != nil {
			return err
		}
	}
	return w.Flush()
}

func sanitizeSyslogToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// SyslogConfig configures the syslog notifier.
type SyslogConfig struct {
	Addr    string
	AppName string
	// SDID is the structured-data id. Default "ais".
	SDID string
	// Labels are constant structured-data params (env, site, ...).
	Labels  map[string]string
	Timeout time.Duration
}

// SyslogNotifier sends one syslog line per verdict, carrying the key fields
// as structured data and the full verdict as JSON message. A batch goes out
// on a single connection; a retried batch may repeat lines the receiver
// already got.
type SyslogNotifier struct {
	cfg    SyslogConfig
	sender SyslogSender
}

func NewSyslogNotifier(cfg SyslogConfig) *SyslogNotifier {
	if cfg.AppName == "" {
		cfg.AppName = "transhipment-watch"
	}
	if cfg.SDID == "" {
		cfg.SDID = "ais"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &SyslogNotifier{cfg: cfg, sender: NewSyslogClient(cfg.Addr)}
}

func (n *SyslogNotifier) Name() string { return "syslog" }

func (n *SyslogNotifier) Notify(ctx context.Context, verdicts []Verdict) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: syslog: %v", ErrNotificationFailure, err)
	}
	msgs := make([]SyslogMessage, 0, len(verdicts))
	for _, v := range verdicts {
		kv := map[string]string{
			"pair":        v.Key().String(),
			"tier":        string(v.Tier),
			"priority":    string(v.Priority),
			"duration":    strconv.Itoa(v.DurationMin),
			"fingerprint": v.Fingerprint,
			"port":        v.NearestPort,
		}
		for k, val := range n.cfg.Labels {
			if _, taken := kv[k]; !taken {
				kv[k] = val
			}
		}
		body, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal verdict %s: %w", v.Key(), err)
		}
		msgs = append(msgs, SyslogMessage{StructuredData: buildStructuredData(n.cfg.SDID, kv), Message: string(body)})
	}
	if err := n.sender.SendRFC5424Batch(n.cfg.AppName, msgs, n.cfg.Timeout); err != nil {
		return fmt.Errorf("%w: syslog: %v", ErrNotificationFailure, err)
	}
	return nil
}

func buildStructuredData(sdID string, kv map[string]string) string {
	if sdID == "" {
		sdID = "ais"
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(sdID)
	preferredOrder := []string{"env", "site", "pair", "tier", "priority", "duration", "fingerprint", "port"}
	seen := make(map[string]struct{}, len(kv))
	write := func(k, v string) {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=\"")
		b.WriteString(escapeSDParam(v))
		b.WriteString("\"")
	}
	for _, k := range preferredOrder {
		v, ok := kv[k]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		seen[k] = struct{}{}
		write(k, v)
	}
	extraKeys := make([]string, 0, len(kv))
	for k, v := range kv {
		if _, ok := seen[k]; ok {
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		write(k, kv[k])
	}
	b.WriteString("]")
	return b.String()
}

func escapeSDParam(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "]", "\\]")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}
