package steps

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
)

// NotifyType publishes a build notification.
const NotifyType = "notify_nats"

// DefaultNotifySubject is used when the step has no parameter.
const DefaultNotifySubject = "buildorch.builds"

// Publisher is the part of *nats.Conn the notify step needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS opens a NATS connection for notifications.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("buildorch"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS connection established", "url", url)
	return conn, nil
}

// BuildNotification is the message body published by the notify step.
type BuildNotification struct {
	RunID     string `json:"run_id,omitempty"`
	Process   string `json:"process"`
	Platform  string `json:"platform"`
	OutputDir string `json:"output_dir"`
	BuildTag  string `json:"build_tag,omitempty"`
	Pretend   bool   `json:"pretend,omitempty"`
}

// Notify publishes one BuildNotification. Without a publisher it logs and
// finishes; publishing is fire-and-forget.
type Notify struct {
	subject   string
	publisher Publisher
	cfg       *config.BuildConfiguration
	done      bool
}

func NewNotify(param string, publisher Publisher) *Notify {
	subject := strings.TrimSpace(param)
	if subject == "" {
		subject = DefaultNotifySubject
	}
	return &Notify{subject: subject, publisher: publisher}
}

func (n *Notify) Start(cfg *config.BuildConfiguration) {
	n.cfg = cfg
	if n.publisher == nil {
		slog.Warn("NATS not configured; skipping notification", logfields.Step(NotifyType))
		n.done = true
	}
}

func (n *Notify) Update() {
	if n.done {
		return
	}
	n.done = true

	p := n.cfg.CurrentProcess()
	data, err := json.Marshal(BuildNotification{
		RunID:     n.cfg.RunID,
		Process:   p.Name,
		Platform:  string(p.Platform),
		OutputDir: n.cfg.OutputDirectory(),
		BuildTag:  n.cfg.BuildTag,
		Pretend:   p.Pretend,
	})
	if err != nil {
		slog.Error("Encoding notification failed", logfields.Step(NotifyType), logfields.Error(err))
		return
	}
	if err := n.publisher.Publish(n.subject, data); err != nil {
		slog.Error("Publishing notification failed", logfields.Step(NotifyType), slog.String("subject", n.subject), logfields.Error(err))
		return
	}
	slog.Info("Build notification published", logfields.Step(NotifyType), slog.String("subject", n.subject), logfields.Process(p.Name))
}

func (n *Notify) IsDone() bool { return n.done }
