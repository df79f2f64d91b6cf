package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Publisher delivers a payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunReport is the machine-readable outcome of one pipeline run.
type RunReport struct {
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	Hashtag    string         `json:"hashtag"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stages     []StageOutcome `json:"stages"`
	Summary    Summary        `json:"summary"`
	Error      string         `json:"error,omitempty"`
}

// StageOutcome records how one stage ended.
type StageOutcome struct {
	Stage    string        `json:"stage"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration_ns"`
	Detail   string        `json:"detail,omitempty"`
}

// Attributes are attached to the published message for subscription filters.
func (r RunReport) Attributes() map[string]string {
	return map[string]string{
		"run_id":  r.RunID,
		"status":  r.Status,
		"hashtag": r.Hashtag,
	}
}

// RunPublisher publishes run reports to a fixed topic.
type RunPublisher struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewRunPublisher wraps pub for topic.
func NewRunPublisher(pub Publisher, topic string, logger *zap.Logger) (*RunPublisher, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunPublisher{pub: pub, topic: topic, logger: logger.Named("run_publisher")}, nil
}

// Publish sends the report.
func (p *RunPublisher) Publish(ctx context.Context, report RunReport) error {
	id, err := p.pub.Publish(ctx, p.topic, report)
	if err != nil {
		return fmt.Errorf("publish run report: %w", err)
	}
	p.logger.Info("run report published",
		zap.String("run_id", report.RunID),
		zap.String("topic", p.topic),
		zap.String("message_id", id),
	)
	return nil
}
