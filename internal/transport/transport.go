// Package transport implements the NATS JetStream wire layer of spec §6:
// submission, dispatch, cancellation and completion messages travel as
// JSON over durable pull-consumer subjects, grounded on
// scheduler-orchestrator-service's JobConsumer and provider-daemon's NATS
// client.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/pkg/wire"
)

// Config names the subjects each side publishes/subscribes to.
type Config struct {
	URL                  string        `yaml:"url"`
	SubmissionSubject    string        `yaml:"submission_subject"`
	DispatchSubjectPrefix string       `yaml:"dispatch_subject_prefix"` // per-worker subject is Prefix + "." + workerID
	CompletionSubject    string        `yaml:"completion_subject"`
	CancelSubjectPrefix  string        `yaml:"cancel_subject_prefix"`
	StartedSubject       string        `yaml:"started_subject"`
	AckWait              time.Duration `yaml:"ack_wait"`
}

func (c Config) withDefaults() Config {
	if c.SubmissionSubject == "" {
		c.SubmissionSubject = "taskrt.submissions"
	}
	if c.DispatchSubjectPrefix == "" {
		c.DispatchSubjectPrefix = "taskrt.dispatch"
	}
	if c.CompletionSubject == "" {
		c.CompletionSubject = "taskrt.completions"
	}
	if c.CancelSubjectPrefix == "" {
		c.CancelSubjectPrefix = "taskrt.cancel"
	}
	if c.StartedSubject == "" {
		c.StartedSubject = "taskrt.started"
	}
	if c.AckWait <= 0 {
		c.AckWait = 60 * time.Second
	}
	return c
}

// Transport wraps a NATS connection and its JetStream context.
type Transport struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

// Connect dials NATS and obtains a JetStream context, reconnecting
// aggressively the way provider-daemon's client does.
func Connect(cfg Config, log *zap.Logger) (*Transport, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(100),
		nats.ReconnectWait(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: connect to nats at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("transport: jetstream context: %w", err)
	}

	return &Transport{cfg: cfg, nc: nc, js: js, log: log}, nil
}

func (t *Transport) Close() {
	t.nc.Close()
}

func (t *Transport) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", subject, err)
	}
	if _, err := t.js.Publish(subject, data); err != nil {
		return fmt.Errorf("transport: publish %s: %w", subject, err)
	}
	return nil
}

// PublishSubmission sends a task submission to the master's inbound
// subject (spec §6 Inbound).
func (t *Transport) PublishSubmission(msg wire.SubmitTask) error {
	return t.publish(t.cfg.SubmissionSubject, msg)
}

// PublishDispatch sends a job message to workerID's dispatch subject
// (spec §6 Outbound).
func (t *Transport) PublishDispatch(workerID string, msg wire.JobDispatch) error {
	return t.publish(t.cfg.DispatchSubjectPrefix+"."+workerID, msg)
}

// PublishCancel sends a cancellation message to workerID (spec §6
// Outbound Cancellation).
func (t *Transport) PublishCancel(workerID string, msg wire.CancelTask) error {
	return t.publish(t.cfg.CancelSubjectPrefix+"."+workerID, msg)
}

// PublishCompletion sends a completion message back to the master (spec §6
// Outbound Completion messages).
func (t *Transport) PublishCompletion(msg wire.Completion) error {
	return t.publish(t.cfg.CompletionSubject, msg)
}

// PublishStarted acks that a worker has begun executing a SCHEDULED
// action (spec §4.3).
func (t *Transport) PublishStarted(msg wire.TaskStarted) error {
	return t.publish(t.cfg.StartedSubject, msg)
}
