package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/pkg/wire"
)

const fetchBatchSize = 5

// Subscription wraps a durable JetStream pull consumer with a fetch loop,
// the shape of scheduler-orchestrator-service's JobConsumer.fetchLoop.
type Subscription struct {
	sub    *nats.Subscription
	log    *zap.Logger
	cancel context.CancelFunc
}

func (t *Transport) pullSubscribe(subject, durable string) (*nats.Subscription, error) {
	return t.js.PullSubscribe(subject, durable, nats.AckWait(t.cfg.AckWait))
}

// SubscribeSubmissions runs handler for every task submission, acking on
// success and nak'ing (for redelivery) on a retriable error. Poison-pill
// messages that fail to unmarshal are acked to stop redelivery.
func (t *Transport) SubscribeSubmissions(handler func(wire.SubmitTask) error) (*Subscription, error) {
	sub, err := t.pullSubscribe(t.cfg.SubmissionSubject, "taskrt_master_submissions")
	if err != nil {
		return nil, err
	}
	return t.runFetchLoop(sub, func(data []byte) error {
		var msg wire.SubmitTask
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Error("poison-pill submission message, dropping", zap.Error(err))
			return nil
		}
		return handler(msg)
	}), nil
}

// SubscribeDispatch runs handler for every job dispatched to workerID.
func (t *Transport) SubscribeDispatch(workerID string, handler func(wire.JobDispatch) error) (*Subscription, error) {
	subject := t.cfg.DispatchSubjectPrefix + "." + workerID
	sub, err := t.pullSubscribe(subject, "taskrt_worker_"+workerID+"_dispatch")
	if err != nil {
		return nil, err
	}
	return t.runFetchLoop(sub, func(data []byte) error {
		var msg wire.JobDispatch
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Error("poison-pill dispatch message, dropping", zap.Error(err))
			return nil
		}
		return handler(msg)
	}), nil
}

// SubscribeCancel runs handler for every cancellation sent to workerID.
func (t *Transport) SubscribeCancel(workerID string, handler func(wire.CancelTask) error) (*Subscription, error) {
	subject := t.cfg.CancelSubjectPrefix + "." + workerID
	sub, err := t.pullSubscribe(subject, "taskrt_worker_"+workerID+"_cancel")
	if err != nil {
		return nil, err
	}
	return t.runFetchLoop(sub, func(data []byte) error {
		var msg wire.CancelTask
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Error("poison-pill cancel message, dropping", zap.Error(err))
			return nil
		}
		return handler(msg)
	}), nil
}

// SubscribeStarted runs handler for every start-ack sent by any worker.
func (t *Transport) SubscribeStarted(handler func(wire.TaskStarted) error) (*Subscription, error) {
	sub, err := t.pullSubscribe(t.cfg.StartedSubject, "taskrt_master_started")
	if err != nil {
		return nil, err
	}
	return t.runFetchLoop(sub, func(data []byte) error {
		var msg wire.TaskStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Error("poison-pill started message, dropping", zap.Error(err))
			return nil
		}
		return handler(msg)
	}), nil
}

// SubscribeCompletions runs handler for every completion message reported
// by any worker.
func (t *Transport) SubscribeCompletions(handler func(wire.Completion) error) (*Subscription, error) {
	sub, err := t.pullSubscribe(t.cfg.CompletionSubject, "taskrt_master_completions")
	if err != nil {
		return nil, err
	}
	return t.runFetchLoop(sub, func(data []byte) error {
		var msg wire.Completion
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Error("poison-pill completion message, dropping", zap.Error(err))
			return nil
		}
		return handler(msg)
	}), nil
}

func (t *Transport) runFetchLoop(sub *nats.Subscription, decode func([]byte) error) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{sub: sub, log: t.log, cancel: cancel}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(5*time.Second))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				t.log.Error("fetch from jetstream failed", zap.Error(err))
				if !sub.IsValid() {
					return
				}
				continue
			}
			for _, msg := range msgs {
				if err := decode(msg.Data); err != nil {
					t.log.Warn("handler returned error, nak'ing for redelivery", zap.Error(err))
					_ = msg.Nak()
					continue
				}
				_ = msg.Ack()
			}
		}
	}()

	return s
}

// Stop ends s's fetch loop. The underlying durable consumer survives for a
// future resubscribe.
func (s *Subscription) Stop() {
	s.cancel()
}
