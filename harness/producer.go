// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/mqstress/mq"
	"golang.org/x/time/rate"
)

// ProducerWorker continuously publishes payloads of the scenario's
// encoding to the fan-out topic until stopped or a failure is observed.
type ProducerWorker struct {
	svc      mq.Service
	topic    string
	scenario Scenario
	signal   *FailureSignal
	barrier  *ReadinessBarrier
	limiter  *rate.Limiter // nil disables pacing
	logger   *slog.Logger
	metrics  *Metrics
}

// Run executes the producer until ctx is cancelled, the failure signal
// trips, or the collaborator reports a submission error. Submission
// errors are logged but never set the failure signal: they are not the
// condition under test.
func (w *ProducerWorker) Run(ctx context.Context) {
	logger := w.logger.With("worker", "producer", "topic", w.topic)

	conn, err := w.svc.Connect()
	if err != nil {
		logger.Error("connect failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.Start(); err != nil {
		logger.Error("connection start failed", "error", err)
		return
	}

	sess, err := conn.CreateSession(mq.AckAuto)
	if err != nil {
		logger.Error("session creation failed", "error", err)
		return
	}

	dst, err := sess.CreateTopic(w.topic)
	if err != nil {
		logger.Error("topic creation failed", "error", err)
		return
	}

	prod, err := sess.CreateProducer(dst)
	if err != nil {
		logger.Error("producer creation failed", "error", err)
		return
	}

	w.barrier.Arrive()
	logger.Debug("producer ready")

	seq := 0
	for ctx.Err() == nil && !w.signal.IsSet() {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		seq++
		msg := buildMessage(w.scenario.Encoding, seq)
		if err := prod.Send(msg, mq.DeliveryPersistent, mq.DefaultPriority, 0); err != nil {
			logger.Error("send failed", "seq", seq, "error", err)
			return
		}

		w.metrics.MessagePublished(ctx, w.scenario.Encoding.String())
		logger.Debug("sent message", "seq", seq)
	}
}

// buildMessage constructs one payload of the given encoding carrying a
// human-readable sequence marker.
func buildMessage(enc mq.Encoding, seq int) mq.Message {
	text := fmt.Sprintf("message number %d", seq)

	switch enc {
	case mq.EncodingMap:
		m := mq.NewMapMessage()
		m.SetString("text", text)
		return m
	case mq.EncodingOpaque:
		return mq.NewObjectMessage(text)
	default:
		return mq.NewTextMessage(text)
	}
}
