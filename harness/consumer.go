// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/mqstress/mq"
)

// ConsumerWorker polls its private fan-out queue, validates every
// delivered payload, and trips the shared failure signal on the
// corruption condition: a non-empty receipt whose extracted body is
// null or empty.
type ConsumerWorker struct {
	svc            mq.Service
	topic          string
	scenario       Scenario
	signal         *FailureSignal
	barrier        *ReadinessBarrier
	tracker        *DeliveryTracker
	indexes        *IndexAllocator
	receiveTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
}

// Run executes the consumer until ctx is cancelled, the failure signal
// trips, or the collaborator reports a receive error. The bounded
// receive is the loop's only suspension point, so shutdown latency is
// capped by the receive timeout.
func (w *ConsumerWorker) Run(ctx context.Context) {
	idx := w.indexes.Next()
	queueName := fmt.Sprintf("Consumer.Q%d.%s", idx, w.topic)
	logger := w.logger.With("consumer", idx, "queue", queueName)

	conn, err := w.svc.Connect()
	if err != nil {
		logger.Error("connect failed", "error", err)
		return
	}
	defer conn.Close()

	// Connection churn is not the property under test; faults are
	// logged and the worker keeps polling until its receive fails.
	conn.SetErrorHandler(func(err error) {
		logger.Error("connection fault", "error", err)
	})

	if err := conn.Start(); err != nil {
		logger.Error("connection start failed", "error", err)
		return
	}

	sess, err := conn.CreateSession(mq.AckIndividual)
	if err != nil {
		logger.Error("session creation failed", "error", err)
		return
	}

	dst, err := sess.CreateQueue(queueName)
	if err != nil {
		logger.Error("queue creation failed", "error", err)
		return
	}

	cons, err := sess.CreateConsumer(dst)
	if err != nil {
		logger.Error("consumer creation failed", "error", err)
		return
	}

	w.barrier.Arrive()
	logger.Debug("consumer ready")

	for ctx.Err() == nil && !w.signal.IsSet() {
		start := time.Now()
		msg, err := cons.Receive(w.receiveTimeout)
		w.metrics.ReceiveWait(ctx, time.Since(start).Seconds())

		if err != nil {
			logger.Error("receive failed", "error", err)
			return
		}
		if msg == nil {
			// Poll timeout, not an error.
			continue
		}

		w.validate(ctx, logger, idx, queueName, msg)
	}
}

// validate performs the per-delivery bookkeeping and the corruption
// check, acknowledging the message unconditionally afterwards so the
// collaborator may release it.
func (w *ConsumerWorker) validate(ctx context.Context, logger *slog.Logger, idx int, queueName string, msg mq.Message) {
	defer func() {
		if err := msg.Acknowledge(); err != nil {
			logger.Error("acknowledge failed", "message", msg.ID(), "error", err)
		}
	}()

	// Diagnostic duplicate accounting; never influences the verdict.
	if ended, ok := w.tracker.Observe(msg.ID()); ok {
		logger.Info("delivery streak ended", "message", ended.MessageID, "count", ended.Count)
		if ended.Count > 1 {
			w.metrics.DuplicateStreak(ctx)
		}
	}

	body, matched := extractBody(w.scenario.Encoding, msg)
	if !matched {
		// A mismatched runtime type is a protocol anomaly, not the
		// corruption condition: only a null or empty extracted body
		// fails the run.
		logger.Info("message type does not match scenario encoding",
			"encoding", w.scenario.Encoding.String(),
			"type", fmt.Sprintf("%T", msg),
			"message", msg.ID())
		return
	}

	if body == "" {
		logger.Warn("empty payload received",
			"encoding", w.scenario.Encoding.String(),
			"message", msg.ID())
		w.metrics.CorruptionDetected(ctx, w.scenario.Encoding.String())
		w.signal.Set(CorruptionEvent{
			Consumer:  idx,
			Queue:     queueName,
			Encoding:  w.scenario.Encoding,
			MessageID: msg.ID(),
		})
		return
	}

	w.metrics.MessageDelivered(ctx, w.scenario.Encoding.String())
	logger.Debug("payload verified", "message", msg.ID(), "text", body)
}

// extractBody extracts the payload according to the declared encoding.
// matched is false when the message's runtime type does not correspond
// to the encoding.
func extractBody(enc mq.Encoding, msg mq.Message) (body string, matched bool) {
	switch enc {
	case mq.EncodingText:
		if m, ok := msg.(*mq.TextMessage); ok {
			return m.Body, true
		}
	case mq.EncodingMap:
		if m, ok := msg.(*mq.MapMessage); ok {
			return m.String("text"), true
		}
	case mq.EncodingOpaque:
		if m, ok := msg.(*mq.ObjectMessage); ok {
			if m.Payload == nil {
				return "", true
			}
			if s, ok := m.Payload.(string); ok {
				return s, true
			}
			return fmt.Sprint(m.Payload), true
		}
	}
	return "", false
}
