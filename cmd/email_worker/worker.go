package main

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/student-records-api/pkg/helpers"
	"github.com/oksasatya/student-records-api/pkg/mailer"
	mailtpl "github.com/oksasatya/student-records-api/pkg/mailer/templates"
)

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDrop
)

// Sender delivers a rendered email; *mailer.Mailgun satisfies it.
type Sender interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// publisher is the part of *amqp.Channel used to requeue jobs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

const (
	attemptHeader = "x-attempt"
	maxAttempts   = 5
)

type worker struct {
	sender  Sender
	logger  *logrus.Logger
	backoff func(attempt int) time.Duration
}

// attemptOf returns the delivery attempt recorded on a message; the first delivery is 1.
func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

// retryDelay doubles from one second and is capped at a minute.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 7 {
		return time.Minute
	}
	d := time.Second << (attempt - 1)
	if d > time.Minute {
		return time.Minute
	}
	return d
}

func (w *worker) delay(attempt int) time.Duration {
	if w.backoff != nil {
		return w.backoff(attempt)
	}
	return retryDelay(attempt)
}

// render turns a queued job into subject, text and html bodies.
func render(job mailer.EmailJob) (subject, text, html string, err error) {
	helpers.EnsureRecipientAndEmail(&job)
	subject, text, html = job.Subject, job.Text, job.HTML
	if job.Template != "" {
		subject, text, html, err = mailtpl.Render(job.Template, job.Data)
		if err != nil {
			return "", "", "", err
		}
	}
	if subject == "" {
		subject = helpers.SubjectFor(job)
	}
	return subject, text, html, nil
}

// handle decodes, renders and sends one message. Malformed or unrenderable
// jobs are dropped; delivery failures are retried.
func (w *worker) handle(ctx context.Context, body []byte) outcome {
	var job mailer.EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.WithError(err).Warn("bad message")
		return outcomeDrop
	}
	if job.To == "" {
		w.logger.Warn("message without recipient")
		return outcomeDrop
	}
	log := w.logger.WithFields(logrus.Fields{"to": job.To, "template": job.Template})

	subject, text, html, err := render(job)
	if err != nil {
		log.WithError(err).Error("render failed")
		return outcomeDrop
	}

	c, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := w.sender.Send(c, job.To, subject, text, html); err != nil {
		log.WithError(err).Warn("send failed")
		return outcomeRetry
	}
	log.Info("email sent")
	return outcomeAck
}

// retry waits out the backoff, republishes the job with the next attempt
// number and acks the original. Jobs that reached maxAttempts are dropped.
func (w *worker) retry(ctx context.Context, pub publisher, queue string, msg amqp.Delivery) {
	attempt := attemptOf(msg.Headers)
	log := w.logger.WithFields(logrus.Fields{"attempt": attempt, "message_id": msg.MessageId})
	if attempt >= maxAttempts {
		log.Error("email job dropped after too many attempts")
		_ = msg.Nack(false, false)
		return
	}

	select {
	case <-time.After(w.delay(attempt)):
	case <-ctx.Done():
		_ = msg.Nack(false, true)
		return
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[attemptHeader] = int32(attempt + 1)
	err := pub.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageId,
		Timestamp:    msg.Timestamp,
		Headers:      headers,
		Body:         msg.Body,
	})
	if err != nil {
		log.WithError(err).Warn("requeue failed")
		_ = msg.Nack(false, true)
		return
	}
	log.Info("email job requeued")
	_ = msg.Ack(false)
}
