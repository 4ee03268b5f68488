package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/student-records-api/pkg/helpers"
	"github.com/oksasatya/student-records-api/pkg/mailer"
	mailtpl "github.com/oksasatya/student-records-api/pkg/mailer/templates"
)

type fakeSender struct {
	err     error
	to      string
	subject string
	html    string
}

func (f *fakeSender) Send(_ context.Context, to, subject, _, html string) error {
	f.to, f.subject, f.html = to, subject, html
	return f.err
}

func encode(t *testing.T, job mailer.EmailJob) []byte {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return b
}

func TestHandleRendersTemplateAndSends(t *testing.T) {
	s := &fakeSender{}
	w := &worker{sender: s, logger: helpers.NewDiscardLogger()}

	data := mailtpl.NewStudentWelcomeData(nil, "Ana Lopez", "ana@example.com", mailtpl.WithEnrollment("A001"))
	out := w.handle(context.Background(), encode(t, mailer.EmailJob{To: "ana@example.com", Template: mailtpl.StudentWelcome, Data: data}))

	assert.Equal(t, outcomeAck, out)
	assert.Equal(t, "ana@example.com", s.to)
	assert.NotEmpty(t, s.subject)
	assert.Contains(t, s.html, "A001")
}

func TestHandlePlainJobFallsBackToDefaultSubject(t *testing.T) {
	s := &fakeSender{}
	w := &worker{sender: s, logger: helpers.NewDiscardLogger()}

	out := w.handle(context.Background(), encode(t, mailer.EmailJob{To: "a@x.com", Text: "hola"}))
	assert.Equal(t, outcomeAck, out)
	assert.Equal(t, "Notification", s.subject)
}

func TestHandleOutcomes(t *testing.T) {
	logger := helpers.NewDiscardLogger()

	w := &worker{sender: &fakeSender{}, logger: logger}
	assert.Equal(t, outcomeDrop, w.handle(context.Background(), []byte("{nope")))
	assert.Equal(t, outcomeDrop, w.handle(context.Background(), encode(t, mailer.EmailJob{Text: "no recipient"})))
	assert.Equal(t, outcomeDrop, w.handle(context.Background(), encode(t, mailer.EmailJob{To: "a@x.com", Template: "missing"})))

	w = &worker{sender: &fakeSender{err: errors.New("mailgun down")}, logger: logger}
	assert.Equal(t, outcomeRetry, w.handle(context.Background(), encode(t, mailer.EmailJob{To: "a@x.com", Text: "hola"})))
}

type fakeAcker struct {
	acked, nacked, requeued bool
}

func (a *fakeAcker) Ack(uint64, bool) error { a.acked = true; return nil }
func (a *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}
func (a *fakeAcker) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

type fakePublisher struct {
	err  error
	sent []amqp.Publishing
}

func (p *fakePublisher) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	p.sent = append(p.sent, msg)
	return p.err
}

func delivery(acker *fakeAcker, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{Acknowledger: acker, Headers: headers, MessageId: "m1", Body: []byte(`{"to":"a@x.com"}`)}
}

func TestRetryRequeuesWithNextAttempt(t *testing.T) {
	w := &worker{logger: helpers.NewDiscardLogger(), backoff: func(int) time.Duration { return 0 }}
	acker := &fakeAcker{}
	pub := &fakePublisher{}

	w.retry(context.Background(), pub, "emails", delivery(acker, nil))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, int32(2), pub.sent[0].Headers[attemptHeader])
	assert.Equal(t, "m1", pub.sent[0].MessageId)
	assert.True(t, acker.acked)
	assert.False(t, acker.nacked)
}

func TestRetryDropsAfterMaxAttempts(t *testing.T) {
	w := &worker{logger: helpers.NewDiscardLogger(), backoff: func(int) time.Duration { return 0 }}
	acker := &fakeAcker{}
	pub := &fakePublisher{}

	w.retry(context.Background(), pub, "emails", delivery(acker, amqp.Table{attemptHeader: int32(maxAttempts)}))

	assert.Empty(t, pub.sent)
	assert.True(t, acker.nacked)
	assert.False(t, acker.requeued)
}

func TestRetryRequeuesOriginalWhenPublishFails(t *testing.T) {
	w := &worker{logger: helpers.NewDiscardLogger(), backoff: func(int) time.Duration { return 0 }}
	acker := &fakeAcker{}

	w.retry(context.Background(), &fakePublisher{err: errors.New("closed")}, "emails", delivery(acker, amqp.Table{attemptHeader: int64(2)}))

	assert.False(t, acker.acked)
	assert.True(t, acker.requeued)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(1))
	assert.Equal(t, 8*time.Second, retryDelay(4))
	assert.Equal(t, time.Minute, retryDelay(30))
}
