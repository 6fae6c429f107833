package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
)

type recordingSender struct {
	typ string
	err error

	mu   sync.Mutex
	got  []notification.Message
	seen []string
}

func (s *recordingSender) Type() string { return s.typ }

func (s *recordingSender) Send(_ context.Context, ch notification.Channel, msg notification.Message) error {
	s.mu.Lock()
	s.got = append(s.got, msg)
	s.seen = append(s.seen, ch.ID)
	s.mu.Unlock()
	return s.err
}

type panickingSender struct{}

func (panickingSender) Type() string { return "panic" }

func (panickingSender) Send(context.Context, notification.Channel, notification.Message) error {
	panic("sender exploded")
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	ok := &recordingSender{typ: "ok"}
	bad := &recordingSender{typ: "bad", err: errors.New("smtp down")}
	d := NewDispatcher(zap.NewNop(), time.Second, ok, bad, panickingSender{})

	msg := notification.Message{Title: "t", Body: "b"}
	d.Dispatch(context.Background(), []notification.Channel{
		{ID: "c1", Type: "ok"},
		{ID: "c2", Type: "bad"},
		{ID: "c3", Type: "panic"},
		{ID: "c4", Type: "unknown"},
		{ID: "c5", Type: "ok"},
	}, msg)

	assert.ElementsMatch(t, []string{"c1", "c5"}, ok.seen)
	assert.Equal(t, []notification.Message{msg, msg}, ok.got)
	assert.Equal(t, []string{"c2"}, bad.seen)
}

func TestDispatcher_NoChannels(t *testing.T) {
	ok := &recordingSender{typ: "ok"}
	NewDispatcher(zap.NewNop(), 0, ok).Dispatch(context.Background(), nil, notification.Message{})
	assert.Empty(t, ok.seen)
}
