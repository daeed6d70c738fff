package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dohr-michael/steward/internal/tasks"
)

func TestParseCronValid(t *testing.T) {
	expr, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", expr.String())

	_, err = ParseCron("@daily")
	require.NoError(t, err)
}

func TestParseCronInvalid(t *testing.T) {
	_, err := ParseCron("not a cron")
	assert.Error(t, err)
}

func TestCronExprNext(t *testing.T) {
	expr, err := ParseCron("0 12 * * *")
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), expr.Next(base))
}

type recordingCreator struct {
	mu  sync.Mutex
	got []tasks.NewTask
}

func (r *recordingCreator) Create(_ context.Context, in tasks.NewTask) (*tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, in)
	return &tasks.Task{ID: tasks.NewID(), Title: in.Title}, nil
}

func TestNewProducersValidates(t *testing.T) {
	_, err := NewProducers(&recordingCreator{}, []Recurring{{Cron: "bad", Title: "x"}})
	assert.Error(t, err)
	_, err = NewProducers(&recordingCreator{}, []Recurring{{Cron: "@daily"}})
	assert.Error(t, err)
}

func TestProducerFireCreatesTask(t *testing.T) {
	c := &recordingCreator{}
	p, err := NewProducers(c, []Recurring{{Cron: "@hourly", Title: "Review inbox", Tags: []string{"mail"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	p.fire(p.entries[0])()
	require.Len(t, c.got, 1)
	assert.Equal(t, "Review inbox", c.got[0].Title)
	assert.Equal(t, []string{"scheduled", "mail"}, c.got[0].Tags)
}

func TestProducersRunStops(t *testing.T) {
	p, err := NewProducers(&recordingCreator{}, []Recurring{{Cron: "@yearly", Title: "x"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producers did not stop")
	}
}
