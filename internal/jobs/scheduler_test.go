package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopka007/IoT-sub000/internal/queue"
)

type fakePurger struct {
	calls int
	err   error
}

func (f *fakePurger) PurgeExpiredSessions(context.Context) (int64, error) {
	f.calls++
	return 2, f.err
}

type fakeQueue struct {
	tasks []string
}

func (f *fakeQueue) Enqueue(_ context.Context, taskType string, _ any) (string, error) {
	f.tasks = append(f.tasks, taskType)
	return "1-0", nil
}

func TestSchedulerJobs(t *testing.T) {
	purger := &fakePurger{}
	q := &fakeQueue{}
	s := NewScheduler(purger, q, zerolog.Nop())

	s.PurgeSessions()
	s.EnqueueBatterySweep()

	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, []string{queue.TaskBatterySweep}, q.tasks)
}

func TestSchedulerStartsWithoutQueue(t *testing.T) {
	s := NewScheduler(&fakePurger{err: errors.New("db down")}, nil, zerolog.Nop())
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	s.PurgeSessions()
	s.Stop()
}
