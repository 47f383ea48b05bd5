package store

import (
	"context"
	"testing"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()

	newJob := func(t *testing.T) Store {
		s, err := NewInMemoryStore()
		require.NoError(t, err)
		require.NoError(t, s.CreateJob(ctx, api.JobSpec{ID: "job1"}, []string{"a", "b"}))
		return s
	}

	t.Run("create starts pending", func(t *testing.T) {
		s := newJob(t)
		status, err := s.GetJobStatus(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, api.StatusPending, status)

		statuses, err := s.GetTaskStatuses(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, map[string]api.Status{"a": api.StatusPending, "b": api.StatusPending}, statuses)
	})

	t.Run("unknown job", func(t *testing.T) {
		s := newJob(t)
		_, err := s.GetJobStatus(ctx, "ghost")
		assert.True(t, IsNotFound(err))
		_, err = s.GetTaskStatus(ctx, "job1", "ghost")
		assert.True(t, IsNotFound(err))
	})

	t.Run("task transitions and error", func(t *testing.T) {
		s := newJob(t)
		start := time.Now()
		require.NoError(t, s.SetTaskStatus(ctx, "job1", "a", api.StatusRunning, TimeOption{StartTime: start}))
		require.NoError(t, s.SetTaskStatus(ctx, "job1", "a", api.StatusFailed, TimeOption{EndTime: start.Add(time.Second)}))
		require.NoError(t, s.SetTaskError(ctx, "job1", "a", errors.New("container exited with code 1")))

		ts, err := s.GetTaskState(ctx, "job1", "a")
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, ts.Status)
		assert.Equal(t, "container exited with code 1", ts.Error)
		require.NotNil(t, ts.StartTime)
		require.NotNil(t, ts.EndTime)
	})

	t.Run("finished when all terminal", func(t *testing.T) {
		s := newJob(t)
		fin, err := s.IsJobFinished(ctx, "job1")
		require.NoError(t, err)
		assert.False(t, fin)

		require.NoError(t, s.SetTaskStatus(ctx, "job1", "a", api.StatusCompleted, TimeOption{}))
		require.NoError(t, s.SetTaskStatus(ctx, "job1", "b", api.StatusCancelled, TimeOption{}))
		fin, err = s.IsJobFinished(ctx, "job1")
		require.NoError(t, err)
		assert.True(t, fin)
	})

	t.Run("job state keeps declaration order", func(t *testing.T) {
		s := newJob(t)
		js, err := s.GetJobState(ctx, "job1")
		require.NoError(t, err)
		require.Len(t, js.Tasks, 2)
		assert.Equal(t, "a", js.Tasks[0].ID)
		assert.Equal(t, "b", js.Tasks[1].ID)
		assert.NotNil(t, js.CreateTime)
	})

	t.Run("output registry", func(t *testing.T) {
		s := newJob(t)
		_, err := s.TaskOutputDir(ctx, "job1", "a")
		assert.True(t, IsNotFound(err))

		require.NoError(t, s.SetTaskOutputDir(ctx, "job1", "a", "/mnt/batch/tasks/job1/a/wd"))
		dir, err := s.TaskOutputDir(ctx, "job1", "a")
		require.NoError(t, err)
		assert.Equal(t, "/mnt/batch/tasks/job1/a/wd", dir)
	})

	t.Run("list jobs", func(t *testing.T) {
		s := newJob(t)
		require.NoError(t, s.CreateJob(ctx, api.JobSpec{ID: "job2"}, []string{"x"}))
		require.NoError(t, s.SetJobStatus(ctx, "job2", api.StatusRunning, TimeOption{StartTime: time.Now()}))

		jobs, err := s.ListJobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]api.Status{
			"job1": api.StatusPending,
			"job2": api.StatusRunning,
		}, jobs)
	})
}
