package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebetica/batch-shipyard/pkg/api"
)

type job struct {
	spec       api.JobSpec
	status     api.Status
	tasks      map[string]*task
	order      []string
	createTime *time.Time
	startTime  *time.Time
	endTime    *time.Time
}

type task struct {
	id        string
	status    api.Status
	cause     error
	outputDir string
	startTime *time.Time
	endTime   *time.Time
}

// NewInMemoryStore returns a new InMemory store.
// Task state is written by the driver while the registry and the read-only
// surface are read concurrently, hence the lock.
func NewInMemoryStore() (Store, error) {
	return &inMemory{
		jobs: make(map[string]*job),
	}, nil
}

type inMemory struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

func (s *inMemory) CreateJob(ctx context.Context, spec api.JobSpec, taskIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	j := job{
		spec:       spec,
		status:     api.StatusPending,
		tasks:      make(map[string]*task, len(taskIDs)),
		order:      append([]string(nil), taskIDs...),
		createTime: &now,
	}
	for _, id := range taskIDs {
		j.tasks[id] = &task{
			id:     id,
			status: api.StatusPending,
		}
	}
	s.jobs[spec.ID] = &j
	return nil
}

func (s *inMemory) SetJobStatus(ctx context.Context, jobID string, status api.Status, opt TimeOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, exists := s.jobs[jobID]
	if !exists {
		return NotFoundError(fmt.Sprintf("job %s", jobID))
	}
	j.status = status
	if !opt.StartTime.IsZero() {
		t := opt.StartTime
		j.startTime = &t
	}
	if !opt.EndTime.IsZero() {
		t := opt.EndTime
		j.endTime = &t
	}
	return nil
}

func (s *inMemory) GetJobStatus(ctx context.Context, jobID string) (api.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, exists := s.jobs[jobID]
	if !exists {
		return "", NotFoundError(fmt.Sprintf("job %s", jobID))
	}
	return j.status, nil
}

func (s *inMemory) SetTaskStatus(ctx context.Context, jobID, taskID string, status api.Status, opt TimeOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.task(jobID, taskID)
	if err != nil {
		return err
	}
	t.status = status
	if !opt.StartTime.IsZero() {
		st := opt.StartTime
		t.startTime = &st
	}
	if !opt.EndTime.IsZero() {
		et := opt.EndTime
		t.endTime = &et
	}
	return nil
}

func (s *inMemory) GetTaskStatus(ctx context.Context, jobID, taskID string) (api.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.task(jobID, taskID)
	if err != nil {
		return "", err
	}
	return t.status, nil
}

func (s *inMemory) GetTaskStatuses(ctx context.Context, jobID string) (map[string]api.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, exists := s.jobs[jobID]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("job %s", jobID))
	}
	res := make(map[string]api.Status, len(j.tasks))
	for id, t := range j.tasks {
		res[id] = t.status
	}
	return res, nil
}

func (s *inMemory) SetTaskError(ctx context.Context, jobID, taskID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.task(jobID, taskID)
	if err != nil {
		return err
	}
	t.cause = cause
	return nil
}

func (s *inMemory) IsJobFinished(ctx context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, exists := s.jobs[jobID]
	if !exists {
		return false, NotFoundError(fmt.Sprintf("job %s", jobID))
	}
	for _, t := range j.tasks {
		if !t.status.Finished() {
			return false, nil
		}
	}
	return true, nil
}

func (s *inMemory) SetTaskOutputDir(ctx context.Context, jobID, taskID, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.task(jobID, taskID)
	if err != nil {
		return err
	}
	t.outputDir = dir
	return nil
}

func (s *inMemory) TaskOutputDir(ctx context.Context, jobID, taskID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.task(jobID, taskID)
	if err != nil {
		return "", err
	}
	if t.outputDir == "" {
		return "", NotFoundError(fmt.Sprintf("output directory of task %s in job %s", taskID, jobID))
	}
	return t.outputDir, nil
}

func (s *inMemory) ListJobs(ctx context.Context) (map[string]api.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make(map[string]api.Status, len(s.jobs))
	for id, j := range s.jobs {
		res[id] = j.status
	}
	return res, nil
}

func (s *inMemory) GetJobState(ctx context.Context, jobID string) (api.JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, exists := s.jobs[jobID]
	if !exists {
		return api.JobState{}, NotFoundError(fmt.Sprintf("job %s", jobID))
	}
	state := api.JobState{
		ID:         jobID,
		Status:     j.status,
		CreateTime: j.createTime,
		StartTime:  j.startTime,
		EndTime:    j.endTime,
	}
	// tasks are reported in declaration order
	for _, id := range j.order {
		state.Tasks = append(state.Tasks, taskState(j.tasks[id]))
	}
	return state, nil
}

func (s *inMemory) GetTaskState(ctx context.Context, jobID, taskID string) (api.TaskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.task(jobID, taskID)
	if err != nil {
		return api.TaskState{}, err
	}
	return taskState(t), nil
}

// task expects the lock to be held.
func (s *inMemory) task(jobID, taskID string) (*task, error) {
	j, exists := s.jobs[jobID]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("job %s", jobID))
	}
	t, exists := j.tasks[taskID]
	if !exists {
		return nil, NotFoundError(fmt.Sprintf("task %s in job %s", taskID, jobID))
	}
	return t, nil
}

func taskState(t *task) api.TaskState {
	state := api.TaskState{
		ID:        t.id,
		Status:    t.status,
		StartTime: t.startTime,
		EndTime:   t.endTime,
	}
	if t.cause != nil {
		state.Error = t.cause.Error()
	}
	return state
}
