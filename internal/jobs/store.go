package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Dan9191/tsf-backend/internal/models"
)

// Store persists job status records
type Store interface {
	Save(ctx context.Context, job *models.Job) error
	Load(ctx context.Context, id string) (*models.Job, error)
}

// validID rejects anything that is not a job id before it reaches a path or key
func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("job %q: %w", id, models.ErrNotFound)
	}
	return nil
}

// OutputPath is where the forecast table of a job is written
func OutputPath(dir, id string) string {
	return filepath.Join(dir, id+".csv")
}

// FileStore keeps one JSON status file per job
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create jobs dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the status file through a temporary file so readers never see a partial record
func (s *FileStore) Save(_ context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job status: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, job.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write job status: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write job status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write job status: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(job.ID)); err != nil {
		return fmt.Errorf("failed to write job status: %w", err)
	}
	return nil
}

// Load reads a status file
func (s *FileStore) Load(_ context.Context, id string) (*models.Job, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	return &job, nil
}

// Redis key layout
const (
	jobKeyPrefix = "tsf:job:"
	QueueKey     = "tsf:jobs:queue"
)

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// RedisStore keeps job status as a Redis hash that expires after ttl
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store on an existing client. ttl <= 0 keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Save writes every status field and refreshes the key TTL
func (s *RedisStore) Save(ctx context.Context, job *models.Job) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to encode job request: %w", err)
	}
	fields := map[string]any{
		"job_id":      job.ID,
		"state":       string(job.State),
		"progress":    job.Progress,
		"message":     job.Message,
		"output_file": job.OutputFile,
		"error":       job.Error,
		"request":     string(req),
		"created_at":  job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  job.UpdatedAt.Format(time.RFC3339Nano),
	}

	key := jobKey(job.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store job status: %w", err)
	}
	return nil
}

// Load reads a status hash
func (s *RedisStore) Load(ctx context.Context, id string) (*models.Job, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	values, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}

	job := &models.Job{
		ID:         values["job_id"],
		State:      models.JobState(values["state"]),
		Message:    values["message"],
		OutputFile: values["output_file"],
		Error:      values["error"],
	}
	if job.Progress, err = strconv.Atoi(values["progress"]); err != nil {
		return nil, fmt.Errorf("failed to decode job progress: %w", err)
	}
	if err := json.Unmarshal([]byte(values["request"]), &job.Request); err != nil {
		return nil, fmt.Errorf("failed to decode job request: %w", err)
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, values["created_at"]); err != nil {
		return nil, fmt.Errorf("failed to decode job timestamps: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, values["updated_at"]); err != nil {
		return nil, fmt.Errorf("failed to decode job timestamps: %w", err)
	}
	return job, nil
}
