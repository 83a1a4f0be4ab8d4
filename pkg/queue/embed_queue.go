// Package queue hands embed work to background workers over Redis Streams,
// so an upload request returns as soon as the ledger row exists and the
// chunk/embed/index pipeline runs out-of-band.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ragserve/internal/util"
)

// Job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// EmbedJob tracks one file's trip through the embedding pipeline.
type EmbedJob struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	FileID       int64     `json:"fileId"`
	Filename     string    `json:"filename"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EmbedQueue is a Redis Streams work queue with at-least-once delivery and
// bounded retries.
type EmbedQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	once         sync.Once
}

// EmbedQueueConfig configures the queue; zero values get sane defaults.
type EmbedQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
}

// NewEmbedQueue validates config and connects.
func NewEmbedQueue(cfg EmbedQueueConfig) (*EmbedQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "embed_jobs"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "embedders"
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &EmbedQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: util.NewID(),
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
	}, nil
}

// Enqueue registers a new embed job for a ledger row.
func (q *EmbedQueue) Enqueue(ctx context.Context, ownerID string, fileID int64, filename string) (EmbedJob, error) {
	if strings.TrimSpace(ownerID) == "" || fileID <= 0 {
		return EmbedJob{}, errors.New("ownerId and fileId required")
	}
	now := time.Now().UTC()
	job := EmbedJob{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		FileID:    fileID,
		Filename:  filename,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return EmbedJob{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": job.ID},
	}).Err(); err != nil {
		return EmbedJob{}, err
	}
	return job, nil
}

// GetJob reads a job's current status.
func (q *EmbedQueue) GetJob(ctx context.Context, jobID string) (EmbedJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return EmbedJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return EmbedJob{}, false, err
	}
	if len(data) == 0 {
		return EmbedJob{}, false, nil
	}
	return decodeEmbedJob(jobID, data), true, nil
}

// Start launches consumer goroutines that run handler per job until ctx
// ends. Failed jobs are retried up to maxRetries, then marked failed.
func (q *EmbedQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, EmbedJob) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *EmbedQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// BUSYGROUP means the group already exists; any other error will
		// surface again on the first XReadGroup.
		_ = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	})
}

func (q *EmbedQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, EmbedJob) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *EmbedQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *EmbedQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, EmbedJob) error) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil || !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	_ = q.writeStatus(ctx, job)

	if err := handler(ctx, job); err == nil {
		job.Status = StatusDone
		job.ErrorMessage = ""
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
		q.ackAndDel(ctx, msg.ID)
		return
	} else if job.Attempts >= q.maxRetries {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
		q.ackAndDel(ctx, msg.ID)
		return
	} else {
		job.Status = StatusQueued
		job.ErrorMessage = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
	}

	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID)
}

func (q *EmbedQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *EmbedQueue) requeueAndAck(ctx context.Context, msgID, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *EmbedQueue) writeStatus(ctx context.Context, job EmbedJob) error {
	payload := map[string]any{
		"id":        job.ID,
		"ownerId":   job.OwnerID,
		"fileId":    strconv.FormatInt(job.FileID, 10),
		"filename":  job.Filename,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	key := q.jobKey(job.ID)
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *EmbedQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeEmbedJob(jobID string, data map[string]string) EmbedJob {
	job := EmbedJob{ID: jobID}
	job.OwnerID = data["ownerId"]
	job.Filename = data["filename"]
	job.Status = data["status"]
	job.ErrorMessage = data["error"]
	if v := data["fileId"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			job.FileID = n
		}
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
