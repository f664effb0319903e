package store

import (
	"context"
	"os"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror replicates artifact bytes to an S3-compatible bucket, off the hot
// path of signed-URL minting. Signed URLs always serve from the local
// content-addressed store (spec §4.2); the mirror is a durability add-on in
// the spirit of the teacher's Restore/Hoard upload flow in
// internal/runner/artifacts.go, adapted to a fire-and-forget queue since
// nothing downstream blocks on it succeeding.
type Mirror struct {
	client *minio.Client
	bucket string
	jobs   chan mirrorJob
	errorC chan kv.Error
}

type mirrorJob struct {
	id          string
	path        string
	contentType string
}

// NewMirror connects to an S3-compatible endpoint and starts a background
// worker that drains enqueued uploads. ErrorC receives any upload failures;
// the caller is expected to log them, since artifact mirroring never blocks
// or fails a run.
func NewMirror(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, errorC chan kv.Error) (m *Mirror, err kv.Error) {
	cli, errGo := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	m = &Mirror{
		client: cli,
		bucket: bucket,
		jobs:   make(chan mirrorJob, 64),
		errorC: errorC,
	}
	go m.run(ctx)
	return m, nil
}

// Enqueue schedules path to be uploaded under id in the mirror bucket.
// Non-blocking: if the queue is full the job is dropped and reported on
// the error channel rather than backing up artifact ingestion.
func (m *Mirror) Enqueue(id, path, contentType string) {
	job := mirrorJob{id: id, path: path, contentType: contentType}
	select {
	case m.jobs <- job:
	default:
		go reportErr(kv.NewError("mirror queue full, dropping artifact upload").With("id", id, "stack", stack.Trace().TrimRuntime()), m.errorC)
	}
}

func (m *Mirror) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			m.upload(ctx, job)
		}
	}
}

func (m *Mirror) upload(ctx context.Context, job mirrorJob) {
	f, errGo := os.Open(job.path)
	if errGo != nil {
		reportErr(kv.Wrap(errGo).With("id", job.id, "stack", stack.Trace().TrimRuntime()), m.errorC)
		return
	}
	defer f.Close()

	info, errGo := f.Stat()
	if errGo != nil {
		reportErr(kv.Wrap(errGo).With("id", job.id, "stack", stack.Trace().TrimRuntime()), m.errorC)
		return
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, errGo := m.client.PutObject(uploadCtx, m.bucket, job.id, f, info.Size(), minio.PutObjectOptions{ContentType: job.contentType}); errGo != nil {
		reportErr(kv.Wrap(errGo).With("id", job.id, "stack", stack.Trace().TrimRuntime()), m.errorC)
	}
}

func reportErr(err kv.Error, errorC chan kv.Error) {
	if err == nil || errorC == nil {
		return
	}
	select {
	case errorC <- err:
	case <-time.After(time.Second):
	}
}
