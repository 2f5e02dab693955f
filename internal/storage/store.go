// Package storage persists generation inputs and outputs.
package storage

import "context"

// Store is an artifact store addressed by slash separated keys. Read and
// Delete report domain.ErrNotFound for keys that do not exist.
type Store interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*S3Store)(nil)
)

// InputKey and OutputKey name the two artifacts of a job.
func InputKey(jobID string) string {
	return "jobs/" + jobID + "/input"
}

func OutputKey(jobID string) string {
	return "jobs/" + jobID + "/output.mp4"
}
