package jobtrace

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cuongbtq/jobtrace/internal/queue"
)

// JobKey correlates the Started event of a job occurrence with its terminal event
type JobKey string

// Resolve returns the correlation key for job.
//
// The queue-assigned id is used verbatim when present. Otherwise the key is the hex SHA-256 of the
// raw body, so two occurrences with byte-identical bodies and no id share a key.
func Resolve(job queue.Job) JobKey {
	if id := job.JobID(); id != "" {
		return JobKey(id)
	}

	sum := sha256.Sum256(job.RawBody())
	return JobKey(hex.EncodeToString(sum[:]))
}
