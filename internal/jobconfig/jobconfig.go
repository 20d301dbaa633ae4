// Package jobconfig materializes a JobRequest (with ExecutorType already
// stamped) as a JSON file on disk, handed to a job as its cfg_file=
// argument. Both dispatch backends need this, not just the Cluster Agent:
// the Compute-side Reporter's swallow-vs-self-report branch (reporter.Run)
// is keyed entirely on ExecutorType, and a spawned job has no way to learn
// which backend dispatched it other than reading it back from this file.
package jobconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/prubach/kafka-slurm-agent/internal/model"
)

var invalidFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Materialize writes req as a JSON file under dir, named after the job plus a
// random suffix from os.CreateTemp, so no two dispatches share a file. The
// caller owns the
// file's lifetime — it is not removed here, since it must outlive this call
// until the spawned job's Reporter reads it.
func Materialize(dir string, req model.JobRequest) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("jobconfig: creating dir: %w", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("jobconfig: encoding job config: %w", err)
	}
	f, err := os.CreateTemp(dir, SanitizeFilename(req.InputJobID)+"-*.json")
	if err != nil {
		return "", fmt.Errorf("jobconfig: creating job config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("jobconfig: writing job config: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("jobconfig: writing job config: %w", err)
	}
	return f.Name(), nil
}

// SanitizeFilename replaces every character not safe in a bare filename
// with "_".
func SanitizeFilename(key model.JobKey) string {
	return invalidFilenameChars.ReplaceAllString(key, "_")
}
