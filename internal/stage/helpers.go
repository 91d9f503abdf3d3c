package stage

import (
	"fmt"
	"os"

	"gavel/internal/services"
	"gavel/internal/taskstate"
)

// RequireProgress fetches a prior stage's recorded output. A missing key is
// a validation error: the record reached this stage without the output it
// depends on, which resume treats as an inconsistency.
func RequireProgress(record *taskstate.TaskRecord, stage taskstate.Stage, key string) (string, error) {
	value, ok := record.ProgressValue(key)
	if ok && value != "" {
		return value, nil
	}
	return "", services.Wrap(
		services.ErrValidation, string(stage), "require_progress",
		fmt.Sprintf("missing %s from an earlier stage; resume restarts from the producing stage", key), nil)
}

// RequireFile fetches a prior stage's recorded output and verifies the file
// still exists on disk. Artifacts can vanish between attempts (cleanup,
// expired workdirs); reporting that precisely beats failing inside a tool.
func RequireFile(record *taskstate.TaskRecord, stage taskstate.Stage, key string) (string, error) {
	path, err := RequireProgress(record, stage, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", services.Wrap(
			services.ErrValidation, string(stage), "require_file",
			fmt.Sprintf("%s artifact %s is gone", key, path), err)
	}
	return path, nil
}

// RequireParameter fetches a creation-time parameter.
func RequireParameter(record *taskstate.TaskRecord, stage taskstate.Stage, key string) (string, error) {
	value, ok := record.Parameter(key)
	if ok && value != "" {
		return value, nil
	}
	return "", services.Wrap(
		services.ErrValidation, string(stage), "require_parameter",
		fmt.Sprintf("task was created without required parameter %s", key), nil)
}
