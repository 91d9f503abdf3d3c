package api

import (
	"slices"
	"strings"
	"time"

	"gavel/internal/breaker"
	"gavel/internal/deps"
	"gavel/internal/health"
	"gavel/internal/queue"
	"gavel/internal/stage"
	"gavel/internal/taskstate"
)

// FromTaskRecord converts a task record to its API representation.
func FromTaskRecord(record *taskstate.TaskRecord) TaskView {
	if record == nil {
		return TaskView{}
	}
	view := TaskView{
		TaskID:        record.TaskID,
		Kind:          string(record.Kind),
		Stage:         string(record.Stage),
		Status:        string(record.Status),
		Priority:      record.Priority,
		Parameters:    copyStringMap(record.Parameters),
		Progress:      copyStringMap(record.Progress),
		FailureReason: record.FailureReason,
		CreatedAt:     FormatTime(record.CreatedAt),
		UpdatedAt:     FormatTime(record.UpdatedAt),
	}
	return view
}

// FromTaskRecords converts a slice of task records into API DTOs.
func FromTaskRecords(records []*taskstate.TaskRecord) []TaskView {
	if len(records) == 0 {
		return nil
	}
	out := make([]TaskView, 0, len(records))
	for _, record := range records {
		out = append(out, FromTaskRecord(record))
	}
	return out
}

// FromBrokerTask converts a broker row into the queue entry DTO.
func FromBrokerTask(task *queue.Task) *QueueEntry {
	if task == nil {
		return nil
	}
	entry := &QueueEntry{
		State:       string(task.Status),
		Priority:    task.Priority,
		Attempts:    task.Attempts,
		WorkerID:    task.WorkerID,
		AvailableAt: FormatTime(task.AvailableAt),
	}
	if task.LeaseExpiresAt != nil {
		entry.LeaseExpiresAt = FormatTime(*task.LeaseExpiresAt)
	}
	return entry
}

// FromQueueSummary converts broker counts to the API payload.
func FromQueueSummary(summary queue.Summary) QueueStats {
	return QueueStats{
		Total:   summary.Total,
		Ready:   summary.Ready,
		Delayed: summary.Delayed,
		Leased:  summary.Leased,
	}
}

// StageHealthSlice converts stage health reports into a deterministic slice.
func StageHealthSlice(reports []stage.Health) []StageHealth {
	if len(reports) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(reports))
	for _, report := range reports {
		out = append(out, StageHealth{Name: report.Name, Ready: report.Ready, Detail: report.Detail})
	}
	slices.SortFunc(out, func(a, b StageHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// FromHealthRecord converts one probe record into its API representation.
func FromHealthRecord(record health.Record) HealthComponent {
	return HealthComponent{
		ComponentID: record.ComponentID,
		Status:      string(record.Status),
		Message:     record.Message,
		CheckedAt:   FormatTime(record.CheckedAt),
		LatencyMS:   record.LatencyMS,
	}
}

// FromHealthRecords converts probe records into a deterministic report. The
// aggregate is the worst status across components; an empty snapshot reports
// unhealthy because nothing has been verified yet.
func FromHealthRecords(records []health.Record) HealthReport {
	if len(records) == 0 {
		return HealthReport{Aggregate: string(health.StatusUnhealthy)}
	}
	aggregate := health.StatusHealthy
	components := make([]HealthComponent, 0, len(records))
	for _, record := range records {
		aggregate = health.Worst(aggregate, record.Status)
		components = append(components, FromHealthRecord(record))
	}
	slices.SortFunc(components, func(a, b HealthComponent) int {
		return strings.Compare(a.ComponentID, b.ComponentID)
	})
	return HealthReport{Aggregate: string(aggregate), Components: components}
}

// FromCircuitSnapshots converts circuit breaker snapshots to API DTOs.
func FromCircuitSnapshots(snapshots []breaker.Snapshot) []CircuitView {
	if len(snapshots) == 0 {
		return nil
	}
	out := make([]CircuitView, 0, len(snapshots))
	for _, snap := range snapshots {
		view := CircuitView{
			Name:           snap.Name,
			State:          string(snap.State),
			RecentFailures: snap.RecentFailures,
		}
		if snap.OpenedAt != nil {
			view.OpenedAt = FormatTime(*snap.OpenedAt)
		}
		out = append(out, view)
	}
	return out
}

// FromDependencyStatuses converts binary check outcomes to API DTOs.
func FromDependencyStatuses(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, DependencyStatus{
			Name:        status.Name,
			Command:     status.Command,
			Description: status.Description,
			Optional:    status.Optional,
			Available:   status.Available,
			Detail:      status.Detail,
		})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
