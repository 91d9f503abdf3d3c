package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gavel/internal/api"
	"gavel/internal/publisher"
)

func buildQueueStatusRows(stats api.QueueStats) [][]string {
	return [][]string{
		{"Ready", fmt.Sprintf("%d", stats.Ready)},
		{"Delayed", fmt.Sprintf("%d", stats.Delayed)},
		{"Leased", fmt.Sprintf("%d", stats.Leased)},
		{"Total", fmt.Sprintf("%d", stats.Total)},
	}
}

func buildTaskRows(tasks []api.TaskView) [][]string {
	if len(tasks) == 0 {
		return nil
	}
	sorted := make([]api.TaskView, len(tasks))
	copy(sorted, tasks)

	sort.Slice(sorted, func(i, j int) bool {
		ti := parseTaskTime(sorted[i].CreatedAt)
		tj := parseTaskTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].TaskID < sorted[j].TaskID
		}
		return ti.After(tj)
	})

	rows := make([][]string, 0, len(sorted))
	for _, task := range sorted {
		rows = append(rows, []string{
			shortID(task.TaskID),
			taskTitle(task),
			formatStatusLabel(task.Status),
			formatStatusLabel(task.Stage),
			fmt.Sprintf("%d", task.Priority),
			formatDisplayTime(task.CreatedAt),
		})
	}
	return rows
}

// taskTitle derives a display title from the recording filename, falling back
// to the bare basename when no meeting date is embedded in it.
func taskTitle(task api.TaskView) string {
	source := strings.TrimSpace(task.Parameters["source_path"])
	if source == "" {
		return "Unknown"
	}
	if title, _, ok := publisher.DeriveTitle(source); ok {
		return title
	}
	return filepath.Base(source)
}

func buildHealthRows(components []api.HealthComponent) [][]string {
	rows := make([][]string, 0, len(components))
	for _, component := range components {
		rows = append(rows, []string{
			component.ComponentID,
			formatStatusLabel(component.Status),
			fmt.Sprintf("%dms", component.LatencyMS),
			formatDisplayTime(component.CheckedAt),
			component.Message,
		})
	}
	return rows
}

func healthStatusKind(value string) statusKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "healthy":
		return statusOK
	case "degraded":
		return statusWarn
	case "unhealthy":
		return statusError
	default:
		return statusInfo
	}
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func parseTaskTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
