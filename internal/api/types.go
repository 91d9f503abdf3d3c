package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TaskView describes a task record in a transport-friendly format.
type TaskView struct {
	TaskID        string            `json:"taskId"`
	Kind          string            `json:"kind"`
	Stage         string            `json:"stage,omitempty"`
	Status        string            `json:"status"`
	Priority      int               `json:"priority"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Progress      map[string]string `json:"progress,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	CreatedAt     string            `json:"createdAt,omitempty"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
	Queue         *QueueEntry       `json:"queue,omitempty"`
}

// QueueEntry describes the broker row behind a task, when one exists.
type QueueEntry struct {
	State          string `json:"state"`
	Priority       int    `json:"priority"`
	Attempts       int    `json:"attempts"`
	WorkerID       string `json:"workerId,omitempty"`
	AvailableAt    string `json:"availableAt,omitempty"`
	LeaseExpiresAt string `json:"leaseExpiresAt,omitempty"`
}

// QueueStats summarizes broker dispatch counts.
type QueueStats struct {
	Total   int `json:"total"`
	Ready   int `json:"ready"`
	Delayed int `json:"delayed"`
	Leased  int `json:"leased"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthComponent is the latest probe outcome for one monitored component.
type HealthComponent struct {
	ComponentID string `json:"componentId"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	CheckedAt   string `json:"checkedAt,omitempty"`
	LatencyMS   int64  `json:"latencyMs"`
}

// HealthReport aggregates component health for API consumers.
type HealthReport struct {
	Aggregate  string            `json:"aggregate"`
	Components []HealthComponent `json:"components"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CircuitView reports the state of one protective circuit.
type CircuitView struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	RecentFailures int    `json:"recentFailures"`
	OpenedAt       string `json:"openedAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Workers      int                `json:"workers"`
	QueueStats   QueueStats         `json:"queueStats"`
	StageHealth  []StageHealth      `json:"stageHealth"`
	Health       string             `json:"health,omitempty"`
	StateDBPath  string             `json:"stateDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
	Circuits     []CircuitView      `json:"circuits,omitempty"`
}

// EnqueueRequest submits a new task.
type EnqueueRequest struct {
	Kind       string            `json:"kind"`
	Parameters map[string]string `json:"parameters"`
}

// ReorderRequest moves a pending task to a new queue position.
type ReorderRequest struct {
	Position int `json:"position"`
}

// ReorderResponse reports the position a task landed on.
type ReorderResponse struct {
	TaskID   string `json:"taskId"`
	Position int    `json:"position"`
}

// TaskListResponse wraps a collection of tasks for API responses.
type TaskListResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task TaskView `json:"task"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
