// executor/status_manager.go

package executor

import (
	"sort"
	"sync"
	"time"
)

const (
	StatusQueued    = "Queued"
	StatusRunning   = "Running"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

const maxLogLines = 100

type ExecutionStatus struct {
	Status    string
	Runs      int
	Files     int
	LastError string
	StartTime time.Time
	EndTime   time.Time
	LogLines  []string
}

// Duration is the length of the last run, or of the current one so far.
func (s ExecutionStatus) Duration() time.Duration {
	switch {
	case !s.EndTime.IsZero():
		return s.EndTime.Sub(s.StartTime)
	case !s.StartTime.IsZero():
		return time.Since(s.StartTime)
	}
	return 0
}

type StatusManager interface {
	SetStatus(name, status string)
	UpdateStatus(name, status string, startTime, endTime time.Time)
	SetFiles(name string, files int)
	MarkAsFailed(name string, err error)
	AppendLog(name, line string)
	FailedCount() int
	Snapshot() map[string]ExecutionStatus
	Names() []string
}

type statusManager struct {
	statusMap     map[string]*ExecutionStatus
	failedTargets []string
	mu            sync.Mutex
}

func NewStatusManager() StatusManager {
	return &statusManager{
		statusMap: make(map[string]*ExecutionStatus),
	}
}

func (sm *statusManager) get(name string) *ExecutionStatus {
	if _, exists := sm.statusMap[name]; !exists {
		sm.statusMap[name] = &ExecutionStatus{Status: StatusQueued}
	}
	return sm.statusMap[name]
}

func (sm *statusManager) SetStatus(name, status string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.get(name).Status = status
}

func (sm *statusManager) UpdateStatus(name, status string, startTime, endTime time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st := sm.get(name)
	st.Status = status
	if !startTime.IsZero() {
		st.StartTime = startTime
		st.EndTime = time.Time{}
		st.Runs++
	}
	if !endTime.IsZero() {
		st.EndTime = endTime
	}
	if status == StatusCompleted {
		st.LastError = ""
	}
}

func (sm *statusManager) SetFiles(name string, files int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.get(name).Files = files
}

func (sm *statusManager) MarkAsFailed(name string, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.failedTargets = append(sm.failedTargets, name)
	st := sm.get(name)
	st.Status = StatusFailed
	st.EndTime = time.Now()
	if err != nil {
		st.LastError = err.Error()
	}
}

func (sm *statusManager) AppendLog(name, line string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st := sm.get(name)
	st.LogLines = append(st.LogLines, line)
	if len(st.LogLines) > maxLogLines {
		st.LogLines = st.LogLines[len(st.LogLines)-maxLogLines:]
	}
}

func (sm *statusManager) FailedCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.failedTargets)
}

// Snapshot returns copies safe to read without the lock.
func (sm *statusManager) Snapshot() map[string]ExecutionStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make(map[string]ExecutionStatus, len(sm.statusMap))
	for name, st := range sm.statusMap {
		cp := *st
		cp.LogLines = append([]string(nil), st.LogLines...)
		out[name] = cp
	}
	return out
}

func (sm *statusManager) Names() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	names := make([]string, 0, len(sm.statusMap))
	for name := range sm.statusMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
