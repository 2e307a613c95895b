package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JourneyStatus is the single internal encoding of a journey's status. The
// data source sends either symbolic names or legacy numeric codes; both are
// normalized here and nowhere else.
type JourneyStatus int

const (
	StatusPlanned JourneyStatus = iota
	StatusInProgress
	StatusCompleted
	StatusCancelled
	StatusOnHold
)

var statusNames = [...]string{"Planned", "InProgress", "Completed", "Cancelled", "OnHold"}

func (s JourneyStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "JourneyStatus(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

// Active reports whether the journey is planned or running.
func (s JourneyStatus) Active() bool { return s == StatusPlanned || s == StatusInProgress }

// ParseStatus accepts symbolic names in any common casing ("InProgress",
// "in_progress", "in-progress") and legacy numeric codes ("1" or 1).
func ParseStatus(v string) (JourneyStatus, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return statusFromCode(n)
	}
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(v))
	switch key {
	case "planned", "scheduled", "pending":
		return StatusPlanned, nil
	case "inprogress", "active", "started":
		return StatusInProgress, nil
	case "completed", "done", "finished":
		return StatusCompleted, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "onhold", "paused", "hold":
		return StatusOnHold, nil
	}
	return 0, fmt.Errorf("unknown journey status %q", v)
}

func statusFromCode(n int) (JourneyStatus, error) {
	if n < 0 || n >= len(statusNames) {
		return 0, fmt.Errorf("unknown journey status code %d", n)
	}
	return JourneyStatus(n), nil
}

func (s JourneyStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *JourneyStatus) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		st, err := ParseStatus(v)
		if err != nil {
			return err
		}
		*s = st
	case float64:
		if v != float64(int(v)) {
			return fmt.Errorf("non-integer journey status %v", v)
		}
		st, err := statusFromCode(int(v))
		if err != nil {
			return err
		}
		*s = st
	case nil:
		*s = StatusPlanned
	default:
		return fmt.Errorf("unsupported journey status %s", string(b))
	}
	return nil
}

// ParseSeverity normalizes an alert severity. An empty value is treated as
// high; anything outside the known set is rejected.
func ParseSeverity(v string) (Severity, error) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(v))); s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return s, nil
	case "":
		return SeverityHigh, nil
	}
	return "", fmt.Errorf("unknown severity %q", v)
}

// ParseStatusFilter defaults to all.
func ParseStatusFilter(v string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(v))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterActive, FilterDelayed:
		return f, nil
	}
	return "", fmt.Errorf("unknown status filter %q", v)
}
