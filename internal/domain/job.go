package domain

import (
	"encoding/json"
	"net/url"
	"time"
)

const maxPayloadBytes = 64 << 10

// Job is the unit of work accepted by the job service. Target is the webhook
// the job is delivered to; an empty target runs the simulated executor.
type Job struct {
	Name    string          `json:"name"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (j *Job) Validate() error {
	if j.Name == "" || len(j.Name) > 256 {
		return ErrInvalidJobName
	}
	if j.Target != "" {
		u, err := url.Parse(j.Target)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidTarget
		}
	}
	if len(j.Payload) > maxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// Outcome is how a job execution ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}

// Progress is reported by executors while a job runs. The last report of an
// execution carries its Outcome.
type Progress struct {
	Attempt int     `json:"attempt"`
	Percent int     `json:"percent"`
	Message string  `json:"message,omitempty"`
	Outcome Outcome `json:"outcome,omitempty"`
}

// Execution is the journal record of one finished job.
type Execution struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Target       string    `json:"target,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	Attempts     int       `json:"attempts"`
	Reports      int       `json:"reports"`
	LastMessage  string    `json:"last_message,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// ListFilter holds query parameters for paginated execution listing.
type ListFilter struct {
	Outcome *Outcome
	Name    string
	Page    int
	Limit   int
}
