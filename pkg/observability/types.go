// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

import "time"

// Span names used consistently across the deliberation, graph and worker
// packages instead of hardcoded strings.
const (
	SpanDeliberationRound  = "deliberation.round"
	SpanAdapterInvoke      = "adapter.invoke"
	SpanConvergenceCheck   = "convergence.check"
	SpanGraphSaveDecision  = "graph.save_decision"
	SpanGraphQuery         = "graph.query"
	SpanMigratorMigrateUp  = "migrator.migrate_up"
	SpanRetrieverFetch     = "retriever.fetch"
	SpanWorkerJob          = "worker.job"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// StatusCode represents the final status of a span.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

func (s StatusCode) String() string {
	switch s {
	case StatusUnset:
		return "unset"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Status represents the final status of a span with an optional message.
type Status struct {
	Code    StatusCode
	Message string
}

// Event is a point-in-time occurrence recorded within a span.
type Event struct {
	Timestamp  time.Time
	Name       string
	Attributes map[string]interface{}
}

// Span is a unit of work with timing and metadata. Spans form a tree via
// ParentID references.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string

	Name       string
	Attributes map[string]interface{}

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Events []Event
	Status Status
}

// SetAttribute sets a key-value attribute on the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]interface{})
	}
	s.Attributes[key] = value
}

// AddEvent adds a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]interface{}) {
	s.Events = append(s.Events, Event{Timestamp: time.Now(), Name: name, Attributes: attrs})
}

// RecordError marks the span as errored and records the error's message.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.Status = Status{Code: StatusError, Message: err.Error()}
	s.SetAttribute(AttrErrorMessage, err.Error())
	s.SetAttribute(AttrErrorType, "error")
}

// SpanOption is a functional option for configuring spans.
type SpanOption func(*Span)

// WithAttribute returns a SpanOption that sets an attribute.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(s *Span) { s.SetAttribute(key, value) }
}

// WithParentSpanID returns a SpanOption that explicitly sets the parent
// span ID, used when a caller must cross an async boundary context can't
// carry (e.g. the background worker picking up a queued job).
func WithParentSpanID(parentID string) SpanOption {
	return func(s *Span) { s.ParentID = parentID }
}
