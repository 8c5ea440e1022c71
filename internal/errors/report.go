package errors

import (
	"sort"
	"sync"
)

// Report accumulates the classified issues of one build run. It is safe for
// concurrent use by the per-entity workers.
type Report struct {
	classifier *ErrorClassifier
	mu         sync.Mutex
	issues     []*ClassifiedError
}

// NewReport creates an empty report that classifies through classifier
func NewReport(classifier *ErrorClassifier) *Report {
	return &Report{classifier: classifier}
}

// Add classifies err and records it. A nil error is ignored.
func (r *Report) Add(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}
	ce := r.classifier.Classify(err, component, operation)

	r.mu.Lock()
	r.issues = append(r.issues, ce)
	r.mu.Unlock()
	return ce
}

// All returns every recorded issue in insertion order
func (r *Report) All() []*ClassifiedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ClassifiedError(nil), r.issues...)
}

// Fatal returns the issues that failed their unit of work
func (r *Report) Fatal() []*ClassifiedError {
	return r.filter(func(ce *ClassifiedError) bool { return ce.Fatal() })
}

// Warnings returns the non-fatal issues
func (r *Report) Warnings() []*ClassifiedError {
	return r.filter(func(ce *ClassifiedError) bool { return !ce.Fatal() })
}

// HasFatal reports whether any fatal issue was recorded
func (r *Report) HasFatal() bool {
	return len(r.Fatal()) > 0
}

// CountByType returns the number of issues per error type
func (r *Report) CountByType() map[ErrorType]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[ErrorType]int)
	for _, ce := range r.issues {
		counts[ce.Type]++
	}
	return counts
}

// Types returns the recorded error types sorted by name
func (r *Report) Types() []ErrorType {
	counts := r.CountByType()
	types := make([]ErrorType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *Report) filter(keep func(*ClassifiedError) bool) []*ClassifiedError {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*ClassifiedError
	for _, ce := range r.issues {
		if keep(ce) {
			out = append(out, ce)
		}
	}
	return out
}
