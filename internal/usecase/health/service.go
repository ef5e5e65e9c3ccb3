package health

import (
	"context"

	"github.com/kailas-cloud/venuesearch/internal/usecase/extraction"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure; searches still run.
	Degraded Status = "degraded"
	// Unhealthy indicates the index is unreachable and searches fail.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckStalled indicates outstanding pipeline work with no recent completion.
	CheckStalled CheckResult = "stalled"
)

// Report aggregates health check results.
type Report struct {
	Status   Status
	Checks   map[string]CheckResult
	Pipeline *extraction.Liveness
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding ProviderChecker
	pipeline  PipelineMonitor
}

// New creates a Service. embedding and pipeline can be nil.
func New(db DBPinger, embedding ProviderChecker, pipeline PipelineMonitor) *Service {
	return &Service{db: db, embedding: embedding, pipeline: pipeline}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	var r Report

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
	} else {
		checks["database"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.pipeline != nil {
		l := s.pipeline.Liveness(ctx)
		r.Pipeline = &l
		if l.Stalled {
			checks["pipeline"] = CheckStalled
		} else {
			checks["pipeline"] = CheckOK
		}
	}

	r.Status = Healthy
	for _, v := range checks {
		if v != CheckOK {
			r.Status = Degraded
			break
		}
	}
	if checks["database"] == CheckError {
		r.Status = Unhealthy
	}
	r.Checks = checks
	return r
}
