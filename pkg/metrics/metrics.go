// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/logger"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/sentry"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	namespace = "umh"
	subsystem = "lifecycle"

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Lifecycle operations dispatched, by operation, state of the node and outcome",
		},
		[]string{"operation", "state", "outcome"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Node state transitions",
		},
		[]string{"from", "to"},
	)

	cascadeVisitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cascade_visits_total",
			Help:      "Related nodes visited while cascading an operation",
		},
		[]string{"operation"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of storage client calls in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	trackedNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tracked_nodes",
			Help:      "Nodes currently held in a persistence context's identity map",
		},
		[]string{"context"},
	)
)

// IncOperation counts one dispatched operation.
func IncOperation(operation, state, outcome string) {
	operationsTotal.WithLabelValues(operation, state, outcome).Inc()
}

func IncTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

func AddCascadeVisits(operation string, visited int) {
	if visited <= 0 {
		return
	}

	cascadeVisitsTotal.WithLabelValues(operation).Add(float64(visited))
}

// ObserveStoreOperation records the time elapsed since start.
func ObserveStoreOperation(operation string, start time.Time) {
	storeOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func SetTrackedNodes(context string, n int) {
	trackedNodes.WithLabelValues(context).Set(float64(n))
}

// SetupMetricsEndpoint serves /metrics on addr in the background.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}

// Families gathers the lifecycle metric families from the default registry, sorted by name.
func Families() ([]*dto.MetricFamily, error) {
	all, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	prefix := namespace + "_" + subsystem + "_"

	families := make([]*dto.MetricFamily, 0, len(all))
	for _, mf := range all {
		if strings.HasPrefix(mf.GetName(), prefix) {
			families = append(families, mf)
		}
	}

	return families, nil
}

// WriteText writes the lifecycle metric families in the Prometheus text format.
func WriteText(w io.Writer) error {
	families, err := Families()
	if err != nil {
		return err
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}

	return nil
}
