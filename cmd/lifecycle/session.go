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

package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/config"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/constants"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/metrics"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence/sqlite"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/sentry"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/storeclient"
)

// session is shared by all scenarios of one run.
type session struct {
	store   persistence.Store
	locks   *storeclient.LockTable
	metrics *http.Server
}

func openStore(cfg config.StoreConfig) (persistence.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewInMemoryStore(), nil
	case config.BackendSQLite:
		store, err := sqlite.NewStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newSession(cfg config.FullConfig, log *zap.SugaredLogger) (*session, error) {
	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	sess := &session{
		store: store,
		locks: storeclient.NewLockTable(cfg.UnitOfWork.LockLeaseTTL, constants.LockLeaseCullInterval),
	}

	if cfg.Metrics.Port > 0 {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		sess.metrics = metrics.SetupMetricsEndpoint(addr)
		log.Infof("Serving metrics on %s", addr)
	}

	log.Infof("Opened %s store", cfg.Store.Backend)

	return sess, nil
}

// newClient returns a storage client with its own owner identity over the shared store
// and lock table.
func (s *session) newClient(log *zap.SugaredLogger) *storeclient.DocumentClient {
	return storeclient.New(s.store,
		storeclient.WithLockTable(s.locks),
		storeclient.WithLogger(log),
	)
}

func (s *session) shutdown(log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "failed to stop metrics endpoint: %w", err)
		}
	}

	if err := s.store.Close(ctx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "failed to close store: %w", err)
	}
}
