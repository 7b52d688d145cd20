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

package constants

import "time"

const (
	// DefaultAppVersion is the version of builds that did not set one via ldflags.
	DefaultAppVersion = "0.0.0-dev"

	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	// DefaultConfigPath is read when no -config flag is given.
	DefaultConfigPath = "/data/lifecycle.yaml"

	// DefaultSQLitePath is the database file for the sqlite backend.
	DefaultSQLitePath = "/data/lifecycle.db"

	// DefaultMetricsPort serves /metrics.
	DefaultMetricsPort = 8080

	// DefaultLockLeaseTTL is how long a pessimistic lock survives without a commit,
	// rollback or close releasing it.
	DefaultLockLeaseTTL = 30 * time.Second

	// LockLeaseCullInterval is how often expired lock leases are swept.
	LockLeaseCullInterval = 5 * time.Second

	// StoreOperationMinTime is the minimum remaining deadline required before a storage call is started.
	StoreOperationMinTime = time.Millisecond

	// ShutdownTimeout bounds the metrics server shutdown.
	ShutdownTimeout = 3 * time.Second
)

const (
	// VersionField is the document field bumped by an optimistic force-increment lock.
	VersionField = "_version"

	// IDField carries a document's identifier inside persistence stores.
	IDField = "id"
)
