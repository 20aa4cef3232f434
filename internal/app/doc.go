// Package app composes the tribute layer into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── core/service/       # Shared error taxonomy
//	├── domain/             # Domain models (pure data structures)
//	│   ├── heat/           # Heat windows and scores
//	│   ├── leaderboard/    # Ranked entries and snapshots
//	│   └── ledger/         # Ledger transactions, payloads, transitions
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # HeatWindowStore, LedgerTransactionStore, ...
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   ├── postgres/       # PostgreSQL implementation for production
//	│   └── redis/          # Shared leaderboard snapshots
//	├── services/           # Heat, scoring, leaderboard, ledger lifecycle
//	├── scheduler/          # Cron-driven ticks
//	├── httpapi/            # HTTP API handlers and routing
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/tribute/
//	      │
//	      ▼
//	internal/cli ──► internal/app (composition)
//	                       │
//	                       ├──► internal/app/services (business logic)
//	                       ├──► internal/app/storage
//	                       └──► internal/ledger, internal/content, internal/gasbank, internal/refupdate
//
// Business rules live in the services packages; this package only wires
// them to storage backends and collaborators chosen by configuration.
package app
