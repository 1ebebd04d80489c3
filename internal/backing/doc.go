// Package backing reads the legacy SQLite database that seeds the note
// store on cold start.
//
// The app never writes to it during normal operation: rows are read once
// by the loader and merged into the store with the baseline stamp. The
// write helpers exist for fixtures and the import command.
//
// # Database Configuration
//
//   - WAL mode: readers never block the legacy writer
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All list queries order by id COLLATE BINARY so hydration is
// deterministic across replicas.
package backing
