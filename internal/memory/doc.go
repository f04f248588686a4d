// Package memory persists the agent's memory record: the last observed seat
// snapshot, the hours at which new courses were first seen, and a log of
// failed cycles.
//
// Drivers:
//   - "file": pretty-printed JSON replaced atomically (tmp + fsync + rename)
//   - "sqlite": single-row table, upsert in a transaction
//   - "s3": one object per agent, replaced with PutObject
package memory
