// Package asyncx provides a thin, opinionated layer on top of asynq to enqueue
// and process background tasks while persisting lifecycle status and results
// in a result store that callers can poll.
//
// Quick start:
//  1. Pick a Store: NewSQLStore(db, dialect) after Migrate, or NewRedisStore(rdb, ...).
//  2. Create a Client with NewClient(redis, store, ...). Enqueue returns a task id.
//  3. Create a Processor, Register a JobFunc per job name, and Start it.
//  4. Poll Client.Status with the task id until the status is terminal.
package asyncx
