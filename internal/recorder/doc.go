// Package recorder archives inbound connection traffic to PostgreSQL.
//
// One Recorder per recorded endpoint. Raw frames land in the messages
// table, promoted envelopes in the events table. Rows are spooled in
// growable ring buffers and written with batched inserts using
// append-only semantics (never update, only insert).
package recorder
