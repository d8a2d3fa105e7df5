// Package msgbox implements the consuming side of an event sourcing toolkit.
// It wraps domain events in header-carrying Messages, hands them to
// Consumers, and persists message streams in Redis, bbolt, or PostgreSQL so
// they can be replayed later.
//
// Typical usage looks like:
//   - Decorate new Messages with DefaultHeadersDecorator
//   - Define Consumers with MakeConsumer, MakeDispatcher, or a Projector
//   - Dispatch synchronously with a SynchronousDispatcher, or fan out
//     asynchronously through a Hub
//   - Persist streams through a Repository and Replay them into Consumers
//
// The msgboxtest package provides Given/When/Then scenarios for verifying
// Consumer behavior, and the examples/ directory contains a small order
// projection that uses both.
package msgbox
