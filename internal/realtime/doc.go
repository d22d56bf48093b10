// ABOUTME: Package documentation for realtime fan-out
// ABOUTME: Covers rooms, presence, and delivery semantics

// Package realtime fans persisted application events out to connected
// websocket clients.
//
// Clients join rooms: every connection auto-joins the user's personal room
// (user:<id>), and clients may join group rooms (group:<id>) and study track
// rooms (studychat:<groupID>:<topic>) by sending join requests over the
// socket. Server-side handlers address events to rooms; delivery is
// best-effort and never blocks the emitter, so a slow client loses events
// rather than stalling writes for everyone else.
//
// Realtime delivery is a notification layer only. Durable state lives in the
// store, and a client that missed events recovers by refetching history over
// HTTP.
package realtime
