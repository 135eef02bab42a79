// Package engine implements the chat replication core: the live event
// pipeline, historical replay, album grouping, and the tracking store
// that ties source messages to the copies produced for them.
//
// # Core Types
//
// [Session] owns all mutable state of one replication run: the resolved
// routing table, the tracking [Store], per-chat album buffers and their
// debounce timers, and the configured transform stages. Nothing is kept
// in package-level state, so independent sessions never interfere and
// tests are deterministic.
//
// [Live] reacts to new, edited and deleted messages as they arrive.
// [Past] replays existing history per rule, oldest-first, checkpointing
// after every forwarded unit so an interrupted run resumes where it
// stopped. [LinkForwarder] relays a single post (or its whole album) by
// its share link.
//
// # Resilience
//
// A failure stays local to its cause: a stage that breaks is skipped, a
// destination that rejects a send is logged and the others proceed, a
// rule whose peer cannot be resolved is disabled for the session. Only
// checkpoint persistence failures abort a run, because continuing
// without a valid checkpoint risks large-scale duplication.
package engine
