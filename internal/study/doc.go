// ABOUTME: Package documentation for study session coordination
// ABOUTME: Covers the sentinel lock protocol and topic chat semantics

// Package study coordinates per-topic study sessions within a group.
//
// # Initialization
//
// Initializing a session for (group, topic) is expensive: it calls the
// completion provider for a lesson built from the group's uploaded documents,
// then again for a quiz. The work must happen exactly once even when several
// members open the topic simultaneously.
//
// The lock is data, not a mutex: the initializer persists a sentinel
// assistant message as the chat's first message before any provider work
// starts. Any other caller that finds the sentinel polls the chat a bounded
// number of times; if the real lesson lands in time the caller returns it as
// already initialized, otherwise the caller fails with
// ErrInitializationInProgress (HTTP 409) and retries later. A chat whose
// first message is real content short-circuits immediately with no provider
// calls.
//
// If the initializer's provider call fails, the sentinel stays in place and
// later callers surface the conflict; recovery is a fresh initialization
// attempt after the operator or client retries.
//
// # Chat and skills
//
// Each (group, topic) pair owns its own study agent, so one topic's lesson,
// quiz, and chat never leak into another topic's conversation history. Topic
// chats append a user message, obtain the assistant reply through the topic
// agent's conversation, and emit only the newly appended messages to
// the topic's realtime room. Skills metrics are a snapshot of each topic's
// current quiz responses; retakes overwrite, so there is no score history.
package study
