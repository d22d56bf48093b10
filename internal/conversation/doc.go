// ABOUTME: Package documentation for the conversation service layer
// ABOUTME: Covers conversation resolution, priming, and turn submission

// Package conversation implements the per-agent conversation layer that sits
// between the rest of the application and the completion provider.
//
// Every logical agent (one per group chat, one per study track) owns exactly
// one conversation, addressed by its agent ID. The service resolves that
// conversation on each call, creating it on first use; creation is safe under
// concurrent first use because the storage layer enforces agent-ID uniqueness
// and the loser of an insert race falls back to a lookup.
//
// A conversation's first real turn is preceded by a fixed priming message
// that establishes the assistant persona and names the participants, so the
// model understands the sender-name prefix convention used on every
// subsequent turn.
//
// Submission is strict about ordering: the provider is called with the full
// resolved history plus the new content, and only on success are the user
// turn and the model reply appended, user first. A provider failure leaves
// history untouched.
package conversation
