// ABOUTME: Package documentation for the group service
// ABOUTME: Covers membership, chat fan-out, assistant mentions, and uploads

// Package group implements study group management and group chat.
//
// A group owns two lazily assigned assistant identities: the group agent
// answers @nexus mentions in the group chat, and the curriculum agent absorbs
// uploaded documents so later study sessions can draw on them. Both IDs are
// derived from the group ID and written back to the group on first use;
// per-topic study session agents are managed separately by the study package.
//
// Chat fan-out is asymmetric: a member's own message is delivered to every
// other member's connection, while assistant replies go to the whole room
// including the asker. Assistant failures are logged and swallowed; the human
// message has already been persisted and delivered by then.
//
// Document uploads are batched but independent. Each file is stored in the
// blob store and registered as a source document even when lesson derivation
// fails for it; successful derivations are merged into the group's single
// accumulated lesson plan.
package group
