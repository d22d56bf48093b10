// Package store provides persistent storage for nexus using SQLite.
//
// # Data Models
//
//   - Conversation/Turn: append-only provider turn histories keyed by agent ID
//   - User: member display data (credentials live in the external auth service)
//   - Group: study group with membership, lazily assigned agent IDs, and the
//     merged lesson plan artifact
//   - GroupMessage: group chat history
//   - StudyChat/StudyMessage: per-(group, topic) session chat with an optional
//     generated Quiz
//   - Document: metadata for uploaded source material (bytes in the blob store)
//
// # Concurrency
//
// Every mutation is a single read-modify-write on one record; there are no
// cross-record transactions beyond a chat and its own messages. First-use
// creation races are resolved by UNIQUE constraints (agent_id for
// conversations, (group_id, topic) for study chats): the losing writer gets
// ErrDuplicateConversation / ErrDuplicateStudyChat and retries its lookup.
package store
