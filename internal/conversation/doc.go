// Package conversation drives a chat turn on top of the store.
//
// # Service
//
// The Service coordinates a conversation with a Responder, the boundary to
// whatever model produces assistant text:
//
//	svc := conversation.New(st, responder, broadcaster, logger)
//
// Key operations:
//
//   - Start(ctx, title): create a session with its root branch
//   - Send(ctx, sessionID, content): record the user message, then stream a reply
//   - SendOnce(ctx, sessionID, key, content): Send, but a retried key is refused
//   - Regenerate(ctx, sessionID, messageID, replacement): fork history at an
//     edited message and, for user messages, stream a fresh reply
//   - History(ctx, sessionID): messages on the active branch
//
// # Record first
//
// The user message is stored before the responder is called. The assistant
// message is stored empty and updated as each chunk arrives, so an
// interrupted reply leaves its partial text behind. Every turn ends with an
// assistant_completed or assistant_failed agent event.
//
// # Updates
//
// An EventBroadcaster fans persisted changes out to subscribers of a session.
// Slow subscribers drop updates rather than stall the writer.
package conversation
