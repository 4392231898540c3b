// Package chat holds the per-session chat moderation queue and the ingesters
// that feed it.
//
// Messages enter the queue from three sources:
//   - the platform moderation API's pending queue, fetched once when the
//     session opens (Seeder);
//   - Twitch IRC for the session's TwitchChannel, using the bot credentials
//     when configured and an anonymous read-only connection otherwise;
//   - YouTube live chat polling for the session's YouTubeLiveChatID.
//
// Each message is checked by a Flagger. Only flagged messages are held for a
// moderator decision unless the queue is configured to hold everything.
// Undecided messages expire after the queue TTL.
package chat
