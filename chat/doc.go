// Package chat contains the Twitch chat observer that feeds the highlight
// pipeline.
//
// The observer joins TWITCH_CHANNEL over IRC and watches for moderators
// flagging a message. A message is flagged by replying "!highlight" to it,
// or with "!highlight @user" to flag a user's most recent message. Each
// flag produces a MessageEvent (username, message, color, timestamp) that
// is handed to the OBS client, and the outcome is recorded in the
// highlights table.
//
// Credentials: the IRC client requires a bot username and an OAuth token
// with chat:read scope. If TWITCH_OAUTH_TOKEN is not provided, the observer
// will try to reuse a stored token from the oauth_tokens table for provider
// "twitch".
package chat
