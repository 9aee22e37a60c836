// Package call handles call signaling. Offers, answers, ICE candidates,
// and hangups travel as ordinary signed envelopes through the message
// pipeline; the relay cannot distinguish a call from a chat message.
// The package also caches TURN relay credentials and owns the narrow
// boundary to the UI layer: events go out through UIEvents, user
// decisions come back as commands.
package call
