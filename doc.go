// Package whisper is the client-side engine of the Whisper messaging
// service: identity derivation from a mnemonic, the signed envelope
// codec, the relay connection, session authentication, the durable
// message pipeline, contacts, attachments, group fan-out, and call
// signaling. The engine owns everything below the UI; the UI owns
// everything the user sees.
//
// # Getting Started
//
// Derive an identity, create a client, and start it:
//
//	id, err := identity.DeriveKeys(mnemonic)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := whisper.New(whisper.Options{
//	    Identity:   id,
//	    DataDir:    dataDir,
//	    GatewayURL: "wss://gateway.example.com/v1/connect",
//	    APIBaseURL: "https://api.example.com",
//	    Platform:   "linux",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnMessage(func(env *codec.Envelope, plaintext []byte) {
//	    fmt.Printf("from %s: %s\n", env.From, plaintext)
//	})
//
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	messageID, err := client.Send("WSP-AB12-CD34-EF56", []byte("hello"))
//
// Delivery progress for sent messages arrives through [Client.OnStatus],
// and messages from unknown senders are buffered until the user accepts
// the contact with [Client.AcceptContact].
//
// # Core Types
//
//   - [Client]: facade wiring the transport, session, and pipeline together
//   - [Options]: configuration for creating a Client
//
// The engine persists every outbound message to a local outbox before
// transmitting it, so a crash or connection loss never silently drops a
// send. All plaintext stays on the device: the relay only ever sees
// sealed envelopes.
package whisper
