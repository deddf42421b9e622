// Package client implements the client side of the streaming protocol.
//
// The client performs the following steps:
//  1. Connect to the server over TCP. This is the control channel.
//  2. SETUP: open a UDP socket on an ephemeral port and send its number to the server,
//     which answers with a session identifier. State moves from Init to Ready.
//  3. PLAY: start the datagram receiver and the playback clock, then ask the server to
//     start streaming. State moves from Ready to Playing.
//  4. The receiver parses every datagram and inserts it into the reorder buffer.
//     The playback clock plays the buffer back at a fixed cadence, skipping sequence
//     numbers that never arrived, and hands each frame to the Sink.
//  5. PAUSE stops the data path and returns to Ready. PLAY may be sent again.
//  6. TEARDOWN ends the session and returns to Init. When the receiver stops it
//     finalizes the stream statistics, available from Report.
//  7. Close releases everything from any state. The client cannot be reused afterwards.
//
// Control requests are synchronous and serialized: a call blocks until the response
// is read, the request times out, or the connection fails. Calling an operation from a
// state that does not allow it fails with ErrInvalidState and changes nothing.
// A ServerError or a malformed response leaves the state unchanged.
// A TransportError closes the client.
//
package client
