// Package server implements a demo streaming server for the client.
//
// The server performs the following steps:
// 	1. Accepts TCP control connections. Each connection carries at most one session at a time.
// 	2. On SETUP, it opens the requested media file from its media directory, records the
// 	   client's data port from the Transport header and answers with a new session identifier.
// 	3. On PLAY, it starts sending one datagram per frame to the client's data port, at a fixed
// 	   frame interval, until PAUSE, TEARDOWN or the end of the media.
// 	4. PAUSE stops sending and keeps the position in the media. PLAY resumes from there.
// 	5. TEARDOWN, or the connection closing, ends the session.
//
// Requests for unknown media are answered with 404, requests not valid in the current state
// with 455, requests for another session with 454 and unparsable requests with 400.
//
// To demonstrate how the client copes with an unreliable network, the server can drop a share
// of the datagrams and send another share after their successor.
//
// Sessions are kept in a Store. The in-memory store could be swapped for a shared one
// to inspect sessions across server instances.
package server
