// Package session drives a single BLE session: choose a peripheral, connect,
// subscribe to one characteristic, decode notifications to text and write a
// fixed command back.
//
// A Controller owns at most one Session at a time. The Session is created
// when a device has been chosen and discarded on disconnect or link loss.
// All user-visible effects go through a Sink (status text, console lines and
// the state of the two controls), so the same controller backs the
// interactive terminal and the one-shot commands.
package session
