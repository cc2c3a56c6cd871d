// Package heartbeat asserts connector liveness to the ingestion API on a
// fixed interval, independent of the event queue.
//
// Loop.Start sends one heartbeat immediately and then one per interval, each
// through the shared retry policy. A tick whose retries are exhausted is
// logged and counted; the timer keeps running. Start returns a *Handle whose
// Stop cancels the timer and waits for the loop goroutine to exit.
package heartbeat
