// Package broadcast implements the in-process multicast hub.
//
// One producer side (Publish) fans every event out to all live subscriptions. Each
// subscription owns a buffer, so a stalled consumer only loses its own events once the
// buffer is full; publishers never block. A fresh subscription always starts with a
// synthetic "connected" event.
package broadcast
