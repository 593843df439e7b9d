// Package timesync implements the client-side time-sync estimate used to
// reconcile a controller's local clock with the host's. It is included
// here because the PONG wire contract it consumes is part of the host's
// public surface, even though scheduling PING requests themselves is a
// client concern outside this module's scope.
package timesync

// Estimate computes a client's offset from server time given a round
// trip: origTimestamp and serverTime come from a PONG reply, now is the
// client's local clock reading at receipt.
//
// rtt = now - origTimestamp
// offset = (serverTime + rtt/2) - now
//
// The caller's best estimate of the current server time is then
// localClockReading + offset, for any localClockReading taken after this
// call.
func Estimate(origTimestamp, serverTime, now int64) (offset, rtt int64) {
	rtt = now - origTimestamp
	offset = (serverTime + rtt/2) - now
	return offset, rtt
}

// ServerTimeAt returns the estimated server time at localTime, given an
// offset previously computed by Estimate.
func ServerTimeAt(localTime, offset int64) int64 {
	return localTime + offset
}
