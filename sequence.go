package artnet

// acceptSequence implements the signed-delta wraparound rule of
// spec.md §4.5. rx is the last accepted sequence (0 means "no packet
// accepted yet"); seq is the incoming packet's sequence byte.
//
// Returns whether to accept the packet and the rx value to store
// afterwards. A zero seq ("sender does not use sequencing") is always
// accepted and never updates rx, per the spec's recommendation on the
// "peer resets to 0 mid-stream" open question.
func acceptSequence(rx, seq uint8) (accept bool, nextRX uint8) {
	if seq == 0 {
		return true, rx
	}
	if rx == 0 {
		return true, seq
	}

	d := int8(seq - rx)
	if d > 0 || d == -128 {
		return true, seq
	}
	return false, rx
}
