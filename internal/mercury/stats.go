package mercury

// Stats holds cumulative traffic counters for a nub.
type Stats struct {
	PacketsReceived  uint64
	BytesReceived    uint64
	MessagesReceived uint64

	PacketsSent  uint64
	BytesSent    uint64
	MessagesSent uint64

	// per message id, header included
	MessageBytes  [256]uint64
	MessageCounts [256]uint64
}

// BytesFor sums received bytes over the given message ids.
func (s *Stats) BytesFor(ids ...MessageID) uint64 {
	var total uint64
	for _, id := range ids {
		total += s.MessageBytes[id]
	}
	return total
}

// CountFor sums received message counts over the given ids.
func (s *Stats) CountFor(ids ...MessageID) uint64 {
	var total uint64
	for _, id := range ids {
		total += s.MessageCounts[id]
	}
	return total
}

// MessageBytesReceived is the sum over all message ids.
func (s *Stats) MessageBytesReceived() uint64 {
	var total uint64
	for _, b := range s.MessageBytes {
		total += b
	}
	return total
}

// OverheadBytesReceived is everything that was not a message: packet kind
// bytes, KCP headers, acknowledgements and filter padding.
func (s *Stats) OverheadBytesReceived() uint64 {
	msg := s.MessageBytesReceived()
	if msg > s.BytesReceived {
		return 0
	}
	return s.BytesReceived - msg
}
