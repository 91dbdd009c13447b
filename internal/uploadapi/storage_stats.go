package uploadapi

import (
	"io"
	"sync/atomic"
	"time"
)

// transferStats tracks bytes and parts sent to object storage.
type transferStats struct {
	bytesSent  atomic.Int64
	partsSent  atomic.Int64
	lastSentNs atomic.Int64

	lastErrorValue atomic.Value // string
}

func newTransferStats() *transferStats {
	s := &transferStats{}
	s.lastErrorValue.Store("")
	return s
}

func (s *transferStats) onSend(n int) {
	if n <= 0 {
		return
	}
	s.bytesSent.Add(int64(n))
	s.lastSentNs.Store(time.Now().UnixNano())
}

func (s *transferStats) onPart() {
	s.partsSent.Add(1)
}

func (s *transferStats) setLastError(err error) {
	if err == nil {
		return
	}
	s.lastErrorValue.Store(err.Error())
}

func (s *transferStats) snapshot() TransferStats {
	lastErr, _ := s.lastErrorValue.Load().(string)
	return TransferStats{
		BytesSentTotal: s.bytesSent.Load(),
		PartsSentTotal: s.partsSent.Load(),
		LastSentAtNs:   s.lastSentNs.Load(),
		LastError:      lastErr,
	}
}

// TransferStats is a stable, JSON-friendly view of storage traffic.
// Bytes of a rejected PUT are counted too.
type TransferStats struct {
	BytesSentTotal int64  `json:"bytes_sent_total"`
	PartsSentTotal int64  `json:"parts_sent_total"`
	LastSentAtNs   int64  `json:"last_sent_at_ns,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

type countingReader struct {
	r      io.Reader
	onRead func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.onRead != nil {
		c.onRead(n)
	}
	return n, err
}
