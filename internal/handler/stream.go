package handler

import (
	"io"
	"net/http"

	"github.com/YasasBanuka/docura-relay/internal/metrics"
)

// relayBody copies the upstream body to the client. In flush mode every
// chunk is written and flushed the moment it is read from the upstream:
// no accumulation, no minimum batch size, no re-buffering layer. The
// single fixed-size buffer also propagates backpressure — a client that
// stops reading blocks the write, which stops further upstream reads.
//
// The metrics parameter may be nil.
func relayBody(w io.Writer, body io.Reader, flush bool, m *metrics.Metrics) error {
	flusher, _ := w.(http.Flusher)
	if !flush || flusher == nil {
		_, err := io.Copy(w, body)
		return err
	}

	if m != nil {
		m.StreamsActive.Inc()
		defer m.StreamsActive.Dec()
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			flusher.Flush()
			if m != nil {
				m.StreamBytes.Add(float64(n))
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
