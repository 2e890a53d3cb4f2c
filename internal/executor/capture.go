package executor

import "bytes"

// captureWriter keeps the head of a stream up to max bytes (unlimited when
// max <= 0) and counts everything written.
type captureWriter struct {
	buf       bytes.Buffer
	max       int64
	total     int64
	truncated bool
}

func newCaptureWriter(max int64) *captureWriter {
	return &captureWriter{max: max}
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.total += int64(len(p))
	if w.max <= 0 {
		_, _ = w.buf.Write(p)
		return len(p), nil
	}

	if int64(w.buf.Len()) >= w.max {
		w.truncated = true
		return len(p), nil
	}
	remain := w.max - int64(w.buf.Len())
	if int64(len(p)) <= remain {
		_, _ = w.buf.Write(p)
		return len(p), nil
	}
	_, _ = w.buf.Write(p[:remain])
	w.truncated = true
	return len(p), nil
}

func (w *captureWriter) String() string {
	return w.buf.String()
}
