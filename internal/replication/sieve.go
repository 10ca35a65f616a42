package replication

import (
	"bytes"
	"fmt"
	"io"
)

// sieveStream separates structurally valid messages from malformed ones in
// a get-response partition payload, and returns a body reader holding only
// the surviving messages' bytes, back to back, in the same order as valid.
// It never errors on a bad message: one is dropped and counted, not fatal to
// its peers in the batch. body's frames are consumed in messages order
// regardless of validity, so a dropped frame's bytes never leak into the
// next message's read. A message reporting a negative size is treated as
// contributing zero bytes to the stream, since there is no well-defined
// frame length to skip.
func sieveStream(messages []MessageInfo, body io.Reader) (valid []MessageInfo, filtered io.Reader, invalid int, err error) {
	valid = make([]MessageInfo, 0, len(messages))
	var buf bytes.Buffer
	for _, m := range messages {
		size := m.Size
		if size < 0 {
			size = 0
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(body, chunk); err != nil {
			return nil, nil, invalid, fmt.Errorf("sieve: read frame for %s: %w", m.Key, err)
		}

		if m.Key.ID == "" || m.Key.Partition == "" || m.Size < 0 {
			invalid++
			continue
		}
		valid = append(valid, m)
		buf.Write(chunk)
	}
	return valid, &buf, invalid, nil
}
