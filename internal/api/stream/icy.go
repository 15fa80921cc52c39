package stream

import (
	"bytes"
	"strings"
)

// maxMetaBlock is the largest ICY metadata payload (255 blocks of 16 bytes).
const maxMetaBlock = 255 * 16

// streamTitle formats a title as an ICY StreamTitle field.
func streamTitle(title string) string {
	return "StreamTitle='" + strings.ReplaceAll(title, "'", "\\'") + "';"
}

// metaBlock encodes text as an ICY metadata block: a length byte counting
// 16-byte units followed by the zero-padded payload. Empty text yields a
// single zero byte, which tells the client the title is unchanged.
func metaBlock(text string) []byte {
	if text == "" {
		return []byte{0}
	}

	payload := []byte(text)
	if len(payload) > maxMetaBlock {
		payload = payload[:maxMetaBlock]
	}

	blocks := (len(payload) + 15) / 16
	var buf bytes.Buffer
	buf.Grow(1 + blocks*16)
	buf.WriteByte(byte(blocks))
	buf.Write(payload)
	buf.Write(make([]byte, blocks*16-len(payload)))
	return buf.Bytes()
}

// icyWriter interleaves metadata blocks into an audio stream every metaInt bytes.
type icyWriter struct {
	metaInt int
	left    int
	pending string // Title to send at the next boundary
}

func newICYWriter(metaInt int) *icyWriter {
	return &icyWriter{metaInt: metaInt, left: metaInt}
}

// setTitle queues a title change for the next metadata boundary.
func (w *icyWriter) setTitle(title string) {
	w.pending = streamTitle(title)
}

// frame returns chunk with metadata blocks inserted at every boundary it crosses.
func (w *icyWriter) frame(chunk []byte) []byte {
	if w.metaInt <= 0 {
		return chunk
	}

	out := make([]byte, 0, len(chunk)+16)
	for len(chunk) > 0 {
		n := min(len(chunk), w.left)
		out = append(out, chunk[:n]...)
		chunk = chunk[n:]
		w.left -= n

		if w.left == 0 {
			out = append(out, metaBlock(w.pending)...)
			w.pending = ""
			w.left = w.metaInt
		}
	}
	return out
}
