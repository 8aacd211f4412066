package protocol

import "bytes"

// lineFramer splits a byte stream on '\n' (or "\r\n"), the discipline
// used by text protocols such as Suntech and H02 (§4.1). It bounds
// memory by rejecting any line longer than maxLen.
type lineFramer struct {
	maxLen int
}

func (f *lineFramer) Frame(buf []byte) Frame {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if f.maxLen > 0 && len(buf) > f.maxLen {
			return Frame{Result: FrameBad, Consumed: len(buf)}
		}
		return Frame{Result: FrameNeedMore}
	}

	line := buf[:idx]
	consumed := idx + 1
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}

	if f.maxLen > 0 && len(line) > f.maxLen {
		return Frame{Result: FrameBad, Consumed: consumed}
	}

	out := make([]byte, len(line))
	copy(out, line)
	return Frame{Result: FrameOK, Message: out, Consumed: consumed}
}

// lengthPrefixedFramer splits binary protocols framed as
// [startByte...][length byte(s)][payload][stopByte...], the GT06
// discipline (§4.1). lengthOffset is the index of the length byte (and so
// the number of bytes preceding it); trailerLen counts the bytes after
// the span the length covers; the frame total size is
// lengthOffset + 1(length byte) + int(length) + trailerLen.
type lengthPrefixedFramer struct {
	startBytes   []byte
	lengthOffset int
	trailerLen   int
	maxLen       int
}

func (f *lengthPrefixedFramer) Frame(buf []byte) Frame {
	if len(buf) < f.lengthOffset+1 {
		return Frame{Result: FrameNeedMore}
	}
	if len(f.startBytes) > 0 && !bytes.HasPrefix(buf, f.startBytes) {
		// Resynchronize by discarding one byte at a time until a start
		// sequence is found, or the whole buffer if none is present.
		if idx := bytes.Index(buf[1:], f.startBytes); idx >= 0 {
			return Frame{Result: FrameBad, Consumed: idx + 1}
		}
		return Frame{Result: FrameBad, Consumed: len(buf)}
	}

	length := int(buf[f.lengthOffset])
	total := f.lengthOffset + 1 + length + f.trailerLen

	if f.maxLen > 0 && total > f.maxLen {
		return Frame{Result: FrameBad, Consumed: total}
	}
	if len(buf) < total {
		return Frame{Result: FrameNeedMore}
	}

	out := make([]byte, total)
	copy(out, buf[:total])
	return Frame{Result: FrameOK, Message: out, Consumed: total}
}
