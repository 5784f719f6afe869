package httpwire

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/cm4all/bengproxy/internal/bperror"
)

// ChunkedDecoder incrementally parses an HTTP/1.1 chunked transfer-coding
// body (spec §4.2 "Transfer-Encoding: chunked -> chunked reader"). Feed
// it raw bytes as they arrive; it reports how many input bytes it
// consumed and how much decoded body data it produced.
type ChunkedDecoder struct {
	state       chunkedState
	remaining   int64 // bytes left in the current chunk body
	trailerSeen bool
	done        bool
}

type chunkedState int

const (
	chunkedSize chunkedState = iota
	chunkedSizeCR
	chunkedData
	chunkedDataCR
	chunkedDataLF
	chunkedTrailer
	chunkedDone
)

// Feed consumes as much of in as forms complete, decodable chunks,
// appending decoded body bytes to the returned slice (grown from dst).
// consumed is always <= len(in). Bytes of an incomplete chunk-size or
// trailer line are left unconsumed; the caller passes them again
// together with the input that follows. Once Done() is true, no more
// input should be fed.
func (d *ChunkedDecoder) Feed(dst, in []byte) (out []byte, consumed int, err error) {
	out = dst
	for consumed < len(in) && !d.done {
		switch d.state {
		case chunkedSize:
			idx := bytes.IndexByte(in[consumed:], '\r')
			semiIdx := bytes.IndexByte(in[consumed:], ';')
			var lineEnd int
			if idx < 0 {
				return out, consumed, nil // need more
			}
			lineEnd = idx
			sizeStr := in[consumed : consumed+lineEnd]
			if semiIdx >= 0 && semiIdx < lineEnd {
				sizeStr = in[consumed : consumed+semiIdx]
			}
			n, perr := strconv.ParseInt(string(bytes.TrimSpace(sizeStr)), 16, 64)
			if perr != nil || n < 0 {
				return out, consumed, bperror.New(bperror.Garbage, fmt.Sprintf("httpwire: bad chunk size %q", sizeStr))
			}
			consumed += lineEnd
			d.remaining = n
			d.state = chunkedSizeCR
		case chunkedSizeCR:
			if in[consumed] != '\r' {
				return out, consumed, bperror.New(bperror.Garbage, "httpwire: malformed chunk size line")
			}
			if consumed+1 >= len(in) {
				return out, consumed, nil
			}
			if in[consumed+1] != '\n' {
				return out, consumed, bperror.New(bperror.Garbage, "httpwire: malformed chunk size line")
			}
			consumed += 2
			if d.remaining == 0 {
				d.state = chunkedTrailer
			} else {
				d.state = chunkedData
			}
		case chunkedData:
			n := int64(len(in) - consumed)
			if n > d.remaining {
				n = d.remaining
			}
			out = append(out, in[consumed:consumed+int(n)]...)
			consumed += int(n)
			d.remaining -= n
			if d.remaining == 0 {
				d.state = chunkedDataCR
			}
		case chunkedDataCR:
			if in[consumed] != '\r' {
				return out, consumed, bperror.New(bperror.Garbage, "httpwire: missing chunk trailer CR")
			}
			consumed++
			d.state = chunkedDataLF
			if consumed >= len(in) {
				return out, consumed, nil
			}
			fallthrough
		case chunkedDataLF:
			if in[consumed] != '\n' {
				return out, consumed, bperror.New(bperror.Garbage, "httpwire: missing chunk trailer LF")
			}
			consumed++
			d.state = chunkedSize
		case chunkedTrailer:
			// Consume trailer headers (rare) up to the terminating blank
			// line; we don't surface trailer fields to callers.
			idx := bytes.Index(in[consumed:], []byte("\r\n"))
			if idx < 0 {
				return out, consumed, nil
			}
			if idx == 0 {
				consumed += 2
				d.state = chunkedDone
				d.done = true
				break
			}
			consumed += idx + 2
		}
	}
	return out, consumed, nil
}

// Done reports whether the terminating zero-length chunk and trailer
// have been fully consumed.
func (d *ChunkedDecoder) Done() bool { return d.done }

// EncodeChunk formats a single chunk (size line + data + CRLF). An empty
// chunk (len(data)==0) writes the terminating zero-chunk plus the final
// CRLF, i.e. it closes the body.
func EncodeChunk(data []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%x\r\n", len(data))
	buf.Write(data)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
