// Package transcode implements the Stream Transcoder (C8): decoding AWS
// Event Stream binary frames from the upstream CodeWhisperer response and
// re-assembling their JSON payloads into text-delta and tool-call events
// for the downstream chat-completions surface.
package transcode

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/jwadow/kiro-gateway/internal/metrics"
)

// Frame is one decoded AWS Event Stream message. Payload is itself JSON
// text fed to the prefix scanner in parser.go.
type Frame struct {
	EventType string
	Payload   []byte
}

// ReadFrame decodes a single AWS Event Stream message from r: a 4-byte
// total length, 4-byte headers length, a CRC32 prelude checksum,
// TLV-encoded headers, the payload, and a trailing message CRC32 — the
// same envelope and field order as the teacher's
// parseAWSEventStreamMessage in kiro_executor.go, adapted to return io.EOF
// cleanly at a frame boundary instead of a bufio.Reader-specific sentinel.
func ReadFrame(r io.Reader) (Frame, error) {
	var frame Frame

	prelude := make([]byte, 8)
	if _, err := io.ReadFull(r, prelude); err != nil {
		return frame, err
	}
	totalLength := binary.BigEndian.Uint32(prelude[0:4])
	headersLength := binary.BigEndian.Uint32(prelude[4:8])

	preludeCRC := make([]byte, 4)
	if _, err := io.ReadFull(r, preludeCRC); err != nil {
		return frame, err
	}
	if crc32.ChecksumIEEE(prelude) != binary.BigEndian.Uint32(preludeCRC) {
		return frame, fmt.Errorf("transcode: prelude crc mismatch")
	}

	headers := make([]byte, headersLength)
	if _, err := io.ReadFull(r, headers); err != nil {
		return frame, err
	}
	frame.EventType = parseHeaders(headers)

	payloadLength := int(totalLength) - 8 - 4 - int(headersLength) - 4
	if payloadLength > 0 {
		payload := make([]byte, payloadLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame, err
		}
		frame.Payload = payload
	}

	messageCRC := make([]byte, 4)
	if _, err := io.ReadFull(r, messageCRC); err != nil {
		return frame, err
	}
	messageData := make([]byte, 0, int(totalLength)-4)
	messageData = append(messageData, prelude...)
	messageData = append(messageData, preludeCRC...)
	messageData = append(messageData, headers...)
	messageData = append(messageData, frame.Payload...)
	if crc32.ChecksumIEEE(messageData) != binary.BigEndian.Uint32(messageCRC) {
		return frame, fmt.Errorf("transcode: message crc mismatch")
	}

	metrics.StreamFramesTotal.WithLabelValues(frame.EventType).Inc()
	return frame, nil
}

// parseHeaders extracts the `:event-type` TLV header's string value.
// Header encoding: 1-byte name length, name, 1-byte value type, and for
// string-typed values (type 7) a 2-byte value length then the value bytes.
func parseHeaders(headers []byte) string {
	eventType := ""
	offset := 0

	for offset < len(headers) {
		nameLen := int(headers[offset])
		offset++
		if offset+nameLen > len(headers) {
			break
		}
		name := string(headers[offset : offset+nameLen])
		offset += nameLen

		if offset >= len(headers) {
			break
		}
		valueType := headers[offset]
		offset++

		if valueType != 7 {
			break
		}
		if offset+2 > len(headers) {
			break
		}
		valueLen := int(binary.BigEndian.Uint16(headers[offset : offset+2]))
		offset += 2
		if offset+valueLen > len(headers) {
			break
		}
		value := string(headers[offset : offset+valueLen])
		offset += valueLen

		if name == ":event-type" {
			eventType = value
		}
	}

	return eventType
}
