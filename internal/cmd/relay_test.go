package cmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jwadow/kiro-gateway/internal/config"
	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
)

// encodeFrame builds a valid AWS Event Stream message, mirroring
// transcode.ReadFrame's wire layout, so a fake Upstream can serve a
// realistic streamed response without a live CodeWhisperer endpoint.
func encodeFrame(t *testing.T, eventType string, payload []byte) []byte {
	t.Helper()

	var headers bytes.Buffer
	name := ":event-type"
	headers.WriteByte(byte(len(name)))
	headers.WriteString(name)
	headers.WriteByte(7)
	var valueLen [2]byte
	binary.BigEndian.PutUint16(valueLen[:], uint16(len(eventType)))
	headers.Write(valueLen[:])
	headers.WriteString(eventType)

	headersBytes := headers.Bytes()
	totalLength := 8 + 4 + len(headersBytes) + len(payload) + 4

	prelude := make([]byte, 8)
	binary.BigEndian.PutUint32(prelude[0:4], uint32(totalLength))
	binary.BigEndian.PutUint32(prelude[4:8], uint32(len(headersBytes)))
	preludeCRC := make([]byte, 4)
	binary.BigEndian.PutUint32(preludeCRC, crc32.ChecksumIEEE(prelude))

	messageData := make([]byte, 0, totalLength-4)
	messageData = append(messageData, prelude...)
	messageData = append(messageData, preludeCRC...)
	messageData = append(messageData, headersBytes...)
	messageData = append(messageData, payload...)

	messageCRC := make([]byte, 4)
	binary.BigEndian.PutUint32(messageCRC, crc32.ChecksumIEEE(messageData))

	out := make([]byte, 0, totalLength)
	out = append(out, messageData...)
	out = append(out, messageCRC...)
	return out
}

// fakeRelayStore is a single-record credstore.Store for relay tests.
type fakeRelayStore struct {
	record *credential.Record
}

func (s *fakeRelayStore) ListActive(ctx context.Context) ([]*credential.Record, error) {
	return []*credential.Record{s.record}, nil
}
func (s *fakeRelayStore) Get(ctx context.Context, id int64) (*credential.Record, error) {
	return s.record, nil
}
func (s *fakeRelayStore) Insert(ctx context.Context, f credstore.Fields) (*credential.Record, error) {
	return s.record, nil
}
func (s *fakeRelayStore) Update(ctx context.Context, id int64, patch credential.Patch) (*credential.Record, error) {
	patch.Apply(s.record, time.Now())
	return s.record, nil
}
func (s *fakeRelayStore) UpdateTokens(ctx context.Context, id int64, u credential.TokenUpdate) (*credential.Record, error) {
	s.record.AccessToken = u.AccessToken
	return s.record, nil
}
func (s *fakeRelayStore) Delete(ctx context.Context, id int64) error { return nil }
func (s *fakeRelayStore) TotalRequestCount(ctx context.Context) (int64, error) {
	return s.record.RequestCount, nil
}
func (s *fakeRelayStore) Close() error { return nil }

// fakeUpstream implements Upstream, returning a canned event-stream body.
type fakeUpstream struct {
	body []byte
}

func (f *fakeUpstream) Generate(ctx context.Context, rec *credential.Record, conversation []byte) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(f.body)),
	}, nil
}

func TestRunRelayDecodesStreamedEvents(t *testing.T) {
	var body bytes.Buffer
	body.Write(encodeFrame(t, "assistantResponseEvent", []byte(`{"content":"hello "}`)))
	body.Write(encodeFrame(t, "assistantResponseEvent", []byte(`{"content":"world"}`)))

	store := &fakeRelayStore{record: &credential.Record{ID: 1, IsActive: true, AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}}
	cfg := config.Default()
	client := &fakeUpstream{body: body.Bytes()}

	err := RunRelay(context.Background(), store, cfg, client, []byte(`{"conversationId":"1"}`), true)
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunRelayFailsWithNoActiveCredentials(t *testing.T) {
	cfg := config.Default()
	client := &fakeUpstream{}

	err := RunRelay(context.Background(), &emptyStore{}, cfg, client, []byte(`{}`), false)
	if err == nil {
		t.Fatal("expected resolution to fail with no active credentials and no single fallback")
	}
}

// emptyStore is a credstore.Store with no active records, used to exercise
// the resolver's no-candidate failure path.
type emptyStore struct{ fakeRelayStore }

func (s *emptyStore) ListActive(ctx context.Context) ([]*credential.Record, error) {
	return nil, nil
}
