package middleware

import (
	"context"
	"io"
	"testing"

	"github.com/AlfredDev/novagate/dialect"
	"github.com/AlfredDev/novagate/transport"
	"github.com/AlfredDev/novagate/vrouter"
)

type stubTransport struct {
	doCalled       bool
	doStreamCalled bool
	stream         *stubStream
}

func (s *stubTransport) Do(ctx context.Context, target transport.Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Response, error) {
	s.doCalled = true
	return dialect.Response{}, nil
}

func (s *stubTransport) DoStream(ctx context.Context, target transport.Target, pd dialect.ProviderDialect, req dialect.Request) (dialect.Stream, error) {
	s.doStreamCalled = true
	return s.stream, nil
}

type stubStream struct {
	closed bool
}

func (s *stubStream) Next() (dialect.Delta, error) { return dialect.Delta{}, io.EOF }
func (s *stubStream) Close() error {
	s.closed = true
	return nil
}

func TestLoadTrackingTransportDoReleasesSlotSynchronously(t *testing.T) {
	tracker := NewProviderLoadTracker()
	inner := &stubTransport{}
	wrapped := NewLoadTrackingTransport(inner, tracker)

	key := vrouter.ProviderKey("openai.gpt-4o")
	target := transport.Target{Key: transport.ProviderKey(key)}

	_, err := wrapped.Do(context.Background(), target, dialect.ProviderOpenAI, dialect.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inner.doCalled {
		t.Fatal("expected inner transport Do to be called")
	}
	if got := tracker.InFlight(key); got != 0 {
		t.Fatalf("expected in-flight count to drop back to 0 after Do returns, got %d", got)
	}
}

func TestLoadTrackingTransportDoStreamReleasesOnClose(t *testing.T) {
	tracker := NewProviderLoadTracker()
	stream := &stubStream{}
	inner := &stubTransport{stream: stream}
	wrapped := NewLoadTrackingTransport(inner, tracker)

	key := vrouter.ProviderKey("anthropic.claude-3")
	target := transport.Target{Key: transport.ProviderKey(key)}

	s, err := wrapped.DoStream(context.Background(), target, dialect.ProviderAnthropic, dialect.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tracker.InFlight(key); got != 1 {
		t.Fatalf("expected in-flight count 1 while stream is open, got %d", got)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !stream.closed {
		t.Fatal("expected inner stream to be closed")
	}
	if got := tracker.InFlight(key); got != 0 {
		t.Fatalf("expected in-flight count to drop back to 0 after Close, got %d", got)
	}
}
