package recording

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/beamcast/beamcast/internal/media"
	"github.com/beamcast/beamcast/internal/media/mediatest"
	"github.com/beamcast/beamcast/internal/protocol"
	"github.com/beamcast/beamcast/internal/room"
)

type silentPeer struct{}

func (silentPeer) Send(*protocol.Message) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLiveRoom returns a bridge whose registry holds a room with one audio
// and one video producer, plus the backing fake provider.
func newLiveRoom(t *testing.T, roomID string) (*Bridge, *mediatest.Fake) {
	t.Helper()
	ctx := context.Background()
	fake := mediatest.NewFake()
	registry := room.NewRegistry(fake, discardLogger())

	r := registry.GetOrCreate(roomID)
	r.AddClient("s1", silentPeer{})
	info, err := r.CreateTransport(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	for _, kind := range []media.Kind{media.KindAudio, media.KindVideo} {
		if _, err := r.Produce(ctx, "s1", info.ID, kind, nil); err != nil {
			t.Fatalf("Produce(%s): %v", kind, err)
		}
	}
	return NewBridge(registry, fake, discardLogger()), fake
}

func TestCreateTupleBuildsSDP(t *testing.T) {
	b, _ := newLiveRoom(t, "r1")

	tuple, err := b.CreateTuple(context.Background(), "r1", "10.0.0.9", 5004, 5006)
	if err != nil {
		t.Fatalf("CreateTuple: %v", err)
	}
	if tuple.ID == "" || tuple.RoomID != "r1" {
		t.Fatalf("tuple = %+v", tuple)
	}
	if tuple.AudioTransportID == tuple.VideoTransportID {
		t.Fatal("audio and video share a transport")
	}

	for _, want := range []string{
		"c=IN IP4 10.0.0.9",
		"m=audio 5004 RTP/AVP 100",
		"a=rtpmap:100 opus/48000/2",
		"m=video 5006 RTP/AVP 101",
		"a=rtpmap:101 VP8/90000",
		"a=recvonly",
	} {
		if !strings.Contains(tuple.SDP, want) {
			t.Errorf("SDP missing %q:\n%s", want, tuple.SDP)
		}
	}
}

func TestCreateTupleConflicts(t *testing.T) {
	b, _ := newLiveRoom(t, "r1")
	ctx := context.Background()

	if _, err := b.CreateTuple(ctx, "r1", "10.0.0.9", 5004, 5006); err != nil {
		t.Fatalf("first CreateTuple: %v", err)
	}
	if _, err := b.CreateTuple(ctx, "r1", "10.0.0.9", 5008, 5010); !errors.Is(err, ErrTupleExists) {
		t.Fatalf("second CreateTuple err = %v, want ErrTupleExists", err)
	}
}

func TestCreateTupleUnknownRoom(t *testing.T) {
	b, _ := newLiveRoom(t, "r1")
	if _, err := b.CreateTuple(context.Background(), "nope", "10.0.0.9", 5004, 5006); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestCreateTupleNeedsBothProducers(t *testing.T) {
	ctx := context.Background()
	fake := mediatest.NewFake()
	registry := room.NewRegistry(fake, discardLogger())

	r := registry.GetOrCreate("r1")
	r.AddClient("s1", silentPeer{})
	info, err := r.CreateTransport(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if _, err := r.Produce(ctx, "s1", info.ID, media.KindAudio, nil); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	b := NewBridge(registry, fake, discardLogger())
	if _, err := b.CreateTuple(ctx, "r1", "10.0.0.9", 5004, 5006); !errors.Is(err, ErrNoProducers) {
		t.Fatalf("err = %v, want ErrNoProducers", err)
	}
}

func TestCreateTupleCleansUpOnBindFailure(t *testing.T) {
	b, fake := newLiveRoom(t, "r1")
	fake.FailNext("ConsumeOnPlain", errors.New("rtp bind refused"))

	if _, err := b.CreateTuple(context.Background(), "r1", "10.0.0.9", 5004, 5006); err == nil {
		t.Fatal("CreateTuple succeeded despite bind failure")
	}

	// The dangling plain transport must have been closed and the slot
	// released for a retry.
	closed := fake.ClosedTransports()
	if len(closed) != 1 || closed[0] != "plain-1" {
		t.Fatalf("closed transports = %v, want [plain-1]", closed)
	}
	if _, err := b.CreateTuple(context.Background(), "r1", "10.0.0.9", 5004, 5006); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

// stallingProvider blocks the first plain-transport bind until released, so
// a test can hold one CreateTuple mid-flight while another runs.
type stallingProvider struct {
	media.Provider
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *stallingProvider) CreatePlainTransport(ctx context.Context, remoteIP string, remotePort int) (*media.PlainTransportInfo, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.Provider.CreatePlainTransport(ctx, remoteIP, remotePort)
}

func (s *stallingProvider) plainCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestConcurrentCreateTupleHasOneWinner(t *testing.T) {
	ctx := context.Background()
	fake := mediatest.NewFake()
	registry := room.NewRegistry(fake, discardLogger())

	r := registry.GetOrCreate("r1")
	r.AddClient("s1", silentPeer{})
	info, err := r.CreateTransport(ctx, "s1")
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	for _, kind := range []media.Kind{media.KindAudio, media.KindVideo} {
		if _, err := r.Produce(ctx, "s1", info.ID, kind, nil); err != nil {
			t.Fatalf("Produce(%s): %v", kind, err)
		}
	}

	stalled := &stallingProvider{
		Provider: fake,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	b := NewBridge(registry, stalled, discardLogger())

	type result struct {
		tuple *Tuple
		err   error
	}
	done := make(chan result, 1)
	go func() {
		tuple, err := b.CreateTuple(ctx, "r1", "10.0.0.9", 5004, 5006)
		done <- result{tuple, err}
	}()
	<-stalled.entered

	// The second request lands while the first is still binding its
	// transports; it must be rejected without touching the provider.
	if _, err := b.CreateTuple(ctx, "r1", "10.0.0.9", 5008, 5010); !errors.Is(err, ErrTupleExists) {
		t.Fatalf("concurrent CreateTuple err = %v, want ErrTupleExists", err)
	}

	close(stalled.release)
	res := <-done
	if res.err != nil {
		t.Fatalf("winning CreateTuple: %v", res.err)
	}
	if n := stalled.plainCalls(); n != 2 {
		t.Fatalf("provider bound %d plain transports, want 2", n)
	}

	// Close reaches every transport that was ever bound.
	if err := b.CloseTuple("r1"); err != nil {
		t.Fatalf("CloseTuple: %v", err)
	}
	if fake.HasTransport(res.tuple.AudioTransportID) || fake.HasTransport(res.tuple.VideoTransportID) {
		t.Error("plain transports leaked after CloseTuple")
	}
}

func TestCloseTuple(t *testing.T) {
	b, fake := newLiveRoom(t, "r1")
	ctx := context.Background()

	tuple, err := b.CreateTuple(ctx, "r1", "10.0.0.9", 5004, 5006)
	if err != nil {
		t.Fatalf("CreateTuple: %v", err)
	}
	if err := b.CloseTuple("r1"); err != nil {
		t.Fatalf("CloseTuple: %v", err)
	}
	if fake.HasTransport(tuple.AudioTransportID) || fake.HasTransport(tuple.VideoTransportID) {
		t.Error("plain transports survived CloseTuple")
	}

	if err := b.CloseTuple("r1"); !errors.Is(err, ErrNoTuple) {
		t.Fatalf("second CloseTuple err = %v, want ErrNoTuple", err)
	}

	// Closing frees the room for a fresh recording.
	if _, err := b.CreateTuple(ctx, "r1", "10.0.0.9", 5004, 5006); err != nil {
		t.Fatalf("CreateTuple after close: %v", err)
	}
}
