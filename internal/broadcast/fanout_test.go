package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beamcast/beamcast/internal/media"
	"github.com/beamcast/beamcast/internal/media/mediatest"
	"github.com/beamcast/beamcast/internal/metrics"
	"github.com/beamcast/beamcast/internal/protocol"
	"github.com/beamcast/beamcast/internal/room"
)

var caps = json.RawMessage(`{"codecs":[]}`)

type fakePeer struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (p *fakePeer) Send(msg *protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePeer) byAction(action protocol.Action) []*protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*protocol.Message
	for _, m := range p.msgs {
		if m.Action == action {
			out = append(out, m)
		}
	}
	return out
}

func newFanout(t *testing.T) (*Fanout, *room.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := room.NewRegistry(mediatest.NewFake(), logger)
	f := New(registry, time.Hour, time.Hour, metrics.NewMetrics(prometheus.NewRegistry()), logger)
	return f, registry
}

func TestViewerCountMatchesSet(t *testing.T) {
	f, registry := newFanout(t)
	r := registry.GetOrCreate("r1")

	a, b := &fakePeer{}, &fakePeer{}
	r.AddClient("a", a)
	r.AddClient("b", b)
	r.AddViewer("b")

	f.ViewerCount(r)

	for name, p := range map[string]*fakePeer{"a": a, "b": b} {
		msgs := p.byAction(protocol.ActionViewerCount)
		if len(msgs) != 1 {
			t.Fatalf("%s got %d viewer-count messages, want 1", name, len(msgs))
		}
		var data protocol.ViewerCountData
		if err := json.Unmarshal(msgs[0].Data, &data); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if data.Count != r.ViewerCount() {
			t.Errorf("%s saw count %d, want %d", name, data.Count, r.ViewerCount())
		}
	}
}

func TestNewProducerSkipsOwner(t *testing.T) {
	f, registry := newFanout(t)
	r := registry.GetOrCreate("r1")

	owner, other := &fakePeer{}, &fakePeer{}
	r.AddClient("s1", owner)
	r.AddClient("v1", other)

	f.NewProducer(r, room.ProducerInfo{ID: "p1", Kind: "video", ClientID: "s1"})

	if n := len(owner.byAction(protocol.ActionNewProducer)); n != 0 {
		t.Errorf("owner got %d new-producer messages, want 0", n)
	}
	msgs := other.byAction(protocol.ActionNewProducer)
	if len(msgs) != 1 {
		t.Fatalf("other client got %d new-producer messages, want 1", len(msgs))
	}
	var data protocol.NewProducerData
	if err := json.Unmarshal(msgs[0].Data, &data); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if data.ProducerID != "p1" || data.Kind != "video" || data.ClientID != "s1" {
		t.Errorf("new-producer data = %+v", data)
	}
}

func TestProducerClosedReachesEveryoneWhenUnattributed(t *testing.T) {
	f, registry := newFanout(t)
	r := registry.GetOrCreate("r1")

	a, b := &fakePeer{}, &fakePeer{}
	r.AddClient("a", a)
	r.AddClient("b", b)

	f.ProducerClosed(r, "", "p1")

	if len(a.byAction(protocol.ActionProducerClosed)) != 1 || len(b.byAction(protocol.ActionProducerClosed)) != 1 {
		t.Error("producer-closed with empty exception must reach every client")
	}
}

func TestActiveRoomsGoesToAdminsOnly(t *testing.T) {
	f, registry := newFanout(t)
	r := registry.GetOrCreate("r1")

	client := &fakePeer{}
	r.AddClient("c1", client)
	send, _ := r.CreateTransport(context.Background(), "c1")
	if _, err := r.Produce(context.Background(), "c1", send.ID, media.KindVideo, caps); err != nil {
		t.Fatalf("Produce() error: %v", err)
	}

	admin := &fakePeer{}
	f.RegisterAdmin(admin)
	f.ActiveRooms()

	msgs := admin.byAction(protocol.ActionActiveRooms)
	// One push on registration, one explicit.
	if len(msgs) != 2 {
		t.Fatalf("admin got %d active-rooms messages, want 2", len(msgs))
	}
	var rooms []room.ActiveRoom
	if err := json.Unmarshal(msgs[1].Data, &rooms); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "r1" {
		t.Errorf("active rooms = %v, want [r1]", rooms)
	}
	if n := len(client.byAction(protocol.ActionActiveRooms)); n != 0 {
		t.Errorf("room client got %d active-rooms messages, want 0", n)
	}

	f.UnregisterAdmin(admin)
	f.ActiveRooms()
	if len(admin.byAction(protocol.ActionActiveRooms)) != 2 {
		t.Error("unregistered admin still receives broadcasts")
	}
}

func TestRelayAdminAction(t *testing.T) {
	f, registry := newFanout(t)
	r := registry.GetOrCreate("r1")

	target := &fakePeer{}
	r.AddClient("c1", target)

	msg := protocol.New(protocol.ActionAdminAction, "r1", "", protocol.AdminActionData{
		TargetClientID: "c1",
		ActionType:     "mute",
	})
	f.RelayAdminAction(r, msg, "c1")

	got := target.byAction(protocol.ActionAdminAction)
	if len(got) != 1 {
		t.Fatalf("target got %d relayed actions, want 1", len(got))
	}
	if got[0] != msg {
		t.Error("relayed message is not the verbatim original")
	}

	// Absent target: dropped silently, no panic, nothing queued anywhere.
	f.RelayAdminAction(r, msg, "nobody")
	if len(target.byAction(protocol.ActionAdminAction)) != 1 {
		t.Error("relay to absent target leaked a message")
	}
}

func TestRunTickersPushHeartbeatAndActiveRooms(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := room.NewRegistry(mediatest.NewFake(), logger)
	f := New(registry, 10*time.Millisecond, 10*time.Millisecond, metrics.NewMetrics(prometheus.NewRegistry()), logger)

	r := registry.GetOrCreate("r1")
	client := &fakePeer{}
	r.AddClient("c1", client)
	admin := &fakePeer{}
	f.RegisterAdmin(admin)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(client.byAction(protocol.ActionHeartbeat)) > 0 &&
			len(admin.byAction(protocol.ActionHeartbeat)) > 0 &&
			len(admin.byAction(protocol.ActionActiveRooms)) > 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if len(client.byAction(protocol.ActionHeartbeat)) == 0 {
		t.Error("room client never received a heartbeat")
	}
	if len(admin.byAction(protocol.ActionHeartbeat)) == 0 {
		t.Error("admin never received a heartbeat")
	}
	if len(admin.byAction(protocol.ActionActiveRooms)) < 2 {
		t.Error("admin never received a periodic active-rooms push")
	}
}
