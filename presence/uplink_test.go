package presence

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func headset(x float32) ClientPose {
	return ClientPose{Headset: Pose{Position: mgl32.Vec3{x, 0, 0}}}
}

func uplink(seq uint64, x float32) Message {
	pose := headset(x)
	return Message{Kind: UplinkPose, Seq: seq, Client: &pose}
}

func TestUplinkWriterSequencesReports(t *testing.T) {
	out := &outbox{}
	w := NewUplinkWriter("peer-1", out)

	w.Send(headset(1))
	w.Send(headset(2))

	if len(out.sent) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(out.sent))
	}
	for i, msg := range out.sent {
		if msg.Kind != UplinkPose || msg.Seq != uint64(i+1) || out.from[i] != "peer-1" {
			t.Fatalf("report %d: unexpected %+v from %q", i, msg, out.from[i])
		}
	}
	if out.sent[1].Client.Headset.Position.X() != 2 {
		t.Fatalf("expected latest pose in second report")
	}
}

func TestUplinkReaderAppliesInSequenceOrder(t *testing.T) {
	state := NewState(PointCloud, 0, 0)
	r := NewUplinkReader("peer-1", quietLogger())

	r.Receive("peer-1", uplink(2, 2))
	r.Receive("peer-1", uplink(1, 1))
	r.Receive("peer-1", uplink(2, 9))

	if applied := r.Apply(state); applied != 1 {
		t.Fatalf("expected 1 applied report, got %d", applied)
	}
	if x := state.Client.Headset.Position.X(); x != 2 {
		t.Fatalf("expected headset x=2, got %v", x)
	}

	r.Receive("peer-1", uplink(3, 3))
	r.Apply(state)
	if x := state.Client.Headset.Position.X(); x != 3 {
		t.Fatalf("expected headset x=3, got %v", x)
	}
}

func TestUplinkReaderUnsequencedLastArrivedWins(t *testing.T) {
	state := NewState(PointCloud, 0, 0)
	r := NewUplinkReader("peer-1", quietLogger())

	r.Receive("peer-1", uplink(0, 5))
	r.Receive("peer-1", uplink(0, 4))
	r.Apply(state)

	if x := state.Client.Headset.Position.X(); x != 4 {
		t.Fatalf("expected last arrived pose, got x=%v", x)
	}
}

func TestUplinkReaderIgnoresOtherPeers(t *testing.T) {
	state := NewState(PointCloud, 0, 0)
	r := NewUplinkReader("peer-1", quietLogger())

	r.Receive("peer-2", uplink(1, 7))
	if applied := r.Apply(state); applied != 0 {
		t.Fatalf("expected no reports applied, got %d", applied)
	}
	if state.Client != (ClientPose{}) {
		t.Fatalf("client pose changed by non-representing peer: %+v", state.Client)
	}
}

func TestUplinkReaderForget(t *testing.T) {
	state := NewState(PointCloud, 0, 0)
	r := NewUplinkReader("peer-1", quietLogger())

	r.Receive("peer-1", uplink(10, 1))
	r.Apply(state)
	r.Receive("peer-1", uplink(11, 2))
	r.Forget("peer-1")

	if applied := r.Apply(state); applied != 0 {
		t.Fatalf("expected queued report to be dropped, got %d applied", applied)
	}

	// a reconnecting peer starts its sequence over
	r.Receive("peer-1", uplink(1, 3))
	r.Apply(state)
	if x := state.Client.Headset.Position.X(); x != 3 {
		t.Fatalf("expected reconnect report to apply, got x=%v", x)
	}
}
