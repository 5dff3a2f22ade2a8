package core

import "testing"

type recordingGradientHandler struct {
	got []GradientUpdate
}

func (h *recordingGradientHandler) OnGradient(g GradientUpdate) { h.got = append(h.got, g) }

func TestRouteDispatchesToGradientHandler(t *testing.T) {
	h := &recordingGradientHandler{}
	m := NewBridgeMetrics(nil)
	r := NewRouter(nil, h, nil, nil, nil, nil, m)

	source := sampleNodeID(1)
	update := GradientUpdate{Source: source, CPU: 0.5, Timestamp: NowTimestamp()}
	payload, err := encodeGradientUpdate(update)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	r.Route(TopicGradient, source, payload)
	if len(h.got) != 1 || h.got[0].Source != source {
		t.Fatalf("expected one dispatched gradient update, got %+v", h.got)
	}
}

func TestRouteDropsOnSourceMismatch(t *testing.T) {
	h := &recordingGradientHandler{}
	m := NewBridgeMetrics(nil)
	r := NewRouter(nil, h, nil, nil, nil, nil, m)

	envelopeSource := sampleNodeID(1)
	overlaySource := sampleNodeID(2)
	update := GradientUpdate{Source: envelopeSource, CPU: 0.5, Timestamp: NowTimestamp()}
	payload, err := encodeGradientUpdate(update)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	r.Route(TopicGradient, overlaySource, payload)
	if len(h.got) != 0 {
		t.Fatalf("expected mismatched-source envelope to be dropped, got %+v", h.got)
	}
}

func TestRouteDropsOnDecodeFailure(t *testing.T) {
	h := &recordingGradientHandler{}
	r := NewRouter(nil, h, nil, nil, nil, nil, nil)
	r.Route(TopicGradient, sampleNodeID(1), []byte("not an envelope"))
	if len(h.got) != 0 {
		t.Fatalf("expected garbage payload to be dropped, got %+v", h.got)
	}
}

func TestRoutePartitionHookBlocksSource(t *testing.T) {
	h := &recordingGradientHandler{}
	blocked := sampleNodeID(9)

	type blockOne struct{ target NodeID }
	hook := partitionHookFunc(func(peer NodeID) bool { return peer == blocked })

	r := NewRouter(nil, h, nil, nil, nil, hook, nil)
	update := GradientUpdate{Source: blocked, CPU: 1, Timestamp: NowTimestamp()}
	payload, _ := encodeGradientUpdate(update)
	r.Route(TopicGradient, blocked, payload)
	if len(h.got) != 0 {
		t.Fatalf("expected hook-blocked source to be dropped, got %+v", h.got)
	}

	allowed := sampleNodeID(10)
	update2 := GradientUpdate{Source: allowed, CPU: 1, Timestamp: NowTimestamp()}
	payload2, _ := encodeGradientUpdate(update2)
	r.Route(TopicGradient, allowed, payload2)
	if len(h.got) != 1 {
		t.Fatalf("expected non-blocked source to be dispatched, got %+v", h.got)
	}
}

// partitionHookFunc adapts a plain func to PartitionHook for table-style tests.
type partitionHookFunc func(NodeID) bool

func (f partitionHookFunc) Blocked(peer NodeID) bool { return f(peer) }
