package whatsapp

import (
	"context"
	"fmt"
	"testing"

	"go.mau.fi/whatsmeow/types"
)

func TestSentIDTracking(t *testing.T) {
	c := &Client{sentIDs: make(map[types.MessageID]struct{})}

	c.trackSentID("3EB0ABCDEF")
	if !c.WasSentByEngine("3EB0ABCDEF") {
		t.Error("tracked ID should be recognized as engine-sent")
	}
	if c.WasSentByEngine("3EB0OTHER") {
		t.Error("untracked ID must not be recognized")
	}
}

func TestSentIDTrackingEvictsOldest(t *testing.T) {
	c := &Client{sentIDs: make(map[types.MessageID]struct{})}

	for i := 0; i <= maxTrackedSends; i++ {
		c.trackSentID(types.MessageID(fmt.Sprintf("id-%d", i)))
	}
	if c.WasSentByEngine("id-0") {
		t.Error("oldest ID should have been evicted")
	}
	if !c.WasSentByEngine(types.MessageID(fmt.Sprintf("id-%d", maxTrackedSends))) {
		t.Error("newest ID must still be tracked")
	}
	if len(c.sentIDs) != maxTrackedSends {
		t.Errorf("expected %d tracked IDs, got %d", maxTrackedSends, len(c.sentIDs))
	}
}

func TestMockClientSend(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "+391234", "ciao"); err != nil {
		t.Errorf("mock send should never fail: %v", err)
	}
}
