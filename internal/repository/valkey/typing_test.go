package valkey

import (
	"testing"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/config"
	"github.com/sanaka-srujana/tars-chat/internal/repository/storetest"
)

func TestIndicatorID(t *testing.T) {
	tests := []struct {
		id   string
		conv string
		user string
		ok   bool
	}{
		{indicatorID("c1", "u1"), "c1", "u1", true},
		{indicatorID("c1", ""), "c1", "", true},
		{"no-separator", "no-separator", "", false},
	}
	for _, tt := range tests {
		conv, user, ok := splitID(tt.id)
		if conv != tt.conv || user != tt.user || ok != tt.ok {
			t.Errorf("splitID(%q) = %q, %q, %v", tt.id, conv, user, ok)
		}
	}
}

func TestTypingStore(t *testing.T) {
	client, err := NewClient(config.Load().ValkeyAddr)
	if err != nil {
		t.Skipf("skip: valkey not available: %v", err)
	}
	defer client.Close()
	storetest.TypingStore(t, NewTypingStore(client, time.Minute))
}
