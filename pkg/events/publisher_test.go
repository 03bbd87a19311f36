package events

import (
	"context"
	"testing"
	"time"
)

func TestRoutingKey(t *testing.T) {
	cases := map[string]string{
		"addToWatchlist": "userstate.addToWatchlist",
		"  ":             "userstate.unknown",
	}
	for in, want := range cases {
		if got := RoutingKey(in); got != want {
			t.Fatalf("RoutingKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), ChangeEvent{Action: "x", At: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher(AMQPConfig{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
