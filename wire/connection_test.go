package wire

import (
	"sort"
	"testing"
)

func TestConnectionSubscriptions(t *testing.T) {
	t.Parallel()

	conn := NewConnection("c1", &Identity{Subject: "svc"}, &JSONCodec{})

	conn.AddSubscription("tenant:acme")
	conn.AddSubscription("job:job_123")
	conn.AddSubscription("tenant:acme") // duplicate

	subs := conn.Subscriptions()
	sort.Strings(subs)
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %v, want 2 entries", subs)
	}
	if subs[0] != "job:job_123" || subs[1] != "tenant:acme" {
		t.Errorf("subscriptions = %v", subs)
	}

	conn.RemoveSubscription("tenant:acme")
	if got := conn.Subscriptions(); len(got) != 1 {
		t.Errorf("subscriptions after remove = %v", got)
	}
}

func TestConnectionManager(t *testing.T) {
	t.Parallel()

	cm := NewConnectionManager()
	if cm.Count() != 0 {
		t.Errorf("empty manager count = %d", cm.Count())
	}

	c1 := NewConnection("c1", nil, &JSONCodec{})
	c2 := NewConnection("c2", nil, &JSONCodec{})
	cm.Add(c1)
	cm.Add(c2)

	if cm.Count() != 2 {
		t.Errorf("count = %d, want 2", cm.Count())
	}
	if got, ok := cm.Get("c1"); !ok || got != c1 {
		t.Error("Get(c1) did not return the connection")
	}
	if len(cm.All()) != 2 {
		t.Errorf("All() = %d entries, want 2", len(cm.All()))
	}

	cm.Remove("c1")
	if _, ok := cm.Get("c1"); ok {
		t.Error("c1 still present after Remove")
	}
	if cm.Count() != 1 {
		t.Errorf("count = %d, want 1", cm.Count())
	}
}
