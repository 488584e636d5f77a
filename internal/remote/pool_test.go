package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rconflow/internal/domain"
)

func identityDecrypt(ciphertext string) (string, error) { return ciphertext, nil }

func testOptions(dial DialFunc) Options {
	return Options{
		Dial:        dial,
		DialTimeout: time.Second,
		RetryLimit:  2,
		RetryDelay:  time.Millisecond,
	}
}

// routeDialer directs each address to its own fakeDialer.
type routeDialer struct {
	mu     sync.Mutex
	routes map[string]*fakeDialer
}

func (r *routeDialer) dial(addr, password string, timeout time.Duration) (Session, error) {
	r.mu.Lock()
	d, ok := r.routes[addr]
	r.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown host")
	}
	return d.dial(addr, password, timeout)
}

func TestConfigureIncompleteSlotHoldsNoConnection(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	pool := NewPool(identityDecrypt, testOptions(d.dial))

	states := pool.Configure([]domain.SlotConfig{
		{Slot: 0, Host: "a.example", Port: 25575, Credential: "secret"},
		{Slot: 1, Host: "b.example"}, // no port, no credential
	})

	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	if states[0].State != domain.StateConnected {
		t.Fatalf("slot 0 state = %v, want connected", states[0].State)
	}
	if states[1].State != domain.StateDisconnected || states[1].Reason != "not configured" {
		t.Fatalf("slot 1 state = %+v, want disconnected/not configured", states[1])
	}
	if d.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1 (incomplete slot never dialed)", d.dialCount())
	}
	// The empty slot stays visible in later health reads.
	if got := pool.States(); len(got) != 2 {
		t.Fatalf("States() = %d slots, want 2", len(got))
	}
}

func TestConfigureKeepsUnchangedSlots(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	pool := NewPool(identityDecrypt, testOptions(d.dial))
	cfg := []domain.SlotConfig{{Slot: 0, Host: "a.example", Port: 25575, Credential: "secret"}}

	pool.Configure(cfg)
	pool.Configure(cfg)
	if d.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1 (unchanged slot keeps its connection)", d.dialCount())
	}

	changed := []domain.SlotConfig{{Slot: 0, Host: "a.example", Port: 25576, Credential: "secret"}}
	pool.Configure(changed)
	if d.dialCount() != 2 {
		t.Fatalf("dial count = %d, want 2 (changed slot reconnects)", d.dialCount())
	}
	if !d.sessions[0].closed {
		t.Fatal("old connection should be torn down on reconfiguration")
	}
}

func TestBroadcastAllSkippedWhenNoneConnected(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{dialErr: errors.New("unreachable")}
	pool := NewPool(identityDecrypt, testOptions(d.dial))
	pool.Configure([]domain.SlotConfig{
		{Slot: 0, Host: "a.example", Port: 25575, Credential: "secret"},
		{Slot: 1, Host: "b.example", Port: 25575, Credential: "secret"},
	})

	before := d.dialCount()
	outcomes := pool.Broadcast(context.Background(), "say hi")
	if len(outcomes) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Kind != domain.OutcomeSkipped {
			t.Fatalf("outcome %+v, want skipped", o)
		}
	}
	if d.dialCount() != before {
		t.Fatal("skipped slots must not trigger reconnects")
	}
}

func TestBroadcastEmptyPool(t *testing.T) {
	t.Parallel()
	pool := NewPool(identityDecrypt, testOptions((&fakeDialer{}).dial))
	if outcomes := pool.Broadcast(context.Background(), "say hi"); len(outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none", outcomes)
	}
}

func TestBroadcastForcesFreshSession(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	pool := NewPool(identityDecrypt, testOptions(d.dial))
	pool.Configure([]domain.SlotConfig{{Slot: 0, Host: "a.example", Port: 25575, Credential: "secret"}})

	outcomes := pool.Broadcast(context.Background(), "save-all")
	if len(outcomes) != 1 || outcomes[0].Kind != domain.OutcomeSuccess {
		t.Fatalf("outcomes = %+v, want one success", outcomes)
	}
	if outcomes[0].Response != "done" {
		t.Fatalf("response = %q", outcomes[0].Response)
	}
	if d.dialCount() != 2 {
		t.Fatalf("dial count = %d, want 2 (reconnect before send)", d.dialCount())
	}
	if !d.sessions[0].closed {
		t.Fatal("previous session should be closed before the fire")
	}
	if got := d.sessions[1].commands; len(got) != 1 || got[0] != "save-all" {
		t.Fatalf("command went to the wrong session: %v", got)
	}
}

func TestBroadcastFailureIsolation(t *testing.T) {
	t.Parallel()
	healthy := &fakeDialer{}
	flaky := &fakeDialer{factory: func() *fakeSession { return &fakeSession{cmdErr: errors.New("broken pipe")} }}
	router := &routeDialer{routes: map[string]*fakeDialer{
		"a.example:25575": healthy,
		"b.example:25575": flaky,
	}}
	pool := NewPool(identityDecrypt, testOptions(router.dial))
	pool.Configure([]domain.SlotConfig{
		{Slot: 0, Host: "a.example", Port: 25575, Credential: "secret"},
		{Slot: 1, Host: "b.example", Port: 25575, Credential: "secret"},
	})

	outcomes := pool.Broadcast(context.Background(), "say hi")
	if len(outcomes) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2", len(outcomes))
	}
	if outcomes[0].Slot != 0 || outcomes[0].Kind != domain.OutcomeSuccess {
		t.Fatalf("slot 0 outcome = %+v, want success", outcomes[0])
	}
	if outcomes[1].Slot != 1 || outcomes[1].Kind != domain.OutcomeFailed {
		t.Fatalf("slot 1 outcome = %+v, want failed", outcomes[1])
	}

	states := pool.States()
	if states[0].State != domain.StateConnected {
		t.Fatalf("healthy slot state = %v, want connected", states[0].State)
	}
	if states[1].State != domain.StateFailed {
		t.Fatalf("flaky slot state = %v, want failed", states[1].State)
	}
}

func TestBroadcastReportsReconnectFailure(t *testing.T) {
	t.Parallel()
	// Dial succeeds once (configure), then the host goes away.
	d := &fakeDialer{}
	pool := NewPool(identityDecrypt, testOptions(d.dial))
	pool.Configure([]domain.SlotConfig{{Slot: 0, Host: "a.example", Port: 25575, Credential: "secret"}})
	d.mu.Lock()
	d.dialErr = errors.New("host went away")
	d.mu.Unlock()

	outcomes := pool.Broadcast(context.Background(), "say hi")
	if len(outcomes) != 1 || outcomes[0].Kind != domain.OutcomeFailed {
		t.Fatalf("outcomes = %+v, want one failed", outcomes)
	}
	if outcomes[0].Reason == "" {
		t.Fatal("failed outcome should carry a reason")
	}
}

func TestConfigureDecryptFailure(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	decrypt := func(string) (string, error) { return "", errors.New("secret: crypto failure") }
	pool := NewPool(decrypt, testOptions(d.dial))

	states := pool.Configure([]domain.SlotConfig{{Slot: 0, Host: "a.example", Port: 25575, Credential: "bad"}})
	if states[0].State != domain.StateFailed {
		t.Fatalf("state = %v, want failed when credential cannot be decrypted", states[0].State)
	}
	if d.dialCount() != 0 {
		t.Fatal("must not dial without a usable credential")
	}
}
