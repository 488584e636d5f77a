package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"rconflow/internal/domain"
)

// Options tunes connection behavior for every slot in the pool.
type Options struct {
	Dial        DialFunc
	DialTimeout time.Duration
	RetryLimit  int
	RetryDelay  time.Duration
}

func (o *Options) defaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.RetryLimit <= 0 {
		o.RetryLimit = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
}

// Pool owns the set of configured remote connections, at most one per
// configuration slot. Slots with incomplete configuration hold no
// connection.
type Pool struct {
	decrypt func(ciphertext string) (string, error)
	opts    Options

	mu       sync.Mutex
	conns    map[int]*Conn
	emptySts []domain.SlotState // incomplete slots, kept for display
}

func NewPool(decrypt func(string) (string, error), opts Options) *Pool {
	opts.defaults()
	return &Pool{decrypt: decrypt, opts: opts, conns: make(map[int]*Conn)}
}

// Configure replaces the slot list. Connections for new or changed slots
// are (re)established; unchanged slots keep their connection; removed or
// incomplete slots are torn down. The per-slot resulting states are
// returned for display.
func (p *Pool) Configure(slots []domain.SlotConfig) []domain.SlotState {
	p.mu.Lock()
	next := make(map[int]*Conn, len(slots))
	var empty []domain.SlotState
	var fresh []*Conn

	for _, cfg := range slots {
		if !cfg.Complete() {
			empty = append(empty, domain.SlotState{
				Slot: cfg.Slot, Host: cfg.Host,
				State: domain.StateDisconnected, Reason: "not configured",
			})
			continue
		}
		if existing, ok := p.conns[cfg.Slot]; ok && existing.Config() == cfg {
			next[cfg.Slot] = existing
			continue
		}
		conn := NewConn(cfg, p.credentialFunc(cfg.Credential), p.opts.Dial, p.opts.DialTimeout)
		next[cfg.Slot] = conn
		fresh = append(fresh, conn)
	}

	// Tear down connections whose slot was removed or reconfigured.
	for slot, conn := range p.conns {
		if next[slot] != conn {
			conn.Disconnect()
		}
	}
	p.conns = next
	p.emptySts = empty
	p.mu.Unlock()

	// Dial outside the pool lock so status reads stay responsive.
	for _, conn := range fresh {
		conn.Connect()
	}
	return p.States()
}

func (p *Pool) credentialFunc(ciphertext string) CredentialFunc {
	return func() (string, error) { return p.decrypt(ciphertext) }
}

// Broadcast sends the command to every currently Connected slot, forcing a
// fresh authenticated session per fire (disconnect, bounded-retry
// reconnect, then execute). Slots that are not Connected are reported as
// skipped. One slot's failure never affects another's dispatch.
func (p *Pool) Broadcast(ctx context.Context, command string) []domain.Outcome {
	conns := p.snapshot()
	outcomes := make([]domain.Outcome, 0, len(conns))

	for _, conn := range conns {
		slot := conn.Config().Slot
		select {
		case <-ctx.Done():
			outcomes = append(outcomes, domain.Outcome{Slot: slot, Kind: domain.OutcomeSkipped, Reason: "shutting down"})
			continue
		default:
		}
		if conn.State() != domain.StateConnected {
			outcomes = append(outcomes, domain.Outcome{Slot: slot, Kind: domain.OutcomeSkipped, Reason: "not connected"})
			continue
		}

		// Fresh session per scheduled fire, deliberately: a stale
		// authenticated session is worth less than the reconnect cost.
		if st := conn.Reconnect(ctx, p.opts.RetryLimit, p.opts.RetryDelay); st != domain.StateConnected {
			status := conn.Status()
			outcomes = append(outcomes, domain.Outcome{Slot: slot, Kind: domain.OutcomeFailed, Reason: status.Reason})
			continue
		}

		resp, err := conn.Execute(command)
		if err != nil {
			log.Error().Int("slot", slot).Str("command", command).Err(err).Msg("command execution failed")
			outcomes = append(outcomes, domain.Outcome{Slot: slot, Kind: domain.OutcomeFailed, Reason: err.Error()})
			continue
		}
		log.Info().Int("slot", slot).Str("command", command).Msg("command executed")
		outcomes = append(outcomes, domain.Outcome{Slot: slot, Kind: domain.OutcomeSuccess, Response: resp})
	}
	return outcomes
}

// States reports per-slot connection health for display, including
// configured-but-empty slots.
func (p *Pool) States() []domain.SlotState {
	p.mu.Lock()
	states := make([]domain.SlotState, 0, len(p.conns)+len(p.emptySts))
	states = append(states, p.emptySts...)
	p.mu.Unlock()

	for _, conn := range p.snapshot() {
		states = append(states, conn.Status())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Slot < states[j].Slot })
	return states
}

// Configs returns the current slot configurations (credentials still
// ciphertext), for persistence.
func (p *Pool) Configs() []domain.SlotConfig {
	conns := p.snapshot()
	cfgs := make([]domain.SlotConfig, 0, len(conns))
	for _, conn := range conns {
		cfgs = append(cfgs, conn.Config())
	}
	return cfgs
}

// DisconnectAll tears down every connection; used at shutdown.
func (p *Pool) DisconnectAll() {
	for _, conn := range p.snapshot() {
		conn.Disconnect()
	}
}

// snapshot returns the connections in stable slot order.
func (p *Pool) snapshot() []*Conn {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].Config().Slot < conns[j].Config().Slot })
	return conns
}
