package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Fantasim/minerstake/internal/config"
)

// Session event kinds.
const (
	EventConnected      = "connected"
	EventDisconnected   = "disconnected"
	EventAccountChanged = "accountChanged"
	EventChainChanged   = "chainChanged"
)

// SessionEvent is published to subscribers on every session change.
type SessionEvent struct {
	Kind    string
	Account common.Address
	ChainID int64
}

// ChainIDReader reports the chain id of the connected provider.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Status is a point-in-time view of the session.
type Status struct {
	Connected       bool
	Account         common.Address
	ChainID         int64
	ExpectedChainID int64
	WrongChain      bool
	ReadOnly        bool
}

// Session holds the single wallet connection the client operates on. Contract
// interaction is suspended while disconnected or on the wrong chain.
type Session struct {
	mu sync.RWMutex

	provider ChainIDReader
	expected int64
	parent   context.Context

	key       *ecdsa.PrivateKey
	watch     common.Address
	override  common.Address
	account   common.Address
	chainID   int64
	connected bool

	ctx    context.Context
	cancel context.CancelFunc

	subs map[chan SessionEvent]struct{}
}

// NewSession creates a disconnected session. A nil key gives a read-only
// session on the watch account.
func NewSession(parent context.Context, provider ChainIDReader, expectedChainID int64, key *ecdsa.PrivateKey, watch common.Address) *Session {
	ctx, cancel := context.WithCancel(parent)
	cancel()
	return &Session{
		provider: provider,
		expected: expectedChainID,
		parent:   parent,
		key:      key,
		watch:    watch,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[chan SessionEvent]struct{}),
	}
}

// Connect resolves the account and the provider's chain id. Any account
// switched to with WatchAccount is dropped, so the key holder is used again.
func (s *Session) Connect(ctx context.Context) error {
	account, err := s.resolveAccount()
	if err != nil {
		return err
	}

	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: read chain id: %v", config.ErrProviderUnavailable, err)
	}

	s.mu.Lock()
	if s.connected {
		s.cancel()
	}
	s.override = common.Address{}
	s.account = account
	s.chainID = chainID.Int64()
	s.connected = true
	s.ctx, s.cancel = context.WithCancel(s.parent)
	wrong := s.chainID != s.expected
	readOnly := s.readOnlyLocked()
	s.mu.Unlock()

	slog.Info("wallet connected",
		"account", account.Hex(),
		"chainID", chainID.Int64(),
		"expectedChainID", s.expected,
		"readOnly", readOnly,
	)
	if wrong {
		slog.Warn("wallet on unexpected chain, contract interaction suspended",
			"chainID", chainID.Int64(),
			"expectedChainID", s.expected,
		)
	}

	s.publish(SessionEvent{Kind: EventConnected, Account: account, ChainID: chainID.Int64()})
	return nil
}

func (s *Session) resolveAccount() (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key != nil {
		return crypto.PubkeyToAddress(s.key.PublicKey), nil
	}
	if s.watch != (common.Address{}) {
		return s.watch, nil
	}
	return common.Address{}, fmt.Errorf("%w: no signing key or watch account configured", config.ErrNotConnected)
}

// Disconnect drops the connection and cancels the session context.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.account = common.Address{}
	s.cancel()
	s.mu.Unlock()

	slog.Info("wallet disconnected")
	s.publish(SessionEvent{Kind: EventDisconnected})
}

// SwitchChain re-reads the provider and adopts chain id when the provider is on it.
func (s *Session) SwitchChain(ctx context.Context, id int64) error {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return config.ErrNotConnected
	}

	current, err := s.provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: read chain id: %v", config.ErrProviderUnavailable, err)
	}
	if current.Int64() != id {
		return fmt.Errorf("%w: provider is on chain %d, not %d", config.ErrWrongChain, current.Int64(), id)
	}

	s.mu.Lock()
	changed := s.chainID != id
	s.chainID = id
	account := s.account
	s.mu.Unlock()

	if changed {
		slog.Info("wallet chain changed", "chainID", id)
		s.publish(SessionEvent{Kind: EventChainChanged, Account: account, ChainID: id})
	}
	return nil
}

// WatchAccount switches to a read-only view of account until the next Connect.
func (s *Session) WatchAccount(account common.Address) error {
	if account == (common.Address{}) {
		return fmt.Errorf("%w: zero account", config.ErrInvalidInput)
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return config.ErrNotConnected
	}
	if s.account == account && s.readOnlyLocked() {
		s.mu.Unlock()
		return nil
	}
	s.override = account
	s.account = account
	chainID := s.chainID
	s.mu.Unlock()

	slog.Info("wallet account changed", "account", account.Hex(), "readOnly", true)
	s.publish(SessionEvent{Kind: EventAccountChanged, Account: account, ChainID: chainID})
	return nil
}

// Account returns the connected account; ok is false while disconnected.
func (s *Session) Account() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.connected
}

// ChainID returns the provider's chain id as of the last connect or switch.
func (s *Session) ChainID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

// Context is cancelled on disconnect or reconnect.
func (s *Session) Context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Connected:       s.connected,
		Account:         s.account,
		ChainID:         s.chainID,
		ExpectedChainID: s.expected,
		WrongChain:      s.connected && s.chainID != s.expected,
		ReadOnly:        s.readOnlyLocked(),
	}
}

// Reader returns the account to read for, failing while disconnected or on the wrong chain.
func (s *Session) Reader() (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return common.Address{}, config.ErrNotConnected
	}
	if s.chainID != s.expected {
		return common.Address{}, fmt.Errorf("%w: on chain %d, expected %d", config.ErrWrongChain, s.chainID, s.expected)
	}
	return s.account, nil
}

// Signer returns the account and its key for submitting transactions.
func (s *Session) Signer() (common.Address, *ecdsa.PrivateKey, error) {
	account, err := s.Reader()
	if err != nil {
		return common.Address{}, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readOnlyLocked() {
		return common.Address{}, nil, config.ErrReadOnlySession
	}
	return account, s.key, nil
}

// readOnlyLocked reports whether transactions cannot be signed for the
// current account. Callers hold mu.
func (s *Session) readOnlyLocked() bool {
	return s.key == nil || s.override != (common.Address{})
}

// Subscribe returns a channel receiving session events.
func (s *Session) Subscribe() <-chan SessionEvent {
	ch := make(chan SessionEvent, config.EventHubBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (s *Session) Unsubscribe(ch <-chan SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subs {
		if c == ch {
			delete(s.subs, c)
			close(c)
			return
		}
	}
}

// publish never blocks; slow subscribers miss events.
func (s *Session) publish(ev SessionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("session event dropped for slow subscriber", "kind", ev.Kind)
		}
	}
}
