package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type categorizes an audit event emitted by the duel engine.
type Type string

const (
	TypeMatchCreated    Type = "MATCH_CREATED"
	TypeMatchEnded      Type = "MATCH_ENDED"
	TypeTurnEnded       Type = "TURN_ENDED"
	TypeWindowOpened    Type = "WINDOW_OPENED"
	TypeWindowClosed    Type = "WINDOW_CLOSED"
	TypePriorityPassed  Type = "PRIORITY_PASSED"
	TypeResponse        Type = "RESPONSE"
	TypeChainLinkAdded  Type = "CHAIN_LINK_ADDED"
	TypeChainResolved   Type = "CHAIN_RESOLVED"
	TypeLinkResolved    Type = "LINK_RESOLVED"
	TypeLinkNegated     Type = "LINK_NEGATED"
	TypeEffectSkipped   Type = "EFFECT_SKIPPED"
	TypeSummon          Type = "SUMMON"
	TypeAttackDeclared  Type = "ATTACK_DECLARED"
	TypeReplayTriggered Type = "REPLAY_TRIGGERED"
	TypeReplayResolved  Type = "REPLAY_RESOLVED"
	TypeDamageApplied   Type = "DAMAGE_APPLIED"
	TypeCardDestroyed   Type = "CARD_DESTROYED"
	TypeTimeout         Type = "TIMEOUT"
	TypeAutoPass        Type = "AUTO_PASS"
)

// Event is a single append-only audit record. Events feed the spectator
// stream and the per-match history; they are emitted only after the
// state transition that produced them has committed.
type Event struct {
	ID        string            `json:"id"`
	MatchID   string            `json:"match_id"`
	Type      Type              `json:"type"`
	PlayerID  string            `json:"player_id,omitempty"`
	CardID    string            `json:"card_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// New builds an event with a fresh ID and the current time.
func New(matchID string, typ Type, playerID, cardID string, detail map[string]string) Event {
	return Event{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		Type:      typ,
		PlayerID:  playerID,
		CardID:    cardID,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}

// Sink receives committed events.
type Sink interface {
	Append(event Event)
}

// MemorySink retains events in order, for tests and spectator catch-up.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]Event, 0, 64)}
}

func (s *MemorySink) Append(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// List returns a copy of all recorded events, oldest first.
func (s *MemorySink) List() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cpy := make([]Event, len(s.events))
	copy(cpy, s.events)
	return cpy
}

// ByMatch returns the events recorded for a single match.
func (s *MemorySink) ByMatch(matchID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.MatchID == matchID {
			out = append(out, e)
		}
	}
	return out
}

// ZapSink logs every event through a structured logger.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Append(event Event) {
	s.logger.Info("match event",
		zap.String("event_id", event.ID),
		zap.String("match_id", event.MatchID),
		zap.String("type", string(event.Type)),
		zap.String("player_id", event.PlayerID),
		zap.String("card_id", event.CardID),
		zap.Any("detail", event.Detail),
	)
}

// FuncSink adapts a function to the Sink interface. The WebSocket
// gateway uses it to fan events out to connected spectators.
type FuncSink func(Event)

func (f FuncSink) Append(event Event) { f(event) }

// MultiSink fans each event out to every child sink in order.
type MultiSink []Sink

func (m MultiSink) Append(event Event) {
	for _, s := range m {
		s.Append(event)
	}
}
