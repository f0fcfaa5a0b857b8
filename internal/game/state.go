package game

import (
	"time"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game/effects"
	"github.com/duelfield/duel-server-go/internal/game/timing"
)

// Zone identifies where a card instance currently sits.
type Zone string

const (
	ZoneDeck      Zone = "deck"
	ZoneHand      Zone = "hand"
	ZoneBoard     Zone = "board"
	ZoneSpellTrap Zone = "spell_trap"
	ZoneField     Zone = "field"
	ZoneGraveyard Zone = "graveyard"
	ZoneBanished  Zone = "banished"
)

// Position is a monster's battle orientation.
type Position string

const (
	PositionAttack  Position = "attack"
	PositionDefense Position = "defense"
)

// BoardSize caps monster and spell/trap zones per player.
const BoardSize = 5

// StartingHandSize is dealt at match creation.
const StartingHandSize = 5

// StartingLifePoints for each player.
const StartingLifePoints = 8000

// CardInstance is one physical copy of a card inside a match.
type CardInstance struct {
	ID               string         `json:"id"`
	DefID            string         `json:"def_id"`
	Name             string         `json:"name"`
	Type             cards.CardType `json:"type"`
	ATK              int            `json:"atk"`
	DEF              int            `json:"def"`
	Position         Position       `json:"position,omitempty"`
	FaceUp           bool           `json:"face_up"`
	Zone             Zone           `json:"zone"`
	OwnerID          string         `json:"owner_id"`
	CannotBeTargeted bool           `json:"cannot_be_targeted,omitempty"`
	TurnPlaced       int            `json:"turn_placed,omitempty"`
	AttackedThisTurn bool           `json:"attacked_this_turn,omitempty"`
}

// PlayerState is one symmetric half of the match.
type PlayerState struct {
	PlayerID   string          `json:"player_id"`
	LifePoints int             `json:"life_points"`
	Deck       []*CardInstance `json:"deck"`
	Hand       []*CardInstance `json:"hand"`
	Board      []*CardInstance `json:"board"`
	SpellTrap  []*CardInstance `json:"spell_trap"`
	FieldSpell *CardInstance   `json:"field_spell,omitempty"`
	Graveyard  []*CardInstance `json:"graveyard"`
	Banished   []*CardInstance `json:"banished"`
}

// WindowType categorizes what a response window was opened for.
type WindowType string

const (
	WindowSummon            WindowType = "summon"
	WindowAttackDeclaration WindowType = "attack_declaration"
	WindowSpellActivation   WindowType = "spell_activation"
	WindowTrapActivation    WindowType = "trap_activation"
	WindowEffectActivation  WindowType = "effect_activation"
	WindowDamageCalculation WindowType = "damage_calculation"
	WindowEndPhase          WindowType = "end_phase"
	WindowOpen              WindowType = "open"
)

// ResponseWindowState is the open priority window, when one exists.
// Invariant: at most one window is open per match, and a non-empty
// chain implies a window exists.
type ResponseWindowState struct {
	Type            WindowType `json:"type"`
	TriggerPlayerID string     `json:"trigger_player_id"`
	ActivePlayerID  string     `json:"active_player_id"`
	CanRespond      bool       `json:"can_respond"`
	ChainOpen       bool       `json:"chain_open"`
	PassCount       int        `json:"pass_count"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// ChainLink is one pending effect activation on the chain.
type ChainLink struct {
	ID         string           `json:"id"`
	CardID     string           `json:"card_id"`
	PlayerID   string           `json:"player_id"`
	SpellSpeed int              `json:"spell_speed"`
	Effect     *effects.Ability `json:"effect,omitempty"`
	Targets    []string         `json:"targets,omitempty"`
	Negated    bool             `json:"negated,omitempty"`
}

// PendingAction snapshots an action awaiting resolution, currently only
// attack declarations.
type PendingAction struct {
	Type                 string `json:"type"`
	PlayerID             string `json:"player_id"`
	CardID               string `json:"card_id"`
	TargetID             string `json:"target_id,omitempty"`
	OriginalMonsterCount int    `json:"original_monster_count"`
}

// PendingActionAttack is the only pending-action type today.
const PendingActionAttack = "attack"

// ReplayState is surfaced when the defender's board changed while an
// attack was pending; it is consumed by the attacker's choice.
type ReplayState struct {
	AttackerID           string   `json:"attacker_id"`
	AttackerOwnerID      string   `json:"attacker_owner_id"`
	OriginalTargetID     string   `json:"original_target_id,omitempty"`
	OriginalMonsterCount int      `json:"original_monster_count"`
	CurrentMonsterCount  int      `json:"current_monster_count"`
	AvailableTargets     []string `json:"available_targets"`
	CanAttackDirectly    bool     `json:"can_attack_directly"`
}

// ReplayChoiceType enumerates the attacker's legal replay responses.
type ReplayChoiceType string

const (
	ReplayChoiceNewTarget    ReplayChoiceType = "new_target"
	ReplayChoiceDirectAttack ReplayChoiceType = "direct_attack"
	ReplayChoiceCancel       ReplayChoiceType = "cancel"
)

// ReplayChoice is the attacker's answer to a pending replay.
type ReplayChoice struct {
	Type        ReplayChoiceType `json:"type"`
	NewTargetID string           `json:"new_target_id,omitempty"`
}

// MatchState is the single mutable aggregate for one match. It is
// loaded, mutated and committed as a whole; the store's versioned
// compare-and-swap keeps writers serialized.
type MatchState struct {
	MatchID        string           `json:"match_id"`
	Players        [2]*PlayerState  `json:"players"`
	Turn           int              `json:"turn"`
	TurnPlayerID   string           `json:"turn_player_id"`
	CurrentChain   []ChainLink      `json:"current_chain,omitempty"`
	Window         *ResponseWindowState `json:"window,omitempty"`
	PendingReplay  *ReplayState     `json:"pending_replay,omitempty"`
	PendingAction  *PendingAction   `json:"pending_action,omitempty"`
	TimeoutConfig  timing.Config    `json:"timeout_config"`
	MatchTimerStart *time.Time      `json:"match_timer_start,omitempty"`
	TimeoutRecords []timing.Record  `json:"timeout_records,omitempty"`
	PriorityHistory *PriorityHistory `json:"priority_history"`
	OncePerTurnUsed map[string]int  `json:"once_per_turn_used,omitempty"`
	Over           bool             `json:"over"`
	WinnerID       string           `json:"winner_id,omitempty"`
	EndReason      string           `json:"end_reason,omitempty"`

	// pending collects events produced while mutating this copy of the
	// state; the engine drains them to the sink after commit.
	pending []events.Event
}

// Player returns the half belonging to playerID, or nil.
func (s *MatchState) Player(playerID string) *PlayerState {
	for _, p := range s.Players {
		if p != nil && p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

// Opponent returns the other player's id.
func (s *MatchState) Opponent(playerID string) string {
	for _, p := range s.Players {
		if p != nil && p.PlayerID != playerID {
			return p.PlayerID
		}
	}
	return ""
}

// HasPlayer reports whether playerID belongs to this match.
func (s *MatchState) HasPlayer(playerID string) bool {
	return s.Player(playerID) != nil
}

// FindCard locates a card instance in any zone of either player.
func (s *MatchState) FindCard(cardID string) (*CardInstance, *PlayerState) {
	for _, p := range s.Players {
		if p == nil {
			continue
		}
		for _, group := range [][]*CardInstance{p.Deck, p.Hand, p.Board, p.SpellTrap, p.Graveyard, p.Banished} {
			for _, c := range group {
				if c.ID == cardID {
					return c, p
				}
			}
		}
		if p.FieldSpell != nil && p.FieldSpell.ID == cardID {
			return p.FieldSpell, p
		}
	}
	return nil, nil
}

// findOnBoard returns the card only if it is in a board slot.
func (s *MatchState) findOnBoard(cardID string) (*CardInstance, *PlayerState) {
	card, owner := s.FindCard(cardID)
	if card == nil || card.Zone != ZoneBoard {
		return nil, nil
	}
	return card, owner
}

// topLink returns the most recently added chain link, or nil.
func (s *MatchState) topLink() *ChainLink {
	if len(s.CurrentChain) == 0 {
		return nil
	}
	return &s.CurrentChain[len(s.CurrentChain)-1]
}

// chainHasSpeed3 reports whether any link in the chain is spell speed 3.
// Once one is, only speed 3 may be added for the rest of the chain.
func (s *MatchState) chainHasSpeed3() bool {
	for _, link := range s.CurrentChain {
		if link.SpellSpeed == 3 {
			return true
		}
	}
	return false
}

// markOPT records a once-per-turn activation for a card.
func (s *MatchState) markOPT(cardID string) {
	if s.OncePerTurnUsed == nil {
		s.OncePerTurnUsed = make(map[string]int)
	}
	s.OncePerTurnUsed[cardID] = s.Turn
}

// optUsed reports whether a card's once-per-turn effect was used this turn.
func (s *MatchState) optUsed(cardID string) bool {
	turn, ok := s.OncePerTurnUsed[cardID]
	return ok && turn == s.Turn
}

// emit queues an event for post-commit delivery.
func (s *MatchState) emit(typ events.Type, playerID, cardID string, detail map[string]string) {
	s.pending = append(s.pending, events.New(s.MatchID, typ, playerID, cardID, detail))
}

// drainEvents returns and clears the queued events.
func (s *MatchState) drainEvents() []events.Event {
	out := s.pending
	s.pending = nil
	return out
}

// recordPriority appends to the bounded priority log.
func (s *MatchState) recordPriority(playerID, action, detail string, at time.Time) {
	if s.PriorityHistory == nil {
		s.PriorityHistory = NewPriorityHistory()
	}
	s.PriorityHistory.Push(PriorityEntry{PlayerID: playerID, Action: action, Detail: detail, At: at})
}

// endMatch marks the match over. Further engine operations reject.
func (s *MatchState) endMatch(winnerID, reason string) {
	if s.Over {
		return
	}
	s.Over = true
	s.WinnerID = winnerID
	s.EndReason = reason
	s.Window = nil
	s.CurrentChain = nil
	s.PendingReplay = nil
	s.PendingAction = nil
	s.emit(events.TypeMatchEnded, winnerID, "", map[string]string{"reason": reason})
}

// removeFromZone detaches a card from whatever zone list holds it.
// Returns false when the card is not present.
func (p *PlayerState) removeFromZone(card *CardInstance) bool {
	remove := func(list []*CardInstance) ([]*CardInstance, bool) {
		for i, c := range list {
			if c.ID == card.ID {
				return append(list[:i], list[i+1:]...), true
			}
		}
		return list, false
	}

	var ok bool
	switch card.Zone {
	case ZoneDeck:
		p.Deck, ok = remove(p.Deck)
	case ZoneHand:
		p.Hand, ok = remove(p.Hand)
	case ZoneBoard:
		p.Board, ok = remove(p.Board)
	case ZoneSpellTrap:
		p.SpellTrap, ok = remove(p.SpellTrap)
	case ZoneGraveyard:
		p.Graveyard, ok = remove(p.Graveyard)
	case ZoneBanished:
		p.Banished, ok = remove(p.Banished)
	case ZoneField:
		if p.FieldSpell != nil && p.FieldSpell.ID == card.ID {
			p.FieldSpell = nil
			ok = true
		}
	}
	return ok
}

// moveToGraveyard moves a card from its current zone to its owner's
// graveyard.
func (s *MatchState) moveToGraveyard(card *CardInstance) {
	_, holder := s.FindCard(card.ID)
	if holder == nil {
		return
	}
	holder.removeFromZone(card)
	owner := s.Player(card.OwnerID)
	if owner == nil {
		owner = holder
	}
	card.Zone = ZoneGraveyard
	card.FaceUp = true
	owner.Graveyard = append(owner.Graveyard, card)
}
