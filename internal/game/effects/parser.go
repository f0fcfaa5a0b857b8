package effects

import (
	"fmt"

	"go.uber.org/zap"
)

// Parser converts the stored ability representation into a typed
// Ability. The structured map form is canonical; anything else (legacy
// free-text abilities in particular) parses to nil and is treated as a
// no-op by callers.
type Parser struct {
	logger *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ParseAbility parses a raw ability value.
//
// Returns (nil, nil) for values that are deliberately tolerated as
// unparseable: nil, empty maps and legacy free-text strings. Returns a
// non-nil error only for hard schema violations (unknown effect kind,
// non-numeric amount, malformed effects list), so callers can log the
// two cases apart.
func (p *Parser) ParseAbility(raw any) (*Ability, error) {
	if raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case string:
		// Deprecated free-text shim. Logged and skipped, never a failure.
		p.logger.Debug("skipping free-text ability", zap.String("text", v))
		return nil, nil
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
		return p.parseMap(v)
	default:
		return nil, fmt.Errorf("ability must be a map, got %T", raw)
	}
}

func (p *Parser) parseMap(m map[string]any) (*Ability, error) {
	ability := &Ability{}

	if opt, ok := m["once_per_turn"]; ok {
		b, ok := opt.(bool)
		if !ok {
			return nil, fmt.Errorf("once_per_turn must be a bool, got %T", opt)
		}
		ability.OncePerTurn = b
	}

	rawEffects, ok := m["effects"]
	if !ok {
		return nil, fmt.Errorf("ability missing effects list")
	}
	list, ok := rawEffects.([]any)
	if !ok {
		return nil, fmt.Errorf("effects must be a list, got %T", rawEffects)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("effects list is empty")
	}

	for i, rawEffect := range list {
		em, ok := rawEffect.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("effect %d must be a map, got %T", i, rawEffect)
		}
		effect, err := parseEffect(em)
		if err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		ability.Effects = append(ability.Effects, effect)
	}

	return ability, nil
}

func parseEffect(m map[string]any) (Effect, error) {
	rawKind, ok := m["kind"]
	if !ok {
		return Effect{}, fmt.Errorf("missing kind")
	}
	kindStr, ok := rawKind.(string)
	if !ok {
		return Effect{}, fmt.Errorf("kind must be a string, got %T", rawKind)
	}
	kind := Kind(kindStr)
	if _, known := knownKinds[kind]; !known {
		return Effect{}, fmt.Errorf("unknown effect kind %q", kindStr)
	}

	effect := Effect{Kind: kind}

	if rawAmount, ok := m["amount"]; ok {
		amount, err := toInt(rawAmount)
		if err != nil {
			return Effect{}, fmt.Errorf("amount: %w", err)
		}
		effect.Amount = amount
	}

	if rawCard, ok := m["card_id"]; ok {
		cardID, ok := rawCard.(string)
		if !ok {
			return Effect{}, fmt.Errorf("card_id must be a string, got %T", rawCard)
		}
		effect.CardID = cardID
	}

	return effect, nil
}

// toInt accepts the numeric shapes YAML and JSON decoders produce.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}
