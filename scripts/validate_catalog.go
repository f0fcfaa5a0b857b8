package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/game/effects"
	"go.uber.org/zap"
)

// Validates a card catalog file before it ships: every card must have a
// usable definition and every structured ability must parse.
func main() {
	var catalogPath string
	flag.StringVar(&catalogPath, "catalog", "config/cards.yaml", "path to card catalog file")
	flag.Parse()

	absPath, err := filepath.Abs(catalogPath)
	if err != nil {
		log.Fatalf("Failed to resolve catalog path: %v", err)
	}

	fmt.Println("=== Card Catalog Validation ===")
	fmt.Printf("Catalog: %s\n", absPath)

	catalog := cards.NewCatalog()
	loaded, err := catalog.LoadFile(absPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	fmt.Printf("Loaded %d cards\n", loaded)

	logger := zap.NewNop()
	parser := effects.NewParser(logger)

	var (
		monsters  int
		spells    int
		traps     int
		abilities int
		legacy    int
		problems  int
	)

	for _, def := range catalog.All() {
		switch def.Type {
		case cards.TypeMonster:
			monsters++
			if def.ATK < 0 || def.DEF < 0 {
				fmt.Printf("✗ %s: negative ATK/DEF\n", def.ID)
				problems++
			}
		case cards.TypeSpell:
			spells++
		case cards.TypeTrap:
			traps++
		default:
			fmt.Printf("✗ %s: unknown card type %q\n", def.ID, def.Type)
			problems++
		}

		for _, raw := range []map[string]any{def.Ability, def.OnDestroy} {
			if len(raw) == 0 {
				continue
			}
			ability, err := parser.ParseAbility(raw)
			if err != nil {
				fmt.Printf("✗ %s: invalid ability: %v\n", def.ID, err)
				problems++
				continue
			}
			if ability == nil {
				legacy++
				continue
			}
			abilities++
		}
	}

	fmt.Println("\n=== Validation Complete ===")
	fmt.Printf("Monsters: %d  Spells: %d  Traps: %d\n", monsters, spells, traps)
	fmt.Printf("Structured abilities: %d\n", abilities)
	if legacy > 0 {
		fmt.Printf("Legacy free-text abilities (treated as vanilla): %d\n", legacy)
	}
	if problems > 0 {
		fmt.Printf("✗ %d problem(s) found\n", problems)
		os.Exit(1)
	}
	fmt.Println("✓ Catalog is valid")
}
