package validate

import (
	"strings"
	"testing"

	"cableclub/internal/protocol"
	"cableclub/internal/species"
)

func testDB() *species.Database {
	return &species.Database{
		Abilities: map[string]struct{}{"STATIC": {}},
		Moves:     map[string]struct{}{"TACKLE": {}, "THUNDERBOLT": {}, "SKETCH": {}},
		Items:     map[string]struct{}{"POKEBALL": {}},
		Pokemon: map[string]*species.Species{
			"PIKACHU": {
				InternalName: "PIKACHU",
				Genders:      map[int]struct{}{0: {}, 1: {}},
				Abilities:    map[string]struct{}{"STATIC": {}},
				Moves:        map[string]struct{}{"TACKLE": {}, "THUNDERBOLT": {}},
				Forms:        species.FiniteForms([]int{0}),
			},
			"MEW": {
				InternalName: "MEW",
				Genders:      map[int]struct{}{2: {}},
				Abilities:    map[string]struct{}{},
				Moves:        map[string]struct{}{"SKETCH": {}},
				Forms:        species.Universal(),
			},
		},
	}
}

// onePokemon builds the positional fields of one minimal, valid
// PokemonRecord (no ribbons, no feature flags, no mail, no fusion), with a
// given set of current-move names (pp-ups always 0).
func onePokemon(speciesName string, level int, currentMoves ...string) []string {
	f := []string{speciesName, intField(level), "1", "1", "Ash", "0", "100", "0", ""}
	f = append(f, intField(len(currentMoves))) // Mc
	for _, m := range currentMoves {
		f = append(f, m, "0")
	}
	f = append(f, "0") // Mf
	gender := "0"
	if sp, ok := testDB().Pokemon[speciesName]; ok {
		if _, male := sp.Genders[0]; !male {
			gender = "2" // genderless species such as MEW
		}
	}
	f = append(f, gender, "", "", "", "0", "0")
	for i := 0; i < 6; i++ {
		f = append(f, "0", "", "0")
	}
	f = append(f, "0", "", "") // happiness, nickname, pokeball
	f = append(f, "0", "0")    // steps to hatch, pokerus
	f = append(f, "0", "0", "", "0", "0")
	f = append(f, "0", "0", "0", "0", "0", "0")
	f = append(f, "0")     // ribbon count
	f = append(f, "false") // mail
	f = append(f, "false") // fused
	return f
}

func buildParty(pokemon ...[]string) string {
	fields := []string{intField(len(pokemon))}
	for _, p := range pokemon {
		fields = append(fields, p...)
	}
	return strings.Join(fields, ",")
}

func intField(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestValidPartyPasses(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	party := buildParty(onePokemon("PIKACHU", 50))
	rec := protocol.Parse(party)
	res := v.Validate(rec)
	if !res.OK() {
		t.Fatalf("expected valid party, got errors: %v", res.Errors)
	}
}

func TestEmptyPartyPasses(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	rec := protocol.Parse("0")
	res := v.Validate(rec)
	if !res.OK() {
		t.Fatalf("expected empty party to validate, got: %v", res.Errors)
	}
}

func TestInvalidLevelFails(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	p := onePokemon("PIKACHU", 101)
	party := buildParty(p)
	rec := protocol.Parse(party)
	res := v.Validate(rec)
	if res.OK() {
		t.Fatal("expected level 101 to fail validation")
	}
	found := false
	for _, e := range res.Errors {
		if e == "invalid level" {
			found = true
		}
		if strings.HasPrefix(e, "remaining data") {
			t.Fatalf("field cursor desynced: got trailing-fields error: %v", res.Errors)
		}
	}
	if !found {
		t.Fatalf("expected an 'invalid level' error, got: %v", res.Errors)
	}
}

func TestTrailingFieldsIsAnError(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	p := onePokemon("PIKACHU", 50)
	party := buildParty(p) + ",extra,fields"
	rec := protocol.Parse(party)
	res := v.Validate(rec)
	if res.OK() {
		t.Fatal("expected trailing fields to fail validation")
	}
}

func TestUnknownSpeciesStillDrainsRecord(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	p := onePokemon("MISSINGNO", 50)
	party := buildParty(p)
	rec := protocol.Parse(party)
	res := v.Validate(rec)
	if res.OK() {
		t.Fatal("expected unknown species to fail")
	}
	for _, e := range res.Errors {
		if strings.HasPrefix(e, "remaining data") {
			t.Fatalf("field cursor desynced on unknown species: %v", res.Errors)
		}
	}
}

func TestSketchRelaxesMoveValidation(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	// MEW's own move set is just SKETCH, but it can sketch, so any known
	// move — like TACKLE, which MEW doesn't naturally learn — is accepted.
	p := onePokemon("MEW", 50, "TACKLE")
	party := buildParty(p)
	rec := protocol.Parse(party)
	res := v.Validate(rec)
	if !res.OK() {
		t.Fatalf("expected sketch to relax move check, got: %v", res.Errors)
	}
}

func TestNonSketchSpeciesRejectsMoveOutsideItsSet(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	// PIKACHU cannot sketch, so a globally-known move outside its own set
	// (SKETCH itself is known to the move symbol table, just not to
	// PIKACHU) is rejected.
	p := onePokemon("PIKACHU", 50, "SKETCH")
	party := buildParty(p)
	rec := protocol.Parse(party)
	res := v.Validate(rec)
	if res.OK() {
		t.Fatal("expected a move outside PIKACHU's set to fail validation")
	}
}

func TestFusedPokemonRecurses(t *testing.T) {
	v := New(testDB(), Flags{}, nil)
	outer := onePokemon("PIKACHU", 50)
	outer[len(outer)-1] = "true" // fused = true
	inner := onePokemon("MEW", 60)
	party := buildParty(append(outer, inner...))
	rec := protocol.Parse(party)
	res := v.Validate(rec)
	if !res.OK() {
		t.Fatalf("expected fused party to validate, got: %v", res.Errors)
	}
}
