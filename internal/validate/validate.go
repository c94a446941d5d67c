/*
Package validate implements the party validator: it consumes a record
representing a whole party and reports pass/fail, checking every field
against the species database and a handful of numeric bounds.

The validator always reads every field in the party's layout, even after it
has already found an error, so that its position in the record stays in
sync through to the end — a trailing-fields check only means something if
every prior field was actually consumed.
*/
package validate

import (
	"fmt"

	"github.com/k0kubun/pp/v3"
	"github.com/sirupsen/logrus"

	"cableclub/internal/protocol"
	"cableclub/internal/species"
)

// maxFusionDepth bounds the recursive fusion chain against malicious input;
// the game itself never nests more than one fusion deep.
const maxFusionDepth = 8

// Flags are the process-wide, constant-for-the-server-lifetime feature
// flags both peers must negotiate out of band; the wire format is not
// self-describing, so these must match the client build exactly.
type Flags struct {
	EssentialsDeluxeInstalled bool
	MuiMementosInstalled      bool
	ZUDDynamaxInstalled       bool
	PLAInstalled              bool
	TeraInstalled             bool
	FocusInstalled            bool
}

const (
	maxPokemonNameSize = 10
	maxPlayerNameSize  = 10
	maximumLevel       = 100
	ivStatLimit        = 31
	evLimit            = 510
	evStatLimit        = 252
)

// sketchMoveIDs names moves that, if learnable, relax move validation to
// accept any known move — SKETCH's whole point in-game.
var sketchMoveIDs = map[string]struct{}{"SKETCH": {}}

// Validator checks a party record against a loaded species Database.
type Validator struct {
	db    *species.Database
	flags Flags
	log   *logrus.Logger
}

// New builds a Validator bound to db and flags for the server's lifetime.
func New(db *species.Database, flags Flags, log *logrus.Logger) *Validator {
	return &Validator{db: db, flags: flags, log: log}
}

// Result accumulates every error found while draining the record.
type Result struct {
	Errors []string
}

// OK reports whether the party validated cleanly.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

func (r *Result) fail(msg string) { r.Errors = append(r.Errors, msg) }

/*
Function Name:  Validate
Description:    consumes a party record — a count N followed by N
                PokemonRecords, then asserts no fields remain — and reports
                pass/fail; every field in the layout is read regardless of
                which individual checks failed
Parameters:     rec: a freshly parsed record positioned at the party count
Return Value:   the accumulated Result
Type:           *protocol.Record -> *Result
*/
func (v *Validator) Validate(rec *protocol.Record) *Result {
	res := &Result{}
	n := rec.Int()
	for i := 0; i < n; i++ {
		v.validatePokemon(rec, res, 0)
	}
	if rest := rec.RawAll(); len(rest) > 0 {
		res.fail(fmt.Sprintf("remaining data: %d field(s)", len(rest)))
	}
	if rec.Err() != nil {
		res.fail(rec.Err().Error())
	}
	if v.log != nil {
		if res.OK() {
			v.log.Debug("party validated")
		} else {
			v.log.WithField("errors", pp.Sprint(res.Errors)).Debug("party validation failed")
		}
	}
	return res
}

/*
Function Name:  validatePokemon
Description:    reads one PokemonRecord in strict positional order,
                recursing once more per declared fusion, capped at
                maxFusionDepth to defend against malicious input
Parameters:     rec: the record cursor
                res: accumulates errors
                depth: current fusion recursion depth
Return Value:   n/a (all findings land in res)
Type:           *protocol.Record, *Result, int -> n/a
*/
func (v *Validator) validatePokemon(rec *protocol.Record, res *Result, depth int) {
	speciesName := rec.Str()
	sp, known := v.db.Lookup(speciesName)
	if !known {
		res.fail("invalid species")
		// A dummy species keeps every later field-shaped check from
		// panicking on a nil species while still consuming every field.
		sp = &species.Species{
			Genders:   map[int]struct{}{0: {}, 1: {}, 2: {}},
			Abilities: map[string]struct{}{},
			Moves:     map[string]struct{}{},
			Forms:     species.Universal(),
		}
	}

	level := rec.Int()
	if level < 1 || level > maximumLevel {
		res.fail("invalid level")
	}

	_ = rec.Int() // personal id, not bounds-checked

	ownerID := rec.Int()
	if ownerID < 0 || uint64(ownerID) > 0xFFFFFFFF {
		res.fail("invalid owner id")
	}

	ownerName := rec.Str()
	if len(ownerName) > maxPlayerNameSize {
		res.fail("invalid owner name")
	}

	ownerGender := rec.Int()
	if ownerGender != 0 && ownerGender != 1 {
		res.fail("invalid owner gender")
	}

	_ = rec.Int() // exp, not bounds-checked

	form := rec.Int()
	if !sp.Forms.Contains(form) {
		res.fail("invalid form")
	}

	item := rec.Str()
	if item != "" && !v.db.HasItem(item) {
		res.fail("invalid item")
	}

	canSketch := sketchIntersects(sp.Moves)

	// Current moves.
	mc := rec.Int()
	for i := 0; i < mc; i++ {
		move := rec.Str()
		v.checkMoveName(res, sp, move, canSketch, "invalid move")
		ppup := rec.Int()
		if ppup < 0 || ppup > 3 {
			res.fail("invalid ppup")
		}
		if v.flags.PLAInstalled {
			_ = rec.BoolOrNone() // mastery
		}
	}

	// First moves.
	mf := rec.Int()
	for i := 0; i < mf; i++ {
		move := rec.Str()
		v.checkMoveName(res, sp, move, canSketch, "invalid first move")
	}

	// Mastered moves (PLA only).
	if v.flags.PLAInstalled {
		mm := rec.Int()
		for i := 0; i < mm; i++ {
			move := rec.Str()
			v.checkMoveName(res, sp, move, canSketch, "invalid mastered move")
		}
	}

	gender := rec.Int()
	if _, ok := sp.Genders[gender]; !ok {
		res.fail("invalid gender")
	}

	_ = rec.BoolOrNone() // shiny

	ability := rec.Str()
	if ability != "" && !v.db.HasAbility(ability) {
		// Intentionally looser than "in species' ability set" — tolerates
		// inherited abilities.
		res.fail("invalid ability")
	}
	_ = rec.IntOrNone() // ability index, so hidden abilities inherit properly
	_ = rec.Str()       // nature id, not bounds-checked
	_ = rec.Str()       // nature-stats id, not bounds-checked

	evSum := 0
	for i := 0; i < 6; i++ {
		iv := rec.Int()
		if iv < 0 || iv > ivStatLimit {
			res.fail("invalid IV")
		}
		_ = rec.BoolOrNone() // iv maxed
		ev := rec.Int()
		if ev < 0 || ev > evStatLimit {
			res.fail("invalid EV")
		}
		evSum += ev
	}
	if evSum < 0 || evSum > evLimit {
		res.fail("invalid EV sum")
	}

	happiness := rec.Int()
	if happiness < 0 || happiness > 255 {
		res.fail("invalid happiness")
	}

	nickname := rec.Str()
	if len(nickname) > maxPokemonNameSize {
		res.fail("invalid name")
	}

	pokeBall := rec.Str()
	if pokeBall != "" && !v.db.HasItem(pokeBall) {
		res.fail("invalid pokeball")
	}

	_ = rec.Int() // steps to hatch
	_ = rec.Int() // pokerus

	_ = rec.Int() // obtain mode
	_ = rec.Int() // obtain map
	_ = rec.Str() // obtain text
	_ = rec.Int() // obtain level
	_ = rec.Int() // hatched map

	_ = rec.Int() // cool
	_ = rec.Int() // beauty
	_ = rec.Int() // cute
	_ = rec.Int() // smart
	_ = rec.Int() // tough
	_ = rec.Int() // sheen

	rc := rec.Int()
	for i := 0; i < rc; i++ {
		_ = rec.Str() // ribbon
	}

	if v.flags.EssentialsDeluxeInstalled || v.flags.MuiMementosInstalled {
		_ = rec.Int() // scale
	}
	if v.flags.MuiMementosInstalled {
		_ = rec.Str() // memento
	}
	if v.flags.ZUDDynamaxInstalled {
		_ = rec.Int()  // dmax level
		_ = rec.Bool() // gmax factor
		_ = rec.Bool() // dmax able
	}
	if v.flags.TeraInstalled {
		_ = rec.Str() // tera type
	}
	if v.flags.FocusInstalled {
		_ = rec.Str() // focus type
	}

	if rec.Bool() { // mail
		_ = rec.Str() // item
		_ = rec.Str() // message
		_ = rec.Str() // sender
		for slot := 0; slot < 3; slot++ {
			speciesSlot := rec.IntOrNone()
			if speciesSlot != nil && *speciesSlot != 0 {
				_ = rec.Int()  // gender
				_ = rec.Bool() // shiny
				_ = rec.Int()  // form
				_ = rec.Bool() // shadow
				_ = rec.Bool() // egg
			}
		}
	}

	if rec.Bool() { // fused
		if depth+1 >= maxFusionDepth {
			res.fail("fusion nested too deep")
			return
		}
		v.validatePokemon(rec, res, depth+1)
	}
}

/*
Function Name:  checkMoveName
Description:    validates one move field against the species' move set,
                relaxed to any known move when the species can sketch
Parameters:     res: accumulates errors
                sp: the Pokemon's species
                move: the move internal name, possibly empty
                canSketch: whether the species' move set intersects SKETCH
                label: the error string to append on failure
Return Value:   n/a
Type:           *Result, *species.Species, string, bool, string -> n/a
*/
func (v *Validator) checkMoveName(res *Result, sp *species.Species, move string, canSketch bool, label string) {
	if move == "" {
		return
	}
	if canSketch {
		if !v.db.HasMove(move) {
			res.fail(label + " (Sketched)")
		}
		return
	}
	if _, ok := sp.Moves[move]; !ok {
		res.fail(label)
	}
}

func sketchIntersects(moves map[string]struct{}) bool {
	for m := range sketchMoveIDs {
		if _, ok := moves[m]; ok {
			return true
		}
	}
	return false
}
