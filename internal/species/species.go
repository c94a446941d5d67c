/*
Package species loads the read-only species and symbol-table data the party
validator checks parties against: ability/move/item internal-name sets, and
a per-species table of allowed genders, abilities, moves, and forms.

All four source files live in one PBS directory and are loaded once at
server start; nothing here is ever mutated afterward.
*/
package species

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Forms is either a finite set of form numbers, or "any form admitted".
type Forms struct {
	universal bool
	set       map[int]struct{}
}

// Universal is the form set that admits any integer form.
func Universal() Forms { return Forms{universal: true} }

// FiniteForms builds a form set admitting exactly the given numbers.
func FiniteForms(nums []int) Forms {
	set := make(map[int]struct{}, len(nums))
	for _, n := range nums {
		set[n] = struct{}{}
	}
	return Forms{set: set}
}

// Contains reports whether form n is admitted.
func (f Forms) Contains(n int) bool {
	if f.universal {
		return true
	}
	_, ok := f.set[n]
	return ok
}

// Species is one immutable species record.
type Species struct {
	InternalName string
	Genders      map[int]struct{} // subset of {0: male, 1: female, 2: genderless}
	Abilities    map[string]struct{}
	Moves        map[string]struct{}
	Forms        Forms
}

// Database is the immutable, process-wide loaded species/symbol data.
type Database struct {
	Abilities map[string]struct{}
	Moves     map[string]struct{}
	Items     map[string]struct{}
	Pokemon   map[string]*Species
}

/*
Function Name:  Load
Description:    loads abilities.txt, moves.txt, items.txt and
                server_pokemon.txt from pbsDir and builds the immutable
                Database; fails if any required file is absent
Parameters:     pbsDir: directory containing the four PBS files
Return Value:   the loaded Database, or an error naming the missing/invalid file
Type:           string -> *Database, error
*/
func Load(pbsDir string) (*Database, error) {
	db := &Database{
		Pokemon: make(map[string]*Species),
	}

	var err error
	if db.Abilities, err = loadSymbolSet(filepath.Join(pbsDir, "abilities.txt")); err != nil {
		return nil, fmt.Errorf("loading abilities.txt: %w", err)
	}
	if db.Moves, err = loadSymbolSet(filepath.Join(pbsDir, "moves.txt")); err != nil {
		return nil, fmt.Errorf("loading moves.txt: %w", err)
	}
	if db.Items, err = loadSymbolSet(filepath.Join(pbsDir, "items.txt")); err != nil {
		return nil, fmt.Errorf("loading items.txt: %w", err)
	}
	if err = loadPokemon(filepath.Join(pbsDir, "server_pokemon.txt"), db.Pokemon); err != nil {
		return nil, fmt.Errorf("loading server_pokemon.txt: %w", err)
	}

	return db, nil
}

// section is one [INTERNAL_NAME] block: header plus its raw key=value lines.
type section struct {
	name string
	keys map[string]string
}

/*
Function Name:  readSections
Description:    scans a PBS file sectioned by [INTERNAL_NAME] headers,
                stripping a leading UTF-8 BOM if present
Parameters:     path: file to read
Return Value:   the sections in file order, or an error
Type:           string -> []section, error
*/
func readSections(path string) ([]section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bomReader := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	reader := bomReader.Reader(f)

	var sections []section
	var cur *section
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sections = append(sections, section{name: line[1 : len(line)-1], keys: map[string]string{}})
			cur = &sections[len(sections)-1]
			continue
		}
		if cur == nil {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cur.keys[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return sections, nil
}

/*
Function Name:  loadSymbolSet
Description:    loads abilities.txt/moves.txt/items.txt — only section
                header names matter, their bodies are ignored
Parameters:     path: file to read
Return Value:   the set of internal names, or an error
Type:           string -> map[string]struct{}, error
*/
func loadSymbolSet(path string) (map[string]struct{}, error) {
	sections, err := readSections(path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(sections))
	for _, s := range sections {
		set[s.name] = struct{}{}
	}
	return set, nil
}

/*
Function Name:  splitNonEmpty
Description:    splits a comma list and discards empty tokens produced by
                the split (e.g. a trailing comma, or an empty value)
Parameters:     v: the raw comma-separated value
Return Value:   the non-empty tokens
Type:           string -> []string
*/
func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(v, ",") {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

/*
Function Name:  loadPokemon
Description:    loads server_pokemon.txt into dst, one Species per section
Parameters:     path: file to read
                dst: map to populate, keyed by internal name
Return Value:   an error on read failure
Type:           string, map[string]*Species -> error
*/
func loadPokemon(path string, dst map[string]*Species) error {
	sections, err := readSections(path)
	if err != nil {
		return err
	}

	for _, s := range sections {
		sp := &Species{InternalName: s.name}

		switch s.keys["gender_ratio"] {
		case "AlwaysMale":
			sp.Genders = map[int]struct{}{0: {}}
		case "AlwaysFemale":
			sp.Genders = map[int]struct{}{1: {}}
		case "Genderless":
			sp.Genders = map[int]struct{}{2: {}}
		default:
			sp.Genders = map[int]struct{}{0: {}, 1: {}}
		}

		sp.Abilities = make(map[string]struct{})
		for _, a := range splitNonEmpty(s.keys["abilities"]) {
			sp.Abilities[a] = struct{}{}
		}

		sp.Moves = make(map[string]struct{})
		for _, m := range splitNonEmpty(s.keys["moves"]) {
			sp.Moves[m] = struct{}{}
		}

		if raw, ok := s.keys["forms"]; ok {
			var nums []int
			for _, tok := range splitNonEmpty(raw) {
				n, err := strconv.Atoi(tok)
				if err != nil {
					return fmt.Errorf("species %s: invalid form %q: %w", s.name, tok, err)
				}
				nums = append(nums, n)
			}
			sp.Forms = FiniteForms(nums)
		} else {
			sp.Forms = Universal()
		}

		dst[s.name] = sp
	}
	return nil
}

// Lookup returns the species by internal name, if known.
func (db *Database) Lookup(name string) (*Species, bool) {
	sp, ok := db.Pokemon[name]
	return sp, ok
}

// HasAbility reports whether name is a known ability internal name.
func (db *Database) HasAbility(name string) bool {
	_, ok := db.Abilities[name]
	return ok
}

// HasMove reports whether name is a known move internal name.
func (db *Database) HasMove(name string) bool {
	_, ok := db.Moves[name]
	return ok
}

// HasItem reports whether name is a known item internal name.
func (db *Database) HasItem(name string) bool {
	_, ok := db.Items[name]
	return ok
}
