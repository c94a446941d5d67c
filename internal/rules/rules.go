/*
Package rules loads the server rule set shipped to clients at pairing time.

A rule file is plain text: its fourth line (zero-indexed line 3) is a
comma-separated list whose elements each become one field of the rule; every
other line is taken verbatim, after trimming surrounding whitespace, as a
single field. The whole directory is watched by name+modification-time and
reloaded as one atomic unit — there is no partial update.
*/
package rules

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Rule is one rule: an ordered sequence of wire fields.
type Rule []string

// Set is an immutable, atomically-swappable sequence of rules.
type Set struct {
	Rules []Rule
}

// FileStamp is the identity used to detect a directory change: name + mtime.
type FileStamp struct {
	Name    string
	ModTime time.Time
}

/*
Function Name:  Snapshot
Description:    records (file name, modification time) for every regular
                file or symlink entry of dir; if dir does not exist, reports nil and
                no error (callers should treat a missing directory as "keep
                current rules", per spec)
Parameters:     dir: the rules directory
Return Value:   the directory's current file stamps, keyed by file name
Type:           string -> map[string]time.Time, error
*/
func Snapshot(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stamps := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		stamps[e.Name()] = info.ModTime()
	}
	return stamps, nil
}

/*
Function Name:  Changed
Description:    two snapshots differ iff their key sets differ or any shared
                key has a different modification time
Parameters:     old, new: two directory snapshots from Snapshot
Return Value:   whether the directory has changed
Type:           map[string]time.Time, map[string]time.Time -> bool
*/
func Changed(old, new map[string]time.Time) bool {
	if len(old) != len(new) {
		return true
	}
	for name, oldTime := range old {
		newTime, ok := new[name]
		if !ok || !oldTime.Equal(newTime) {
			return true
		}
	}
	return false
}

/*
Function Name:  Load
Description:    loads every file named in stamps from dir into a Set, whole
Parameters:     dir: the rules directory
                stamps: the file names to load (from Snapshot)
Return Value:   the loaded Set, or an error
Type:           string, map[string]time.Time -> *Set, error
*/
func Load(dir string, stamps map[string]time.Time) (*Set, error) {
	set := &Set{Rules: make([]Rule, 0, len(stamps))}
	for name := range stamps {
		rule, err := loadRuleFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

/*
Function Name:  loadRuleFile
Description:    reads one rule file; the fourth line (index 3) is split on
                commas into individual fields, every other line is trimmed
                and kept whole as one field
Parameters:     path: the rule file to load
Return Value:   the rule's fields in order, or an error
Type:           string -> Rule, error
*/
func loadRuleFile(path string) (Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rule Rule
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 3 {
			rule = append(rule, strings.Split(line, ",")...)
		} else {
			rule = append(rule, line)
		}
		lineNum++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rule, nil
}

/*
Function Name:  DumpYAML
Description:    marshals the rule set to YAML for the dump-rules debug
                subcommand; this never touches the wire encoding used at
                pairing time, which stays in internal/matchmaker
Parameters:     N/A
Return Value:   the YAML document, or a marshal error
Type:           n/a -> []byte, error
*/
func (s *Set) DumpYAML() ([]byte, error) {
	return yaml.Marshal(s.Rules)
}
