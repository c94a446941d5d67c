/*
Package gifts is the independent HTTP "gift" side service (spec §4.8): it
shares no mutable state with the matchmaking core, and is driven entirely
by its own request goroutines rather than the event loop's single thread.
*/
package gifts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

var (
	dateRangeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s*-\s*(\d{4}-\d{2}-\d{2})`)
	levelRe     = regexp.MustCompile(`(?i)^\s*#\s*Gift\s+Lv\s+(\d+)`)
)

// period is one loaded gift file: an inclusive validity interval and the
// gift text for every level defined within it.
type period struct {
	initDate time.Time
	lastDate time.Time
	levels   map[int]string
	filename string
}

// Manager holds every loaded gift period behind a FairRWLock, adapted from
// teacher recordlib.go's RecordLock/GlobalManager (see giftlock.go).
type Manager struct {
	dir     string
	log     *logrus.Logger
	lock    *FairRWLock
	periods []period
}

// NewManager loads dir's gift files and returns a ready Manager. A missing
// directory is tolerated (no gifts available), matching the original's
// "directory does not exist" warning-and-continue.
func NewManager(dir string, log *logrus.Logger) (*Manager, error) {
	m := &Manager{dir: dir, log: log, lock: NewFairRWLock()}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

/*
Function Name:  Reload
Description:    method of Manager
                re-reads every *.txt file in the gifts directory and
                atomically swaps the period list, under the writer side of
                the FairRWLock
Parameters:     N/A
Return Value:   an error only on an unexpected directory read failure
Type:           n/a -> error
*/
func (m *Manager) Reload() error {
	periods, err := loadPeriods(m.dir, m.log)
	if err != nil {
		return err
	}
	m.lock.Lock()
	m.periods = periods
	m.lock.Unlock()
	return nil
}

// Count reports how many gift periods are currently loaded.
func (m *Manager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.periods)
}

// Filenames lists the source file of every currently loaded gift period,
// kept around for /reload-gifts's count-and-names response (the original's
// GiftManager keeps this same provenance purely for its own log lines).
func (m *Manager) Filenames() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	names := make([]string, len(m.periods))
	for i, p := range m.periods {
		names[i] = p.filename
	}
	return names
}

/*
Function Name:  Lookup
Description:    method of Manager
                scans loaded periods for one whose interval contains today;
                within the first such period that defines any gift, returns
                the exact level if present, else the highest level ≤ the
                requested one, else the highest level defined
Parameters:     level: the caller-requested gift level
Return Value:   the gift text and true, or "", false if nothing applies
Type:           int -> string, bool
*/
func (m *Manager) Lookup(level int) (string, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	today := truncateToDate(time.Now())
	for _, p := range m.periods {
		if today.Before(p.initDate) || today.After(p.lastDate) {
			continue
		}
		if len(p.levels) == 0 {
			continue
		}
		if gift, ok := p.levels[level]; ok {
			return gift, true
		}
		best, ok := closestLevelAtMost(p.levels, level)
		if !ok {
			best = highestLevel(p.levels)
		}
		return p.levels[best], true
	}
	return "", false
}

func truncateToDate(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func closestLevelAtMost(levels map[int]string, requested int) (int, bool) {
	best, found := 0, false
	for lvl := range levels {
		if lvl <= requested && (!found || lvl > best) {
			best, found = lvl, true
		}
	}
	return best, found
}

func highestLevel(levels map[int]string) int {
	keys := make([]int, 0, len(levels))
	for lvl := range levels {
		keys = append(keys, lvl)
	}
	sort.Ints(keys)
	return keys[len(keys)-1]
}

/*
Function Name:  loadPeriods
Description:    globs every *.txt file in dir and parses each as a gift
                period; a missing directory yields no periods and no error
Parameters:     dir: gifts directory
                log: logger for per-file load/parse warnings
Return Value:   the loaded periods, or an error only on a real read failure
Type:           string, *logrus.Logger -> []period, error
*/
func loadPeriods(dir string, log *logrus.Logger) ([]period, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		if log != nil {
			log.WithField("dir", dir).Warn("gifts directory does not exist")
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var periods []period
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := parsePeriodFile(path)
		if err != nil {
			if log != nil {
				log.WithError(err).WithField("file", e.Name()).Error("error loading gift file")
			}
			continue
		}
		if p == nil {
			continue
		}
		periods = append(periods, *p)
		if log != nil {
			log.WithField("file", e.Name()).Info("loaded gift file")
		}
	}
	return periods, nil
}

/*
Function Name:  parsePeriodFile
Description:    parses one gift file: the first line is the validity
                interval, every subsequent "# Gift Lv N" header starts a new
                level whose body is every line up to the next header or EOF
Parameters:     path: file to read
Return Value:   the parsed period (nil if the file is empty or its date
                line doesn't match), or a read error
Type:           string -> *period, error
*/
func parsePeriodFile(path string) (*period, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSuffix(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, nil
	}

	m := dateRangeRe.FindStringSubmatch(strings.TrimSpace(lines[0]))
	if m == nil {
		return nil, fmt.Errorf("invalid date range header %q", lines[0])
	}
	initDate, err := time.Parse(dateLayout, m[1])
	if err != nil {
		return nil, err
	}
	lastDate, err := time.Parse(dateLayout, m[2])
	if err != nil {
		return nil, err
	}

	levels := make(map[int]string)
	var currentLevel int
	var inLevel bool
	var content []string

	flush := func() {
		if inLevel {
			levels[currentLevel] = strings.Join(content, "\n")
		}
	}
	for _, raw := range lines[1:] {
		line := strings.TrimRight(raw, "\r")
		if lm := levelRe.FindStringSubmatch(line); lm != nil {
			flush()
			n, _ := strconv.Atoi(lm[1])
			currentLevel, inLevel, content = n, true, nil
			continue
		}
		if inLevel {
			content = append(content, line)
		}
	}
	flush()

	return &period{
		initDate: initDate,
		lastDate: lastDate,
		levels:   levels,
		filename: filepath.Base(path),
	}, nil
}
