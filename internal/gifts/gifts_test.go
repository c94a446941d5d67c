package gifts

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func writeGiftFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func activePeriodFile(t *testing.T) string {
	t.Helper()
	today := time.Now()
	start := today.AddDate(0, 0, -1).Format(dateLayout)
	end := today.AddDate(0, 0, 1).Format(dateLayout)
	return start + " - " + end + "\n" +
		"# Gift Lv 5\n" +
		"A Potion\n" +
		"A Poke Ball\n" +
		"# Gift Lv 10\n" +
		"A Master Ball\n"
}

func TestGiftLookup(t *testing.T) {
	Convey("Given a gift directory with one active period", t, func() {
		dir := t.TempDir()
		writeGiftFile(t, dir, "spring.txt", activePeriodFile(t))
		m, err := NewManager(dir, nil)
		So(err, ShouldBeNil)

		Convey("an exact level match returns that level's gift", func() {
			gift, ok := m.Lookup(5)
			So(ok, ShouldBeTrue)
			So(gift, ShouldEqual, "A Potion\nA Poke Ball")
		})

		Convey("a level between defined levels falls back to the highest level at or below it", func() {
			gift, ok := m.Lookup(7)
			So(ok, ShouldBeTrue)
			So(gift, ShouldEqual, "A Potion\nA Poke Ball")
		})

		Convey("a level below every defined level falls back to the highest level defined", func() {
			gift, ok := m.Lookup(0)
			So(ok, ShouldBeTrue)
			So(gift, ShouldEqual, "A Master Ball")
		})

		Convey("reload picks up a newly added file", func() {
			writeGiftFile(t, dir, "extra.txt", activePeriodFile(t))
			So(m.Reload(), ShouldBeNil)
			So(m.Count(), ShouldEqual, 2)
		})
	})

	Convey("Given an expired gift period", t, func() {
		dir := t.TempDir()
		expired := "2000-01-01 - 2000-01-31\n# Gift Lv 1\nOld Gift\n"
		writeGiftFile(t, dir, "old.txt", expired)
		m, err := NewManager(dir, nil)
		So(err, ShouldBeNil)

		Convey("no gift is returned for any level", func() {
			_, ok := m.Lookup(1)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given a missing gifts directory", t, func() {
		m, err := NewManager(filepath.Join(t.TempDir(), "does-not-exist"), nil)
		So(err, ShouldBeNil)
		So(m.Count(), ShouldEqual, 0)

		Convey("lookups simply find nothing", func() {
			_, ok := m.Lookup(0)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestGiftsHTTPHandlers(t *testing.T) {
	dir := t.TempDir()
	writeGiftFile(t, dir, "spring.txt", activePeriodFile(t))
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	handler := Handler(m, metrics, nil, reg)

	t.Run("gifts endpoint returns the gift and CORS header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/gifts?nivel=5", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatal("expected CORS header on response")
		}
		if rec.Body.String() != "A Potion\nA Poke Ball" {
			t.Fatalf("unexpected body: %q", rec.Body.String())
		}
	})

	t.Run("regalos is a synonym for gifts", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/regalos?nivel=5", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("an invalid nivel is a 400", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/gifts?nivel=abc", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != 400 {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("health is always 200", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("reload-gifts reports a count", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reload-gifts", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !contains(rec.Body.String(), "1 gift periods available") {
			t.Fatalf("expected count in response, got %q", rec.Body.String())
		}
	})
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
