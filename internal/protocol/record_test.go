package protocol

import (
	"reflect"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCodecRoundTrip(t *testing.T) {
	Convey("Given a set of fields containing commas, backslashes, both, and neither", t, func() {
		fields := []string{"a,b", `c\d`, "", "plain", `\,\`}

		Convey("encoding then parsing returns the original fields byte-exactly", func() {
			w := &Writer{}
			w.Raw(fields)
			line := w.Line()

			rec := Parse(string(line[:len(line)-1])) // drop trailing \n
			got := rec.RawAll()

			So(got, ShouldResemble, fields)
			So(rec.Err(), ShouldBeNil)
		})
	})
}

func TestS1Scenario(t *testing.T) {
	w := &Writer{}
	w.Raw([]string{"a,b", `c\d`, ""})
	got := string(w.Line())
	want := `a\,b,c\\d,` + "\n"
	if got != want {
		t.Fatalf("Line() = %q, want %q", got, want)
	}

	rec := Parse(want[:len(want)-1])
	fields := rec.RawAll()
	wantFields := []string{"a,b", `c\d`, ""}
	if !reflect.DeepEqual(fields, wantFields) {
		t.Fatalf("RawAll() = %#v, want %#v", fields, wantFields)
	}
}

func TestTypedConsumers(t *testing.T) {
	rec := Parse("true,false,,42,,hello,a,b,c")
	if got := rec.Bool(); got != true {
		t.Errorf("Bool() = %v, want true", got)
	}
	if got := rec.Bool(); got != false {
		t.Errorf("Bool() = %v, want false", got)
	}
	if got := rec.BoolOrNone(); got != nil {
		t.Errorf("BoolOrNone() = %v, want nil", got)
	}
	if got := rec.Int(); got != 42 {
		t.Errorf("Int() = %v, want 42", got)
	}
	if got := rec.IntOrNone(); got != nil {
		t.Errorf("IntOrNone() = %v, want nil", got)
	}
	if got := rec.Str(); got != "hello" {
		t.Errorf("Str() = %v, want hello", got)
	}
	if got := rec.RawAll(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("RawAll() = %v, want [a b c]", got)
	}
}

func TestBoolRejectsGarbage(t *testing.T) {
	rec := Parse("maybe")
	_ = rec.Bool()
	if rec.Err() == nil {
		t.Fatal("expected an error for an invalid bool field")
	}
}

func TestIntRejectsNonNumeric(t *testing.T) {
	rec := Parse("not-a-number")
	_ = rec.Int()
	if rec.Err() == nil {
		t.Fatal("expected an error for a non-numeric int field")
	}
}

func TestNoCommasIsSingleField(t *testing.T) {
	rec := Parse("onefield")
	if got := rec.Str(); got != "onefield" {
		t.Fatalf("Str() = %q, want %q", got, "onefield")
	}
}
