package envutil

import "testing"

func TestStringTrimsAndDefaults(t *testing.T) {
	t.Setenv("FDC_TEST_STR", "  bolt://db:7687 ")
	if got := String("FDC_TEST_STR", "x"); got != "bolt://db:7687" {
		t.Fatalf("String: got=%q", got)
	}
	t.Setenv("FDC_TEST_STR", "   ")
	if got := String("FDC_TEST_STR", "x"); got != "x" {
		t.Fatalf("String default: got=%q", got)
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{"on": true, "0": false, "TRUE": true, "maybe": true}
	for raw, want := range cases {
		t.Setenv("FDC_TEST_BOOL", raw)
		if got := Bool("FDC_TEST_BOOL", true); got != want {
			t.Fatalf("Bool(%q): want=%v got=%v", raw, want, got)
		}
	}
}

func TestParseIntReportsBadValue(t *testing.T) {
	t.Setenv("FDC_TEST_INT", "")
	if got, err := ParseInt("FDC_TEST_INT", 7); err != nil || got != 7 {
		t.Fatalf("ParseInt unset: got=%d err=%v", got, err)
	}
	t.Setenv("FDC_TEST_INT", " 12 ")
	if got, err := ParseInt("FDC_TEST_INT", 7); err != nil || got != 12 {
		t.Fatalf("ParseInt: got=%d err=%v", got, err)
	}
	t.Setenv("FDC_TEST_INT", "abc")
	got, err := ParseInt("FDC_TEST_INT", 7)
	if err == nil {
		t.Fatalf("ParseInt invalid: expected error")
	}
	pe, ok := err.(*ParseError)
	if !ok || pe.Name != "FDC_TEST_INT" || pe.Value != "abc" {
		t.Fatalf("ParseInt invalid: unexpected error %#v", err)
	}
	if got != 7 {
		t.Fatalf("ParseInt invalid: want default, got=%d", got)
	}
}
