package coord

import (
	"reflect"
	"testing"
)

// TestValidatePath verifies absolute, clean paths are accepted and the rest rejected.
func TestValidatePath(t *testing.T) {
	valid := []string{"/", "/a", "/a/b_c", "/counters/x_20240101_1"}
	for _, p := range valid {
		if err := ValidatePath(p); err != nil {
			t.Fatalf("%q: unexpected error %v", p, err)
		}
	}
	invalid := []string{"", "a", "/a/", "//a", "/a//b", "/a/./b", "/a/.."}
	for _, p := range invalid {
		if err := ValidatePath(p); err == nil {
			t.Fatalf("%q: expected error", p)
		}
	}
}

// TestJoin verifies root and element slashes are normalised.
func TestJoin(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{got: Join("/root", "x"), want: "/root/x"},
		{got: Join("/root/", "/x"), want: "/root/x"},
		{got: Join("root", "x", "y"), want: "/root/x/y"},
		{got: Join("/", "limit_1"), want: "/limit_1"},
		{got: Join("/a/b", "c_20240101"), want: "/a/b/c_20240101"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, tc.got)
		}
	}
}

// TestParents verifies ancestors are listed outermost first.
func TestParents(t *testing.T) {
	got := Parents("/a/b/c")
	want := []string{"/a", "/a/b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if Parents("/") != nil {
		t.Fatalf("root has no parents")
	}
	if Parent("/a/b") != "/a" || Parent("/a") != "/" {
		t.Fatalf("unexpected parent")
	}
}
