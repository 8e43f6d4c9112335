package value

import "testing"

func TestDictPreservesInsertionOrderAcrossRewrite(t *testing.T) {
	d := NewDict()
	d = d.Set("Label", NewString("svc"))
	d = d.Set("OnDemand", NewBool(true))
	d = d.Set("Program", NewString("/bin/cat"))

	want := []string{"Label", "OnDemand", "Program"}
	if got := d.Keys(); !stringsEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}

	// Replacing an existing key must keep its original position.
	d = d.Set("OnDemand", NewBool(false))
	if got := d.Keys(); !stringsEqual(got, want) {
		t.Fatalf("Keys() after rewrite = %v, want %v", got, want)
	}
	if v, _ := d.GetBool("OnDemand"); v != false {
		t.Fatalf("OnDemand = %v, want false", v)
	}
}

func TestDeleteRemovesFromKeyOrder(t *testing.T) {
	d := NewDict().Set("A", NewInteger(1)).Set("B", NewInteger(2)).Set("C", NewInteger(3))
	d = d.Delete("B")
	if got, want := d.Keys(), []string{"A", "C"}; !stringsEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	if _, ok := d.Get("B"); ok {
		t.Fatalf("B should be gone")
	}
}

func TestDeepCopyIsIndependent(t *testing.T) {
	inner := NewArray(NewInteger(1), NewInteger(2))
	d := NewDict().Set("nums", inner)
	cp := d.DeepCopy()

	cp = cp.Set("nums", mustGet(cp, "nums").Append(NewInteger(3)))
	orig, _ := d.Get("nums")
	if orig.Len() != 2 {
		t.Fatalf("original array mutated by copy append: len=%d", orig.Len())
	}
	got, _ := cp.Get("nums")
	if got.Len() != 3 {
		t.Fatalf("copy array not extended: len=%d", got.Len())
	}
}

func TestRevokeFdsDoesNotCloseButClearsPayload(t *testing.T) {
	d := NewDict().Set("L", NewArray(NewFd(7), NewFd(8)))
	revoked := d.RevokeFds()

	arr, _ := revoked.Get("L")
	for i := 0; i < arr.Len(); i++ {
		e, _ := arr.At(i)
		if e.Fd() != -1 {
			t.Fatalf("element %d Fd() = %d, want -1", i, e.Fd())
		}
	}
	// Original untouched.
	origArr, _ := d.Get("L")
	first, _ := origArr.At(0)
	if first.Fd() != 7 {
		t.Fatalf("original mutated by RevokeFds: Fd() = %d, want 7", first.Fd())
	}
}

func TestCloseOwnedFdsVisitsEveryFd(t *testing.T) {
	d := NewDict().Set("listeners", NewArray(NewFd(3), NewFd(4)))
	var closed []int
	errs := d.CloseOwnedFds(func(fd int) error {
		closed = append(closed, fd)
		return nil
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !intsEqual(closed, []int{3, 4}) {
		t.Fatalf("closed = %v, want [3 4]", closed)
	}
}

func TestEqualAfterEncodeDecodeRoundTrip(t *testing.T) {
	orig := NewDict().
		Set("Label", NewString("svc")).
		Set("OnDemand", NewBool(true)).
		Set("Count", NewInteger(3)).
		Set("Args", NewArray(NewString("/bin/cat"), NewString("-n")))

	cp := orig.DeepCopy()
	if !Equal(orig, cp) {
		t.Fatalf("DeepCopy not equal to original")
	}
}

func mustGet(v Value, key string) Value {
	e, ok := v.Get(key)
	if !ok {
		panic("missing key: " + key)
	}
	return e
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
