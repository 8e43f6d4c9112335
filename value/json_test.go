package value

import "testing"

func TestJSONDecoderRoundTripsPlainDict(t *testing.T) {
	src := []byte(`{
		"Label": "com.example.job",
		"Program": "/bin/true",
		"OnDemand": false,
		"Nice": 5,
		"ProgramArguments": ["/bin/true", "-v"]
	}`)

	v, err := JSONDecoder{}.Decode(src)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v.Kind() != KindDict {
		t.Fatalf("expected a dict, got %v", v.Kind())
	}
	label, ok := v.GetString("Label")
	if !ok || label != "com.example.job" {
		t.Fatalf("Label = %q, %v", label, ok)
	}
	nice, ok := v.GetInteger("Nice")
	if !ok || nice != 5 {
		t.Fatalf("Nice = %d, %v", nice, ok)
	}
	onDemand, ok := v.GetBool("OnDemand")
	if !ok || onDemand != false {
		t.Fatalf("OnDemand = %v, %v", onDemand, ok)
	}
	args, ok := v.Get("ProgramArguments")
	if !ok || args.Kind() != KindArray || args.Len() != 2 {
		t.Fatalf("ProgramArguments = %#v", args.GoString())
	}
}

func TestJSONDecoderEncodeDecodeRoundTrip(t *testing.T) {
	d := NewDict().
		Set("Label", NewString("com.example.round")).
		Set("Count", NewInteger(7)).
		Set("Tags", NewArray(NewString("a"), NewString("b")))

	data, err := JSONDecoder{}.Encode(d)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := JSONDecoder{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	// The JSON form does not keep dictionary key order; Decode rebuilds
	// the keys in sorted order.
	want := NewDict().
		Set("Count", NewInteger(7)).
		Set("Label", NewString("com.example.round")).
		Set("Tags", NewArray(NewString("a"), NewString("b")))
	if !Equal(want, got) {
		t.Fatalf("round trip mismatch: got %s want %s", got.GoString(), want.GoString())
	}
}

func TestJSONDecoderRejectsInvalidJSON(t *testing.T) {
	if _, err := (JSONDecoder{}).Decode([]byte("not json")); err == nil {
		t.Fatalf("expected an error decoding invalid JSON")
	}
}
