package change

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	a := []byte("\x89PNG first fixture")
	b := []byte("\x89PNG second fixture")

	if Fingerprint(a) != Fingerprint(a) {
		t.Error("Fingerprint() should be deterministic for identical bytes")
	}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("Fingerprint() should differ for distinct fixtures")
	}
	if got := len(Fingerprint(a)); got != 64 {
		t.Errorf("Fingerprint() length = %d, want 64", got)
	}
}

func TestFingerprintEmpty(t *testing.T) {
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Fingerprint(nil); got != want {
		t.Errorf("Fingerprint(nil) = %v, want %v", got, want)
	}
}

func TestFingerprintURL(t *testing.T) {
	u := "https://example.test/a.jpg?stp=1"
	if FingerprintURL(u) != Fingerprint([]byte(u)) {
		t.Error("FingerprintURL() should hash the URL string")
	}
}

func TestHasChanged(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		previous string
		want     bool
	}{
		{name: "no previous fingerprint", current: "abc", previous: "", want: false},
		{name: "same fingerprint", current: "abc", previous: "abc", want: false},
		{name: "different fingerprint", current: "abd", previous: "abc", want: true},
		{name: "case matters", current: "ABC", previous: "abc", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasChanged(tt.current, tt.previous); got != tt.want {
				t.Errorf("HasChanged() = %v, want %v", got, tt.want)
			}
		})
	}
}
