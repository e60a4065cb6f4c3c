package trustdb

import "testing"

func TestTrustLevelLetter(t *testing.T) {
	cases := []struct {
		level TrustLevel
		want  byte
	}{
		{TrustUnknown, 'o'},
		{TrustExpired, 'e'},
		{TrustUndefined, 'q'},
		{TrustNever, 'n'},
		{TrustMarginal, 'm'},
		{TrustFully, 'f'},
		{TrustUltimate, 'u'},
		{TrustFully | TrustFlagRevoked, 'f'},
	}

	for _, tc := range cases {
		if got := tc.level.Letter(); got != tc.want {
			t.Errorf("level %#x: got %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestTrustLevelRevoked(t *testing.T) {
	if (TrustFully).Revoked() {
		t.Error("expected a plain level to report unrevoked")
	}
	if !(TrustFully | TrustFlagRevoked).Revoked() {
		t.Error("expected the revoked flag to be reported")
	}
}

func TestDefaultOptions(t *testing.T) {
	got := DefaultOptions()
	want := Options{MarginalsNeeded: 3, CompletesNeeded: 1, MaxCertDepth: 5}
	if got != want {
		t.Errorf("DefaultOptions: got %+v, want %+v", got, want)
	}
}

func TestNewEngineHasUltiRootsReady(t *testing.T) {
	e := New(nil, nil, DefaultOptions())
	if e.ultiRoots == nil {
		t.Fatal("expected New to initialize the ultimate-root registry")
	}
	if e.ultiRoots.Len() != 0 {
		t.Errorf("expected a freshly built engine to have no ultimate roots, got %d", e.ultiRoots.Len())
	}
	if e.hintLimiter == nil {
		t.Error("expected New to initialize the hint-list rate limiter")
	}
}
