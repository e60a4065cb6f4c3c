package trustdb

import (
	"testing"
	"time"

	"golang.org/x/crypto/openpgp"

	"github.com/ctrliq/trustdb/pkg/pgp"
)

func TestCheckTrustUndefinedForUnsignedKey(t *testing.T) {
	alice := newSelfSignedEntity(t, "Alice")
	eng, _ := newEngineWithEntity(t, alice, false)
	fpr := pgp.FingerprintFromPublicKey(alice.PrimaryKey)

	if _, err := eng.Insert(fpr); err != nil {
		t.Fatalf("insert: %s", err)
	}

	level, err := eng.CheckTrust(alice.PrimaryKey, time.Time{})
	if err != nil {
		t.Fatalf("check trust: %s", err)
	}
	if level != TrustUndefined {
		t.Errorf("got %v, want TrustUndefined", level)
	}
	if level.Revoked() {
		t.Error("did not expect the revoked flag")
	}
}

func TestCheckTrustUltimateRoot(t *testing.T) {
	alice := newSelfSignedEntity(t, "Alice")
	eng, _ := newEngineWithEntity(t, alice, true)
	fpr := pgp.FingerprintFromPublicKey(alice.PrimaryKey)

	if _, err := eng.Insert(fpr); err != nil {
		t.Fatalf("insert: %s", err)
	}
	if err := eng.RefreshUltimateRoots(); err != nil {
		t.Fatalf("refresh: %s", err)
	}

	level, err := eng.CheckTrust(alice.PrimaryKey, time.Time{})
	if err != nil {
		t.Fatalf("check trust: %s", err)
	}
	if level != TrustUltimate {
		t.Errorf("got %v, want TrustUltimate", level)
	}
}

func TestCheckTrustExpired(t *testing.T) {
	alice := newSelfSignedEntity(t, "Alice")
	eng, _ := newEngineWithEntity(t, alice, false)
	fpr := pgp.FingerprintFromPublicKey(alice.PrimaryKey)

	if _, err := eng.Insert(fpr); err != nil {
		t.Fatalf("insert: %s", err)
	}

	level, err := eng.CheckTrust(alice.PrimaryKey, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("check trust: %s", err)
	}
	if level != TrustExpired {
		t.Errorf("got %v, want TrustExpired", level)
	}
}

func TestCheckTrustFutureTimestampConflict(t *testing.T) {
	alice := newSelfSignedEntity(t, "Alice")
	eng, _ := newEngineWithEntity(t, alice, false)
	fpr := pgp.FingerprintFromPublicKey(alice.PrimaryKey)

	if _, err := eng.Insert(fpr); err != nil {
		t.Fatalf("insert: %s", err)
	}

	// mutating CreationTime in place does not touch the already-computed
	// Fingerprint field, so the dir lookup still resolves.
	original := alice.PrimaryKey.CreationTime
	alice.PrimaryKey.CreationTime = time.Now().Add(24 * time.Hour)
	defer func() { alice.PrimaryKey.CreationTime = original }()

	_, err := eng.CheckTrust(alice.PrimaryKey, time.Time{})
	if err != ErrTimeConflict {
		t.Errorf("got %v, want ErrTimeConflict", err)
	}
}

// TestCheckTrustFirstLevelUltimateSignerClampedOwnertrust covers the
// first-level-ultimate short-circuit (spec scenario S2): B is signed only
// by ultimate root A, so check_trust(B) returns A's raw clamped ownertrust
// rather than going through the marginals/completes accumulation. With A's
// ownertrust unset this legitimately yields UNKNOWN; once A's ownertrust is
// set to FULLY, the same signature makes B FULLY trusted outright.
func TestCheckTrustFirstLevelUltimateSignerClampedOwnertrust(t *testing.T) {
	a := newSelfSignedEntity(t, "A")
	b := newSelfSignedEntity(t, "B")
	crossSignIdentity(t, b, a)

	st := openTestStore(t)
	kr := pgp.New(openpgp.EntityList{a, b}, openpgp.EntityList{a})
	eng := New(st, kr, DefaultOptions())

	aFpr := pgp.FingerprintFromPublicKey(a.PrimaryKey)
	bFpr := pgp.FingerprintFromPublicKey(b.PrimaryKey)

	if _, err := eng.Insert(aFpr); err != nil {
		t.Fatalf("insert a: %s", err)
	}
	if err := eng.RefreshUltimateRoots(); err != nil {
		t.Fatalf("refresh: %s", err)
	}
	if _, err := eng.Insert(bFpr); err != nil {
		t.Fatalf("insert b: %s", err)
	}

	level, err := eng.CheckTrust(b.PrimaryKey, time.Time{})
	if err != nil {
		t.Fatalf("check trust: %s", err)
	}
	if level != TrustUnknown {
		t.Errorf("with a's ownertrust unset: got %v, want TrustUnknown", level)
	}

	if err := eng.applyOwnerTrust(aFpr, uint8(TrustFully)); err != nil {
		t.Fatalf("apply ownertrust: %s", err)
	}

	level, err = eng.CheckTrust(b.PrimaryKey, time.Time{})
	if err != nil {
		t.Fatalf("check trust: %s", err)
	}
	if level != TrustFully {
		t.Errorf("with a's ownertrust set to fully: got %v, want TrustFully", level)
	}
}

// TestCheckTrustMarginalThresholdUsesRecursiveTrust covers spec scenario
// S5: three distinct signers each recursively evaluate to MARGINAL trust
// (by being signed by an ultimate root whose ownertrust is MARGINAL, not by
// having their own ownertrust set), and a target signed by all three
// crosses marginals_needed=3 to become FULLY. This is the regression case
// for accumulating on the signer's recursively-computed trust rather than
// its locally configured ownertrust: before that fix, none of the three
// signers' (unset, zero) ownertrust would ever have reached the marginal
// threshold.
func TestCheckTrustMarginalThresholdUsesRecursiveTrust(t *testing.T) {
	a := newSelfSignedEntity(t, "A")
	m1 := newSelfSignedEntity(t, "M1")
	m2 := newSelfSignedEntity(t, "M2")
	m3 := newSelfSignedEntity(t, "M3")
	target := newSelfSignedEntity(t, "Target")

	crossSignIdentity(t, m1, a)
	crossSignIdentity(t, m2, a)
	crossSignIdentity(t, m3, a)
	crossSignIdentity(t, target, m1)
	crossSignIdentity(t, target, m2)
	crossSignIdentity(t, target, m3)

	st := openTestStore(t)
	kr := pgp.New(openpgp.EntityList{a, m1, m2, m3, target}, openpgp.EntityList{a})
	eng := New(st, kr, Options{MarginalsNeeded: 3, CompletesNeeded: 2, MaxCertDepth: 5})

	aFpr := pgp.FingerprintFromPublicKey(a.PrimaryKey)
	targetFpr := pgp.FingerprintFromPublicKey(target.PrimaryKey)

	if _, err := eng.Insert(aFpr); err != nil {
		t.Fatalf("insert a: %s", err)
	}
	if err := eng.RefreshUltimateRoots(); err != nil {
		t.Fatalf("refresh: %s", err)
	}
	if err := eng.applyOwnerTrust(aFpr, uint8(TrustMarginal)); err != nil {
		t.Fatalf("apply ownertrust: %s", err)
	}

	for _, m := range []*openpgp.Entity{m1, m2, m3} {
		if _, err := eng.Insert(pgp.FingerprintFromPublicKey(m.PrimaryKey)); err != nil {
			t.Fatalf("insert signer: %s", err)
		}
	}
	if _, err := eng.Insert(targetFpr); err != nil {
		t.Fatalf("insert target: %s", err)
	}

	level, err := eng.CheckTrust(target.PrimaryKey, time.Time{})
	if err != nil {
		t.Fatalf("check trust: %s", err)
	}
	if level != TrustFully {
		t.Errorf("got %v, want TrustFully", level)
	}
}

func TestMaxCertDepthFallsBackToDefault(t *testing.T) {
	alice := newSelfSignedEntity(t, "Alice")
	eng, _ := newEngineWithEntity(t, alice, false)
	eng.Opts.MaxCertDepth = 0

	if got := eng.maxCertDepth(); got != DefaultOptions().MaxCertDepth {
		t.Errorf("got %d, want %d", got, DefaultOptions().MaxCertDepth)
	}
}
