package trustdb

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ctrliq/trustdb/pkg/pgp"
	"github.com/ctrliq/trustdb/pkg/store"
)

// TrustLevel is the numeric trust verdict (spec §6, "Trust values"). The
// mask selects the level proper; bits above the mask carry flags.
type TrustLevel uint8

const (
	TrustUnknown   TrustLevel = 0
	TrustExpired   TrustLevel = 1
	TrustUndefined TrustLevel = 2
	TrustNever     TrustLevel = 3
	TrustMarginal  TrustLevel = 4
	TrustFully     TrustLevel = 5
	TrustUltimate  TrustLevel = 6

	TrustMask        TrustLevel = 0x0f
	TrustFlagRevoked TrustLevel = 0x20
)

// Letter renders a trust level's one-character display code, ignoring
// the revoked flag (spec §6): o e q n m f u.
func (l TrustLevel) Letter() byte {
	switch l & TrustMask {
	case TrustExpired:
		return 'e'
	case TrustUndefined:
		return 'q'
	case TrustNever:
		return 'n'
	case TrustMarginal:
		return 'm'
	case TrustFully:
		return 'f'
	case TrustUltimate:
		return 'u'
	default:
		return 'o'
	}
}

// Revoked reports whether the flag bit is set, in which case the display
// code is 'r' regardless of the underlying level.
func (l TrustLevel) Revoked() bool {
	return l&TrustFlagRevoked != 0
}

// Options configures the threshold policy the trust evaluator (C8) uses.
// Named after opt.marginals_needed/opt.completes_needed/max_cert_depth.
type Options struct {
	MarginalsNeeded int
	CompletesNeeded int
	MaxCertDepth    int
}

// DefaultOptions mirrors the stock marginals=3, completes=1, depth=5
// policy.
func DefaultOptions() Options {
	return Options{MarginalsNeeded: 3, CompletesNeeded: 1, MaxCertDepth: 5}
}

// Engine is the trust database core: the update engine (C6), hint-list
// resolver (C7), trust evaluator (C8), and owner-trust I/O (C9), all
// sharing one record store and one keyring.
type Engine struct {
	Store   store.Store
	Keyring *pgp.KeyRing
	Opts    Options
	Log     *logrus.Entry

	ultiRoots   *LIDSet
	hintLimiter *rate.Limiter
}

// New builds an Engine over an already-open store and keyring. It does
// not load the ultimate-root registry; call RefreshUltimateRoots once
// the store has been opened and before the first trust query, the way
// verify_own_keys runs once at startup.
func New(st store.Store, kr *pgp.KeyRing, opts Options) *Engine {
	return &Engine{
		Store:   st,
		Keyring: kr,
		Opts:    opts,
		Log:     logrus.WithField("component", "trustdb"),

		ultiRoots: NewLIDSet(),
		// a single SDIR promotion can carry a hint list hundreds of
		// entries long; cap how many check_key_signature-equivalent
		// verifications resolveHintlist can burn through per second so
		// one insert can't monopolize the CPU.
		hintLimiter: rate.NewLimiter(rate.Limit(200), 50),
	}
}
