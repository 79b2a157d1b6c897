// Package engine runs one booking attempt from login to final
// outcome: ordered-preference search passes, an indefinite retry loop
// bounded only by the caller's context, and the best-effort upgrade
// pass that trades a held booking for a more preferred one.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/pitchbook/internal/site"
	"github.com/example/pitchbook/internal/slot"
)

var (
	// ErrNoMatch means availability came back but nothing started at
	// the preferred instant.
	ErrNoMatch = errors.New("no session at the preferred time")
	// ErrExhausted ends a pass in which every preference failed.
	ErrExhausted = errors.New("every preference failed this pass")
)

// Client is the slice of the site protocol the engine drives. All
// calls are strictly sequential; the engine never fans out.
type Client interface {
	Login(ctx context.Context, creds site.Credentials) error
	ListAvailable(ctx context.Context, date time.Time) ([]site.Session, error)
	Book(ctx context.Context, date time.Time, sessionGUID string) (string, error)
	BookingInfo(ctx context.Context, guid string) (site.Booking, error)
	Cancel(ctx context.Context, guid, reason string) error
}

// Recorder receives the attempt trail for the optional run journal.
// Implementations must swallow their own failures; recording must
// never affect the run.
type Recorder interface {
	Attempt(ctx context.Context, pass int, want time.Time, stage string, err error)
	PassDone(ctx context.Context, pass int, bookingGUID string)
}

// NopRecorder is the default when no journal is configured.
type NopRecorder struct{}

func (NopRecorder) Attempt(context.Context, int, time.Time, string, error) {}
func (NopRecorder) PassDone(context.Context, int, string)                  {}

// The upgrade pass is recorded under pass 0 to keep it apart from the
// numbered retry passes.
const upgradePass = 0

// Engine is single-use per run. It owns no goroutines; cancellation
// arrives through the context on every blocking point, including the
// inter-pass sleep.
type Engine struct {
	Client        Client
	RetryInterval time.Duration
	CancelReason  string
	Loc           *time.Location
	Rec           Recorder
	Log           zerolog.Logger
}

// Run executes the whole state machine and returns the final booking.
// Only a login rejection or the context ending surface as errors;
// everything else is retried or absorbed.
func (e *Engine) Run(ctx context.Context, creds site.Credentials, prefs []time.Time) (site.Booking, error) {
	if len(prefs) == 0 {
		return site.Booking{}, errors.New("empty preference list")
	}
	if e.Rec == nil {
		e.Rec = NopRecorder{}
	}

	if err := e.Client.Login(ctx, creds); err != nil {
		return site.Booking{}, err
	}

	guid, err := e.searchLoop(ctx, prefs)
	if err != nil {
		return site.Booking{}, err
	}
	guid = e.upgrade(ctx, prefs, guid)

	booking, err := e.Client.BookingInfo(ctx, guid)
	if err != nil {
		// The booking exists; losing the detail query at the end is
		// not worth failing the run over.
		e.Log.Warn().Err(err).Str("booking", guid).Msg("final booking query failed")
		return site.Booking{GUID: guid}, nil
	}
	return booking, nil
}

// searchLoop repeats passes until one books something. It never gives
// up on its own; the context is the only exit.
func (e *Engine) searchLoop(ctx context.Context, prefs []time.Time) (string, error) {
	for pass := 1; ; pass++ {
		guid, err := e.runPass(ctx, pass, prefs)
		if err == nil {
			e.Log.Info().Int("pass", pass).Str("booking", guid).Msg("booked")
			return guid, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.Log.Warn().Int("pass", pass).Dur("retry_in", e.RetryInterval).Msg("pass failed, will retry")

		timer := time.NewTimer(e.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// runPass tries every preference once, strictly in order. The first
// successful book short-circuits the rest; per-preference failures
// are logged and swallowed.
func (e *Engine) runPass(ctx context.Context, pass int, prefs []time.Time) (string, error) {
	for _, want := range prefs {
		guid, err := e.attempt(ctx, pass, want)
		if err == nil {
			e.Rec.PassDone(ctx, pass, guid)
			return guid, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.Log.Info().Int("pass", pass).Time("preferred", want).Err(err).Msg("preference not booked")
	}
	return "", ErrExhausted
}

func (e *Engine) attempt(ctx context.Context, pass int, want time.Time) (string, error) {
	date := slot.DateOnly(want, e.loc())

	sessions, err := e.Client.ListAvailable(ctx, date)
	e.Rec.Attempt(ctx, pass, want, "query", err)
	if err != nil {
		return "", err
	}

	sessionGUID, ok := slot.FindMatch(want, sessions)
	if !ok {
		e.Rec.Attempt(ctx, pass, want, "match", ErrNoMatch)
		return "", ErrNoMatch
	}

	guid, err := e.Client.Book(ctx, date, sessionGUID)
	e.Rec.Attempt(ctx, pass, want, "book", err)
	if err != nil {
		return "", err
	}
	return guid, nil
}

// upgrade runs the single best-effort pass over the preferences
// strictly better than the held booking, cancelling the old one when
// it succeeds. Whatever happens here, the run stays successful.
func (e *Engine) upgrade(ctx context.Context, prefs []time.Time, guid string) string {
	held, err := e.Client.BookingInfo(ctx, guid)
	if err != nil {
		e.Log.Warn().Err(err).Str("booking", guid).Msg("skipping upgrade, could not query held booking")
		return guid
	}

	better := slot.MorePrioritized(prefs, held.Start)
	if len(better) == 0 {
		e.Log.Info().Time("start", held.Start).Msg("most preferred slot already held")
		return guid
	}
	e.Log.Info().Int("candidates", len(better)).Msg("trying to upgrade")

	newGUID, err := e.runPass(ctx, upgradePass, better)
	if err != nil {
		e.Log.Info().Err(err).Msg("upgrade pass failed, keeping current booking")
		return guid
	}

	if err := e.Client.Cancel(ctx, guid, e.CancelReason); err != nil {
		// Both bookings now exist remotely. The new one is
		// authoritative; the old needs a human.
		e.Log.Warn().Err(err).
			Str("kept", newGUID).
			Str("stale", guid).
			Msg("upgrade booked but cancel failed, cancel the stale booking manually")
	} else {
		e.Log.Info().Str("cancelled", guid).Str("booking", newGUID).Msg("upgraded")
	}
	return newGUID
}

func (e *Engine) loc() *time.Location {
	if e.Loc != nil {
		return e.Loc
	}
	return time.Local
}
