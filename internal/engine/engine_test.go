package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pitchbook/internal/site"
)

// fakeClient scripts the site per call kind and records the exact
// call order, which is what most engine properties are about.
type fakeClient struct {
	loginErr  error
	listFn    func(date time.Time) ([]site.Session, error)
	bookFn    func(sessionGUID string) (string, error)
	cancelErr error

	bookings map[string]site.Booking

	calls       []string
	listedDates []time.Time
	booked      []string
	cancelled   []string
}

func (f *fakeClient) Login(ctx context.Context, creds site.Credentials) error {
	f.calls = append(f.calls, "login")
	return f.loginErr
}

func (f *fakeClient) ListAvailable(ctx context.Context, date time.Time) ([]site.Session, error) {
	f.calls = append(f.calls, "list")
	f.listedDates = append(f.listedDates, date)
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(date)
}

func (f *fakeClient) Book(ctx context.Context, date time.Time, sessionGUID string) (string, error) {
	f.calls = append(f.calls, "book")
	guid, err := f.bookFn(sessionGUID)
	if err == nil {
		f.booked = append(f.booked, guid)
	}
	return guid, err
}

func (f *fakeClient) BookingInfo(ctx context.Context, guid string) (site.Booking, error) {
	f.calls = append(f.calls, "info")
	b, ok := f.bookings[guid]
	if !ok {
		return site.Booking{}, &site.QueryError{Op: "booking info", Message: "unknown booking"}
	}
	return b, nil
}

func (f *fakeClient) Cancel(ctx context.Context, guid, reason string) error {
	f.calls = append(f.calls, "cancel")
	f.cancelled = append(f.cancelled, guid)
	return f.cancelErr
}

// bookInto wires Book so booking session s-<t> yields booking bk-<t>
// with the right start time, visible to later BookingInfo calls.
func (f *fakeClient) bookInto(starts map[string]time.Time) {
	if f.bookings == nil {
		f.bookings = make(map[string]site.Booking)
	}
	f.bookFn = func(sessionGUID string) (string, error) {
		start, ok := starts[sessionGUID]
		if !ok {
			return "", &site.BookingError{Message: "unknown session"}
		}
		guid := "bk-" + sessionGUID
		f.bookings[guid] = site.Booking{GUID: guid, Start: start}
		return guid, nil
	}
}

func newTestEngine(c Client) *Engine {
	return &Engine{
		Client:        c,
		RetryInterval: time.Millisecond,
		CancelReason:  "testing",
		Loc:           time.UTC,
		Log:           zerolog.Nop(),
	}
}

func prefTimes(day time.Time, hours ...int) []time.Time {
	out := make([]time.Time, 0, len(hours))
	for _, h := range hours {
		out = append(out, day.Add(time.Duration(h)*time.Hour))
	}
	return out
}

var day = time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

func TestPassTriesPreferencesInOrderAndShortCircuits(t *testing.T) {
	prefs := prefTimes(day, 19, 20, 21) // A, B, C

	f := &fakeClient{}
	// Only B (20:00) exists.
	f.listFn = func(date time.Time) ([]site.Session, error) {
		return []site.Session{{GUID: "s-b", Start: day.Add(20 * time.Hour), Availability: 2}}, nil
	}
	f.bookInto(map[string]time.Time{"s-b": day.Add(20 * time.Hour)})

	booking, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, prefs)
	require.NoError(t, err)
	assert.Equal(t, "bk-s-b", booking.GUID)

	// A queried and missed, B queried and booked, C never attempted.
	// The two trailing info calls are the upgrade check and the final
	// detail query; the upgrade list is pref A again (pass 0).
	assert.Equal(t, []string{"login", "list", "list", "book", "info", "list", "info"}, f.calls)
	require.Len(t, f.booked, 1)
}

func TestRetryLoopKeepsGoingUntilDeadline(t *testing.T) {
	prefs := prefTimes(day, 19)

	f := &fakeClient{}
	f.listFn = func(date time.Time) ([]site.Session, error) {
		return nil, nil // never anything available
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := newTestEngine(f).Run(ctx, site.Credentials{}, prefs)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// With a 1ms retry interval the engine must have gone around the
	// loop many times rather than giving up after one pass.
	assert.Greater(t, len(f.listedDates), 3)
}

func TestPerPreferenceErrorsDoNotAbortThePass(t *testing.T) {
	prefs := prefTimes(day, 19, 20)

	f := &fakeClient{}
	f.listFn = func(date time.Time) ([]site.Session, error) {
		return []site.Session{
			{GUID: "s-a", Start: day.Add(19 * time.Hour), Availability: 1},
			{GUID: "s-b", Start: day.Add(20 * time.Hour), Availability: 1},
		}, nil
	}
	booked := false
	f.bookings = map[string]site.Booking{}
	f.bookFn = func(sessionGUID string) (string, error) {
		if sessionGUID == "s-a" {
			// Lost the race for the better slot.
			return "", &site.ConflictError{Message: "session is no longer available"}
		}
		booked = true
		f.bookings["bk-s-b"] = site.Booking{GUID: "bk-s-b", Start: day.Add(20 * time.Hour)}
		return "bk-s-b", nil
	}

	booking, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, prefs)
	require.NoError(t, err)
	assert.True(t, booked)
	assert.Equal(t, "bk-s-b", booking.GUID)
}

func TestAuthFailureIsFatal(t *testing.T) {
	f := &fakeClient{loginErr: &site.AuthError{Message: "bad password"}}

	_, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, prefTimes(day, 19))
	require.Error(t, err)

	var authErr *site.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, []string{"login"}, f.calls)
}

func TestUpgradeReplacesBookingAndCancelsOld(t *testing.T) {
	prefs := prefTimes(day, 19, 20, 21)

	f := &fakeClient{}
	f.bookInto(map[string]time.Time{
		"s-a": day.Add(19 * time.Hour),
		"s-c": day.Add(21 * time.Hour),
	})
	// First pass: only C available. Upgrade pass: A appears.
	upgraded := false
	f.listFn = func(date time.Time) ([]site.Session, error) {
		if upgraded {
			return []site.Session{{GUID: "s-a", Start: day.Add(19 * time.Hour), Availability: 1}}, nil
		}
		return []site.Session{{GUID: "s-c", Start: day.Add(21 * time.Hour), Availability: 1}}, nil
	}
	orig := f.bookFn
	f.bookFn = func(sessionGUID string) (string, error) {
		guid, err := orig(sessionGUID)
		if err == nil && sessionGUID == "s-c" {
			upgraded = true // bookings open further out after the first success
		}
		return guid, err
	}

	booking, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, prefs)
	require.NoError(t, err)
	assert.Equal(t, "bk-s-a", booking.GUID)
	assert.Equal(t, []string{"bk-s-c"}, f.cancelled)
}

func TestUpgradeCancelFailureStillReportsNewBooking(t *testing.T) {
	prefs := prefTimes(day, 19, 21)

	f := &fakeClient{cancelErr: &site.CancelError{Message: "too late to cancel"}}
	f.bookInto(map[string]time.Time{
		"s-a": day.Add(19 * time.Hour),
		"s-c": day.Add(21 * time.Hour),
	})
	upgraded := false
	f.listFn = func(date time.Time) ([]site.Session, error) {
		if upgraded {
			return []site.Session{{GUID: "s-a", Start: day.Add(19 * time.Hour), Availability: 1}}, nil
		}
		return []site.Session{{GUID: "s-c", Start: day.Add(21 * time.Hour), Availability: 1}}, nil
	}
	orig := f.bookFn
	f.bookFn = func(sessionGUID string) (string, error) {
		guid, err := orig(sessionGUID)
		if err == nil && sessionGUID == "s-c" {
			upgraded = true
		}
		return guid, err
	}

	booking, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, prefs)
	require.NoError(t, err)

	// Cancel was attempted and failed; the new booking is still the
	// authoritative result.
	assert.Equal(t, []string{"bk-s-c"}, f.cancelled)
	assert.Equal(t, "bk-s-a", booking.GUID)
}

func TestUpgradePassFailureKeepsOriginalBooking(t *testing.T) {
	prefs := prefTimes(day, 19, 21)

	f := &fakeClient{}
	f.bookInto(map[string]time.Time{"s-c": day.Add(21 * time.Hour)})
	// Only C is ever available, so the upgrade pass over [A] finds
	// nothing.
	f.listFn = func(date time.Time) ([]site.Session, error) {
		return []site.Session{{GUID: "s-c", Start: day.Add(21 * time.Hour), Availability: 1}}, nil
	}

	booking, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, prefs)
	require.NoError(t, err)
	assert.Equal(t, "bk-s-c", booking.GUID)
	assert.Empty(t, f.cancelled)
}

func TestNoUpgradeWhenBestSlotAlreadyHeld(t *testing.T) {
	prefs := prefTimes(day, 19, 21)

	f := &fakeClient{}
	f.bookInto(map[string]time.Time{"s-a": day.Add(19 * time.Hour)})
	f.listFn = func(date time.Time) ([]site.Session, error) {
		return []site.Session{{GUID: "s-a", Start: day.Add(19 * time.Hour), Availability: 1}}, nil
	}

	booking, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, prefs)
	require.NoError(t, err)
	assert.Equal(t, "bk-s-a", booking.GUID)

	// One search list, the upgrade-check info, the final info.
	// No second list: the upgrade pass never ran.
	assert.Equal(t, []string{"login", "list", "book", "info", "info"}, f.calls)
}

func TestEmptyPreferenceListRejected(t *testing.T) {
	f := &fakeClient{}
	_, err := newTestEngine(f).Run(context.Background(), site.Credentials{}, nil)
	require.Error(t, err)
	assert.Empty(t, f.calls)
}

// The recorder sees one event per stage in pass order.
func TestRecorderReceivesAttemptTrail(t *testing.T) {
	prefs := prefTimes(day, 19, 20)

	f := &fakeClient{}
	f.listFn = func(date time.Time) ([]site.Session, error) {
		return []site.Session{{GUID: "s-b", Start: day.Add(20 * time.Hour), Availability: 1}}, nil
	}
	f.bookInto(map[string]time.Time{"s-b": day.Add(20 * time.Hour)})

	rec := &memRecorder{}
	eng := newTestEngine(f)
	eng.Rec = rec

	_, err := eng.Run(context.Background(), site.Credentials{}, prefs)
	require.NoError(t, err)

	var stages []string
	for _, e := range rec.events {
		stages = append(stages, fmt.Sprintf("%d/%s", e.pass, e.stage))
	}
	// Pass 1: query+miss on A, query+book on B, pass marker. Pass 0
	// is the upgrade attempt over [A].
	assert.Equal(t, []string{
		"1/query", "1/match", "1/query", "1/book", "1/pass",
		"0/query", "0/match",
	}, stages)
}

type recEvent struct {
	pass  int
	stage string
	err   error
}

type memRecorder struct{ events []recEvent }

func (m *memRecorder) Attempt(_ context.Context, pass int, _ time.Time, stage string, err error) {
	m.events = append(m.events, recEvent{pass: pass, stage: stage, err: err})
}

func (m *memRecorder) PassDone(_ context.Context, pass int, _ string) {
	m.events = append(m.events, recEvent{pass: pass, stage: "pass"})
}
