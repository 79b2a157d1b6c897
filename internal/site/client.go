// Package site is the protocol client for the facility-reservation
// site. Every reply uses the envelope {Code, Message, Data} with
// Code 200 meaning success; the session is cookie-based, and the
// client owns the accumulating cookie state for the whole run.
package site

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	loginPath         = "/api/security/validatelogin"
	activityTypesPath = "/api/activities/getactivitytypes"
	sessionsPath      = "/api/activities/getavailablesessions"
	addBookingPath    = "/api/bookings/addbooking"
	bookingInfoPath   = "/api/bookings/getbookinginformation"
	cancelBookingPath = "/api/bookings/cancelbooking"
	myBookingsPath    = "/api/bookings/getmybookings"
)

// wireTime is the representation the site expects and emits for
// date-times. Dates (availability queries) are midnight instants in
// the same format.
const wireTime = "2006-01-02T15:04:05.000Z07:00"

type Credentials struct {
	Login    string
	Password string
}

// Session is one bookable interval on a given date. Availability is
// the site's remaining-capacity counter; the client never surfaces
// sessions with a negative value.
type Session struct {
	GUID         string
	Start        time.Time
	Availability int
}

// Booking is the site's record of a confirmed reservation.
type Booking struct {
	GUID        string
	Start       time.Time
	End         time.Time
	Activity    string
	Description string
	AssignedTo  string
}

// Client talks to one site host. It is not safe for concurrent use;
// the engine drives it strictly sequentially, which is also what
// keeps the cookie state coherent.
type Client struct {
	base         string
	hc           *http.Client
	activityGUID string
	activityName string
	cookies      *cookieState
	log          zerolog.Logger
}

func New(hostname string, log zerolog.Logger) *Client {
	base := hostname
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		hc:      &http.Client{Timeout: 20 * time.Second},
		cookies: newCookieState(),
		log:     log,
	}
}

// UseActivity pins the activity type GUID for availability and
// booking calls.
func (c *Client) UseActivity(guid string) { c.activityGUID = guid }

// UseActivityName defers to a catalogue lookup on first use; the
// lookup needs an authenticated session, so it cannot happen at
// construction time.
func (c *Client) UseActivityName(name string) { c.activityName = name }

func (c *Client) ensureActivity(ctx context.Context) error {
	if c.activityGUID != "" {
		return nil
	}
	if c.activityName == "" {
		return &QueryError{Op: "activity types", Message: "no activity configured"}
	}
	return c.ResolveActivity(ctx, c.activityName)
}

// Login seeds the anonymous session cookies from the landing page,
// then exchanges the credentials for an authenticated session.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	// The site refuses a login that does not present the cookies it
	// issued on the first page load.
	if err := c.prime(ctx); err != nil {
		return err
	}
	req := struct {
		Login    string
		Password string
	}{creds.Login, creds.Password}
	env, err := c.post(ctx, "login", loginPath, req)
	if err != nil {
		return err
	}
	if env.Code != 200 {
		return &AuthError{Message: env.message()}
	}
	c.log.Debug().Str("login", creds.Login).Int("cookies", c.cookies.len()).Msg("authenticated")
	return nil
}

// ActivityType is one entry of the site's activity catalogue.
type ActivityType struct {
	GUID string `json:"Guid"`
	Name string `json:"Name"`
}

func (c *Client) ActivityTypes(ctx context.Context) ([]ActivityType, error) {
	env, err := c.post(ctx, "activity types", activityTypesPath, struct{}{})
	if err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return nil, &QueryError{Op: "activity types", Message: env.message()}
	}
	var types []ActivityType
	if err := json.Unmarshal(env.Data, &types); err != nil {
		return nil, &QueryError{Op: "activity types", Message: err.Error()}
	}
	return types, nil
}

// ResolveActivity pins the activity GUID by (case-insensitive) name.
func (c *Client) ResolveActivity(ctx context.Context, name string) error {
	types, err := c.ActivityTypes(ctx)
	if err != nil {
		return err
	}
	for _, t := range types {
		if strings.EqualFold(t.Name, name) {
			c.activityGUID = t.GUID
			return nil
		}
	}
	return &QueryError{Op: "activity types", Message: fmt.Sprintf("no activity named %q", name)}
}

// ListAvailable returns the bookable sessions for the pinned activity
// on the given date (a midnight instant). Sessions the site marks
// with negative availability are not offered and never surfaced.
func (c *Client) ListAvailable(ctx context.Context, date time.Time) ([]Session, error) {
	if err := c.ensureActivity(ctx); err != nil {
		return nil, err
	}
	req := struct {
		BookingDate      string
		ActivityTypeGuid string
	}{date.UTC().Format(wireTime), c.activityGUID}
	env, err := c.post(ctx, "list sessions", sessionsPath, req)
	if err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return nil, &QueryError{Op: "list sessions", Message: env.message()}
	}
	var raw []struct {
		GUID              string `json:"Guid"`
		StartTime         string `json:"StartTime"`
		AvailabilityCount int    `json:"AvailabilityCount"`
	}
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, &QueryError{Op: "list sessions", Message: err.Error()}
	}
	out := make([]Session, 0, len(raw))
	for _, s := range raw {
		if s.AvailabilityCount < 0 {
			continue
		}
		start, err := parseWireTime(s.StartTime)
		if err != nil {
			c.log.Warn().Str("session", s.GUID).Str("start", s.StartTime).Msg("skipping session with unparseable start")
			continue
		}
		out = append(out, Session{GUID: s.GUID, Start: start, Availability: s.AvailabilityCount})
	}
	return out, nil
}

// Book creates a booking for an already-discovered session and
// returns the new booking GUID.
func (c *Client) Book(ctx context.Context, date time.Time, sessionGUID string) (string, error) {
	if err := c.ensureActivity(ctx); err != nil {
		return "", err
	}
	req := struct {
		ActivityTypeGuid string
		SessionGuid      string
		Date             string
	}{c.activityGUID, sessionGUID, date.UTC().Format(wireTime)}
	env, err := c.post(ctx, "add booking", addBookingPath, req)
	if err != nil {
		return "", err
	}
	if env.Code != 200 {
		if isConflictMessage(env.message()) {
			return "", &ConflictError{Message: env.message()}
		}
		return "", &BookingError{Message: env.message()}
	}
	var data struct {
		GUID string `json:"Guid"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.GUID == "" {
		return "", &BookingError{Message: "reply carried no booking identifier"}
	}
	return data.GUID, nil
}

func (c *Client) BookingInfo(ctx context.Context, guid string) (Booking, error) {
	req := struct {
		Guid string
	}{guid}
	env, err := c.post(ctx, "booking info", bookingInfoPath, req)
	if err != nil {
		return Booking{}, err
	}
	if env.Code != 200 {
		return Booking{}, &QueryError{Op: "booking info", Message: env.message()}
	}
	var raw wireBooking
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return Booking{}, &QueryError{Op: "booking info", Message: err.Error()}
	}
	return raw.booking()
}

func (c *Client) Cancel(ctx context.Context, guid, reason string) error {
	req := struct {
		Guid   string
		Reason string
	}{guid, reason}
	env, err := c.post(ctx, "cancel booking", cancelBookingPath, req)
	if err != nil {
		return err
	}
	if env.Code != 200 {
		return &CancelError{Message: env.message()}
	}
	return nil
}

// MyBookings lists the bookings held by the authenticated account.
func (c *Client) MyBookings(ctx context.Context) ([]Booking, error) {
	env, err := c.post(ctx, "my bookings", myBookingsPath, struct{}{})
	if err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return nil, &QueryError{Op: "my bookings", Message: env.message()}
	}
	var raw []wireBooking
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, &QueryError{Op: "my bookings", Message: err.Error()}
	}
	out := make([]Booking, 0, len(raw))
	for _, w := range raw {
		b, err := w.booking()
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// --- wire plumbing ---

type envelope struct {
	Code    int             `json:"Code"`
	Message string          `json:"Message"`
	Data    json.RawMessage `json:"Data"`
}

func (e envelope) message() string {
	if e.Message == "" {
		return fmt.Sprintf("site replied with code %d", e.Code)
	}
	return e.Message
}

type wireBooking struct {
	GUID         string `json:"Guid"`
	StartTime    string `json:"StartTime"`
	EndTime      string `json:"EndTime"`
	ActivityName string `json:"ActivityName"`
	Description  string `json:"Description"`
	AssignedTo   string `json:"AssignedTo"`
}

func (w wireBooking) booking() (Booking, error) {
	start, err := parseWireTime(w.StartTime)
	if err != nil {
		return Booking{}, &QueryError{Op: "booking info", Message: err.Error()}
	}
	end, err := parseWireTime(w.EndTime)
	if err != nil {
		end = start
	}
	return Booking{
		GUID:        w.GUID,
		Start:       start,
		End:         end,
		Activity:    w.ActivityName,
		Description: w.Description,
		AssignedTo:  w.AssignedTo,
	}, nil
}

func parseWireTime(s string) (time.Time, error) {
	for _, l := range []string{wireTime, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized site time %q", s)
}

// prime performs the initial unauthenticated GET so the site issues
// the session cookies the login call must present.
func (c *Client) prime(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return &TransportError{Op: "prime", Err: err}
	}
	c.cookies.attach(req)
	res, err := c.hc.Do(req)
	if err != nil {
		return &TransportError{Op: "prime", Err: err}
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	c.cookies.absorb(res)
	return nil
}

// post sends one envelope request. Cookies are attached before the
// request leaves and absorbed from the response before any result is
// returned, success or not.
func (c *Client) post(ctx context.Context, op, path string, payload any) (envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")
	c.cookies.attach(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()
	c.cookies.absorb(res)

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return envelope{}, &TransportError{Op: op, Err: err}
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, &TransportError{Op: op, Err: fmt.Errorf("malformed envelope: %w", err)}
	}
	return env, nil
}
