package site

import "net/http"

// cookieState is the run's accumulated session cookies: an explicit
// value owned by one Client, never global. Later Set-Cookie values
// replace earlier ones under the same name; insertion order is kept
// so requests replay cookies in the order the site issued them.
type cookieState struct {
	order  []string
	values map[string]string
}

func newCookieState() *cookieState {
	return &cookieState{values: make(map[string]string)}
}

func (s *cookieState) absorb(res *http.Response) {
	for _, c := range res.Cookies() {
		if c.Name == "" {
			continue
		}
		if _, seen := s.values[c.Name]; !seen {
			s.order = append(s.order, c.Name)
		}
		s.values[c.Name] = c.Value
	}
}

func (s *cookieState) attach(req *http.Request) {
	for _, name := range s.order {
		req.AddCookie(&http.Cookie{Name: name, Value: s.values[name]})
	}
}

func (s *cookieState) len() int { return len(s.order) }
