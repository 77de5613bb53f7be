package model

import "time"

// Route describes one egress path (proxy endpoint) used to reach providers.
// Endpoint, Credential, Region and Reliability come from configuration;
// the counters are runtime weighting state.
type Route struct {
	ID          string    `json:"id" yaml:"id"`
	Endpoint    string    `json:"endpoint" yaml:"endpoint"`
	Credential  string    `json:"-" yaml:"credential"`
	Region      string    `json:"region" yaml:"region"`
	Reliability float64   `json:"reliability" yaml:"reliability"`
	Successes   int       `json:"successes" yaml:"-"`
	Failures    int       `json:"failures" yaml:"-"`
	LastUsed    time.Time `json:"last_used" yaml:"-"`
}

// Direct reports whether the route is the zero route (no proxy).
func (r Route) Direct() bool {
	return r.Endpoint == ""
}

// Weight returns the selection weight for the route, floored at 0.1.
func (r Route) Weight() float64 {
	w := r.Reliability + 0.1*float64(r.Successes) - 0.2*float64(r.Failures)
	if w < 0.1 {
		return 0.1
	}
	return w
}
