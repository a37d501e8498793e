// Package pgo decides whether profile-guided state may be persisted and
// derives the cache key it is stored under.
package pgo

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// Reasons reported by a disabled Status.
const (
	ReasonNoJobID     = "job_id is not set"
	ReasonDisabled    = "automatic_dynamic_local_pgo is disabled"
	ReasonInvalidRank = "rank must not be negative"
)

// JobIDSource supplies the current job identifier. ok must be false when
// the identifier is unset or empty.
type JobIDSource interface {
	JobID() (id string, ok bool)
}

// Flags exposes the feature flags the gate consults.
type Flags interface {
	LocalPGO() bool
	CompilerCollectives() bool
}

// Status is the outcome of a gate evaluation.
type Status struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
	Key     string `json:"key,omitempty"`
	Rank    int    `json:"rank"`
	Shared  bool   `json:"shared"`
}

// Filename returns the on-disk name of the profile for this key, or "" when
// persistence is disabled.
func (s Status) Filename() string {
	if !s.Enabled {
		return ""
	}
	return "code_state_" + url.QueryEscape(s.Key) + ".pkl"
}

// Gate evaluates the persistence policy against live settings. It holds no
// copies, so every call observes the latest configuration.
type Gate struct {
	jobs   JobIDSource
	flags  Flags
	logger *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate returns a gate over the given sources.
func NewGate(jobs JobIDSource, flags Flags, opts ...Option) *Gate {
	g := &Gate{
		jobs:   jobs,
		flags:  flags,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Status evaluates the gate for one rank.
func (g *Gate) Status(rank int) Status {
	st := Status{Rank: rank}

	if rank < 0 {
		st.Reason = ReasonInvalidRank
		return st
	}

	id, ok := g.jobs.JobID()
	if !ok {
		st.Reason = ReasonNoJobID
		g.logger.Debug("pgo disabled", zap.String("reason", st.Reason))
		return st
	}
	if !g.flags.LocalPGO() {
		st.Reason = ReasonDisabled
		g.logger.Debug("pgo disabled", zap.String("reason", st.Reason))
		return st
	}

	st.Enabled = true
	st.Shared = g.flags.CompilerCollectives()
	st.Key = Key(id, rank, st.Shared)
	return st
}

// Enabled reports whether persistence is enabled for rank.
func (g *Gate) Enabled(rank int) bool {
	return g.Status(rank).Enabled
}

// Key derives the cache key for a job. Ranks share a key when compiler
// collectives make their profiles identical.
func Key(jobID string, rank int, shared bool) string {
	if shared {
		return jobID
	}
	return fmt.Sprintf("%s:rank%d", jobID, rank)
}
