package milestone

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/match"
)

const (
	DefaultKillAlert        = 5 * time.Second
	DefaultEliminationAlert = 10 * time.Second
)

// Memory is the per-attachment state the detector diffs against.
type Memory struct {
	FiredTeams map[string]bool
	Kills      map[string]int
	FirstBlood bool
	baselined  bool
}

func newMemory() Memory {
	return Memory{FiredTeams: map[string]bool{}, Kills: map[string]int{}}
}

type Options struct {
	KillAlert        time.Duration
	EliminationAlert time.Duration
	// OnChange receives the newly displayed alert, or nil once it expires.
	// It is called without the detector lock held.
	OnChange func(*Alert)
	Now      func() time.Time
	Logger   *zap.Logger
}

// Detector watches successive snapshots of one attached match and raises
// at-most-once milestone alerts. At most one alert is displayed at a time.
type Detector struct {
	mu      sync.Mutex
	matchID string
	mem     Memory
	current *Alert
	timer   *time.Timer
	gen     uint64
	opts    Options
	logger  *zap.Logger
}

func New(opts Options) *Detector {
	if opts.KillAlert <= 0 {
		opts.KillAlert = DefaultKillAlert
	}
	if opts.EliminationAlert <= 0 {
		opts.EliminationAlert = DefaultEliminationAlert
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Detector{mem: newMemory(), opts: opts, logger: opts.Logger.Named("milestone")}
}

// Attach binds the detector to matchID. Changing the match clears memory and
// any displayed alert.
func (d *Detector) Attach(matchID string) {
	d.mu.Lock()
	if d.matchID == matchID {
		d.mu.Unlock()
		return
	}
	hadAlert := d.resetLocked()
	d.matchID = matchID
	d.mu.Unlock()

	if hadAlert {
		d.notify(nil)
	}
}

// Detach cancels the expiry timer and forgets everything.
func (d *Detector) Detach() {
	d.mu.Lock()
	d.resetLocked()
	d.matchID = ""
	d.mu.Unlock()
}

func (d *Detector) resetLocked() bool {
	hadAlert := d.current != nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.current = nil
	d.mem = newMemory()
	return hadAlert
}

// Current returns the displayed alert, if any.
func (d *Detector) Current() *Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	a := *d.current
	return &a
}

type killChange struct {
	team   match.TeamState
	player match.PlayerState
	prev   int
}

// Observe diffs s against memory and returns the alerts it raised, in the
// order they were displayed.
func (d *Detector) Observe(s match.State) []Alert {
	d.mu.Lock()
	if d.matchID != "" && s.ID != d.matchID {
		d.mu.Unlock()
		return nil
	}
	if !d.mem.baselined {
		if len(s.Teams) > 0 {
			d.baselineLocked(s)
		}
		d.mu.Unlock()
		return nil
	}

	var alerts []Alert
	if a, ok := d.killAlertLocked(d.changedLocked(s)); ok {
		alerts = append(alerts, a)
	}
	for _, team := range s.Teams {
		if !team.Eliminated() || d.mem.FiredTeams[team.ID] {
			continue
		}
		d.mem.FiredTeams[team.ID] = true
		alerts = append(alerts, d.eliminationAlert(team))
	}
	d.recordLocked(s)

	for i := range alerts {
		alerts[i].MatchID = s.ID
		d.displayLocked(&alerts[i])
	}
	var shown *Alert
	if len(alerts) > 0 {
		a := alerts[len(alerts)-1]
		shown = &a
	}
	d.mu.Unlock()

	for _, a := range alerts {
		d.logger.Info("milestone", zap.String("match", a.MatchID), zap.String("kind", string(a.Kind)),
			zap.String("team", a.TeamID), zap.String("player", a.PlayerName))
	}
	if shown != nil {
		d.notify(shown)
	}
	return alerts
}

// baselineLocked records the first snapshot after attach without alerting,
// so joining a match in progress does not replay old milestones.
func (d *Detector) baselineLocked(s match.State) {
	d.mem.baselined = true
	for _, team := range s.Teams {
		if team.Eliminated() {
			d.mem.FiredTeams[team.ID] = true
		}
		for _, p := range team.Players {
			if p.Kills > 0 {
				d.mem.FirstBlood = true
			}
		}
	}
	d.recordLocked(s)
}

// changedLocked lists players whose kills rose, latest team and player first.
func (d *Detector) changedLocked(s match.State) []killChange {
	var changed []killChange
	for ti := len(s.Teams) - 1; ti >= 0; ti-- {
		team := s.Teams[ti]
		for pi := len(team.Players) - 1; pi >= 0; pi-- {
			p := team.Players[pi]
			prev, seen := d.mem.Kills[killKey(team.ID, p.ID)]
			if !seen {
				// Players first seen mid-match are a baseline, not a change.
				if p.Kills > 0 {
					d.mem.FirstBlood = true
				}
				continue
			}
			if p.Kills > prev {
				changed = append(changed, killChange{team: team, player: p, prev: prev})
			}
		}
	}
	return changed
}

func (d *Detector) killAlertLocked(changed []killChange) (Alert, bool) {
	if !d.mem.FirstBlood {
		for _, c := range changed {
			if c.prev == 0 && c.player.Kills >= 1 {
				d.mem.FirstBlood = true
				return d.killAlert(KindFirstBlood, c), true
			}
		}
	}
	for _, c := range changed {
		if tier, ok := crossedTier(c.prev, c.player.Kills); ok {
			return d.killAlert(tier.Kind, c), true
		}
	}
	return Alert{}, false
}

func (d *Detector) recordLocked(s match.State) {
	for _, team := range s.Teams {
		for _, p := range team.Players {
			d.mem.Kills[killKey(team.ID, p.ID)] = p.Kills
		}
	}
}

func (d *Detector) killAlert(kind Kind, c killChange) Alert {
	return Alert{
		ID:         uuid.NewString(),
		Kind:       kind,
		TeamID:     c.team.ID,
		TeamTag:    c.team.Tag,
		PlayerID:   c.player.ID,
		PlayerName: c.player.Name,
		Kills:      c.player.Kills,
	}
}

func (d *Detector) eliminationAlert(team match.TeamState) Alert {
	rank := 0
	for _, p := range team.Players {
		if p.Rank > 0 {
			rank = p.Rank
			break
		}
	}
	return Alert{
		ID:        uuid.NewString(),
		Kind:      KindTeamEliminated,
		TeamID:    team.ID,
		TeamTag:   team.Tag,
		Rank:      rank,
		TeamKills: team.TotalKills(),
		Points:    team.Points,
	}
}

// displayLocked replaces the displayed alert and re-arms the expiry timer.
func (d *Detector) displayLocked(a *Alert) {
	ttl := d.opts.EliminationAlert
	if a.Kind.isKill() {
		ttl = d.opts.KillAlert
	}
	a.RaisedAt = d.opts.Now()
	a.ExpiresAt = a.RaisedAt.Add(ttl)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	shown := *a
	d.current = &shown
	d.timer = time.AfterFunc(ttl, func() { d.expire(gen) })
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.current == nil {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.timer = nil
	d.mu.Unlock()
	d.notify(nil)
}

func (d *Detector) notify(a *Alert) {
	if d.opts.OnChange != nil {
		d.opts.OnChange(a)
	}
}

func killKey(teamID, playerID string) string { return teamID + "/" + playerID }
