package match

// PlayerFields is a partial player update; nil fields are left untouched.
type PlayerFields struct {
	Name       *string     `json:"name,omitempty"`
	Kills      *int        `json:"killNum,omitempty"`
	Eliminated *bool       `json:"eliminated,omitempty"`
	LiveStatus *LiveStatus `json:"liveStatus,omitempty"`
	Health     *float64    `json:"health,omitempty"`
	MaxHealth  *float64    `json:"healthMax,omitempty"`
	Portrait   *string     `json:"portrait,omitempty"`
	Rank       *int        `json:"rank,omitempty"`
}

func (f PlayerFields) IsZero() bool {
	return f.Name == nil && f.Kills == nil && f.Eliminated == nil && f.LiveStatus == nil &&
		f.Health == nil && f.MaxHealth == nil && f.Portrait == nil && f.Rank == nil
}

// ApplyTo merges the set fields onto p and re-derives Out.
func (f PlayerFields) ApplyTo(p PlayerState) PlayerState {
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Kills != nil {
		p.Kills = max(*f.Kills, 0)
	}
	if f.Eliminated != nil {
		p.Eliminated = *f.Eliminated
	}
	if f.LiveStatus != nil {
		p.LiveStatus = *f.LiveStatus
	}
	if f.Health != nil {
		p.Health = *f.Health
	}
	if f.MaxHealth != nil {
		p.MaxHealth = *f.MaxHealth
	}
	if f.Portrait != nil {
		p.Portrait = *f.Portrait
	}
	if f.Rank != nil {
		p.Rank = *f.Rank
	}
	return NormalizePlayer(p)
}

// PlayerEntry is a partial update for one player inside a team patch.
type PlayerEntry struct {
	ID string `json:"id"`
	PlayerFields
}

// TeamFields is a partial team update. Players are merged by id.
type TeamFields struct {
	Tag     *string       `json:"tag,omitempty"`
	Points  *int          `json:"points,omitempty"`
	Players []PlayerEntry `json:"players,omitempty"`
}

func Ptr[T any](v T) *T { return &v }
