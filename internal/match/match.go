package match

// LiveStatus is the coarse in-game status reported for a player.
type LiveStatus int

const (
	StatusAlive0  LiveStatus = 0
	StatusAlive1  LiveStatus = 1
	StatusAlive2  LiveStatus = 2
	StatusAlive3  LiveStatus = 3
	StatusKnocked LiveStatus = 4
	StatusDead    LiveStatus = 5
)

type State struct {
	ID    string      `json:"id"`
	Teams []TeamState `json:"teams"`
}

// TeamRef addresses a team by either of its historical identifiers.
type TeamRef struct {
	ID       string `json:"teamId,omitempty"`
	LegacyID string `json:"_id,omitempty"`
}

// Empty reports whether the ref carries no usable identifier.
func (r TeamRef) Empty() bool { return r.ID == "" && r.LegacyID == "" }

func (r TeamRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return r.LegacyID
}

type TeamState struct {
	ID       string        `json:"teamId"`
	LegacyID string        `json:"_id,omitempty"`
	Tag      string        `json:"tag"`
	Points   int           `json:"points"`
	Players  []PlayerState `json:"players"`
}

// Matches reports whether ref names this team under either alias.
func (t TeamState) Matches(ref TeamRef) bool {
	for _, want := range []string{ref.ID, ref.LegacyID} {
		if want == "" {
			continue
		}
		if want == t.ID || (t.LegacyID != "" && want == t.LegacyID) {
			return true
		}
	}
	return false
}

// Ref returns the aliases this team is known by.
func (t TeamState) Ref() TeamRef { return TeamRef{ID: t.ID, LegacyID: t.LegacyID} }

// Eliminated reports whether every player on the team is out.
// A team with no players is never eliminated.
func (t TeamState) Eliminated() bool {
	if len(t.Players) == 0 {
		return false
	}
	for _, p := range t.Players {
		if !p.Out {
			return false
		}
	}
	return true
}

func (t TeamState) TotalKills() int {
	n := 0
	for _, p := range t.Players {
		n += p.Kills
	}
	return n
}

// PlayerIndex returns the index of the player with id, or -1.
func (t TeamState) PlayerIndex(id string) int {
	for i, p := range t.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

type PlayerState struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kills      int        `json:"killNum"`
	Eliminated bool       `json:"eliminated"`
	LiveStatus LiveStatus `json:"liveStatus"`
	Health     float64    `json:"health"`
	MaxHealth  float64    `json:"healthMax"`
	Portrait   string     `json:"portrait,omitempty"`
	Rank       int        `json:"rank,omitempty"`

	// Out is derived from LiveStatus and Eliminated at ingestion.
	Out bool `json:"out"`
}

// TeamIndex returns the index of the team addressed by ref, or -1.
func (s State) TeamIndex(ref TeamRef) int {
	if ref.Empty() {
		return -1
	}
	for i, t := range s.Teams {
		if t.Matches(ref) {
			return i
		}
	}
	return -1
}

// Team returns a copy of the team addressed by ref.
func (s State) Team(ref TeamRef) (TeamState, bool) {
	i := s.TeamIndex(ref)
	if i < 0 {
		return TeamState{}, false
	}
	return s.Teams[i], true
}
