package match

// NormalizePlayer derives the canonical out flag. Either source flag counts.
func NormalizePlayer(p PlayerState) PlayerState {
	if p.Kills < 0 {
		p.Kills = 0
	}
	p.Out = p.LiveStatus == StatusDead || p.Eliminated
	return p
}

// NormalizeTeam fills the canonical id from the legacy alias when needed and
// normalizes every player. The returned team shares nothing with t.
func NormalizeTeam(t TeamState) TeamState {
	if t.ID == "" {
		t.ID = t.LegacyID
	}
	if t.LegacyID == t.ID {
		t.LegacyID = ""
	}
	players := make([]PlayerState, len(t.Players))
	for i, p := range t.Players {
		players[i] = NormalizePlayer(p)
	}
	t.Players = players
	return t
}

// NormalizeState normalizes every team, dropping teams with no identifier.
func NormalizeState(s State) State {
	teams := make([]TeamState, 0, len(s.Teams))
	for _, t := range s.Teams {
		if t.ID == "" && t.LegacyID == "" {
			continue
		}
		teams = append(teams, NormalizeTeam(t))
	}
	s.Teams = teams
	return s
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{ID: s.ID, Teams: make([]TeamState, len(s.Teams))}
	for i, t := range s.Teams {
		out.Teams[i] = t.Clone()
	}
	return out
}

func (t TeamState) Clone() TeamState {
	c := t
	c.Players = append([]PlayerState(nil), t.Players...)
	return c
}
