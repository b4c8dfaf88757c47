package milestone

// Tier is a kill-streak threshold and the alert it raises.
type Tier struct {
	Kills int
	Kind  Kind
}

// StreakTiers is ordered from the highest threshold down.
var StreakTiers = []Tier{
	{Kills: 8, Kind: KindUnstoppable},
	{Kills: 5, Kind: KindRampage},
	{Kills: 3, Kind: KindDomination},
}

// crossedTier returns the highest tier with prev < threshold <= cur.
func crossedTier(prev, cur int) (Tier, bool) {
	for _, tier := range StreakTiers {
		if prev < tier.Kills && tier.Kills <= cur {
			return tier, true
		}
	}
	return Tier{}, false
}
