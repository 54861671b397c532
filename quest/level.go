package quest

// xpPerLevelStep grows the XP needed per level: reaching level n takes
// xpPerLevelStep * (n-1)^2 XP in total.
const xpPerLevelStep = 100

// LevelForXP returns the level reached with xp total experience.
func LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	level := 1
	for XPForLevel(level+1) <= xp {
		level++
	}
	return level
}

// XPForLevel returns the total XP needed to reach level.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level - 1)
	return xpPerLevelStep * n * n
}
