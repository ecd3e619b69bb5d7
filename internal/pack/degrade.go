package pack

import "github.com/pampax/pampax/internal/bundle"

// minCapsuleTokens floors the capsule size so deep levels still emit
// a usable signature line.
const minCapsuleTokens = 16

// capsuleKeepShare is the fraction of an item a capsule aims to keep
// at each level. The ladder shrinks it: light reduction first, down to
// a tenth before the emergency signature pass takes over.
var capsuleKeepShare = map[bundle.DegradeLevel]float64{
	bundle.DegradeNone:     0.50,
	bundle.DegradeLight:    0.50,
	bundle.DegradeModerate: 0.35,
	bundle.DegradeHeavy:    0.20,
	bundle.DegradeSevere:   0.10,
}

// capsuleBudget sizes an item's capsule at the given level, bounded by
// the profile cap above and the usable-signature floor below.
func capsuleBudget(level bundle.DegradeLevel, originalTokens, capsuleMax int) int {
	keep, ok := capsuleKeepShare[level]
	if !ok {
		keep = 0.10
	}
	target := int(float64(originalTokens) * keep)
	if target > capsuleMax {
		target = capsuleMax
	}
	if target < minCapsuleTokens {
		target = minCapsuleTokens
	}
	return target
}

// tierCapsuled reports whether the level forces capsules on a whole
// tier. Must-have is never tier-capsuled; it reduces only when an item
// does not fit, and to signatures under emergency.
func tierCapsuled(level bundle.DegradeLevel, tier bundle.Tier) bool {
	switch tier {
	case bundle.TierOptional:
		return level >= bundle.DegradeLight
	case bundle.TierSupplementary:
		return level >= bundle.DegradeModerate
	case bundle.TierImportant:
		return level >= bundle.DegradeHeavy
	}
	return false
}

// tierDropped reports whether the level removes the tier outright.
func tierDropped(level bundle.DegradeLevel, tier bundle.Tier) bool {
	if tier == bundle.TierMustHave {
		return false
	}
	if level >= bundle.DegradeEmergency {
		return true
	}
	if level >= bundle.DegradeSevere {
		return tier == bundle.TierOptional || tier == bundle.TierSupplementary
	}
	return false
}
