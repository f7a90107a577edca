package model

// Classification fields are closed sets, validated at the API boundary.
// Unknown values are rejected rather than stored as free-form strings.

type DangerLevel string

const (
	DangerLow     DangerLevel = "Low"
	DangerMedium  DangerLevel = "Medium"
	DangerHigh    DangerLevel = "High"
	DangerSevere  DangerLevel = "Severe"
	DangerUnknown DangerLevel = "Unknown"
)

var dangerLevels = map[DangerLevel]struct{}{
	DangerLow: {}, DangerMedium: {}, DangerHigh: {}, DangerSevere: {}, DangerUnknown: {},
}

func (d DangerLevel) Valid() bool {
	_, ok := dangerLevels[d]
	return ok
}

type ArtifactType string

var artifactTypes = map[ArtifactType]struct{}{
	"Grimoire": {}, "Scroll": {}, "Codex": {}, "Tome": {}, "Manuscript": {},
	"Tablet": {}, "Pamphlet": {}, "Compendium": {}, "Diary": {}, "Encyclopedia": {},
	"Journal": {}, "Ledger": {}, "Scroll Case": {}, "Spellbook": {}, "Treatise": {},
	"Vellum": {}, "Codicil": {}, "Atlas": {}, "Almanac": {}, "Missal": {},
	"Papyrus": {}, "Archive": {}, "Bestiary": {}, "Chronicle": {}, "Fascicle": {},
	"Liber": {},
}

func (a ArtifactType) Valid() bool {
	_, ok := artifactTypes[a]
	return ok
}

type CoverMaterial string

var coverMaterials = map[CoverMaterial]struct{}{
	"Leather": {}, "Dragonhide": {}, "Velvet": {}, "Cloth": {}, "Parchment": {},
	"Wood": {}, "Gold Leaf": {}, "Silver Leaf": {}, "Bone": {}, "Iron": {},
	"Bronze": {}, "Glass": {}, "Enchanted Silk": {}, "Obsidian": {}, "Crystal": {},
	"Marble": {}, "Papyrus": {}, "Silk": {}, "Velvet Embroidered": {},
	"Rune-Inscribed Leather": {}, "Shadowwoven Cloth": {}, "Wyvern Scale": {},
	"Phantom Fabric": {}, "Emberwood": {}, "Celestial Weave": {}, "Dragon Scale": {},
	"Mithril": {}, "Ethereal Linen": {}, "Leather Bound": {}, "Fossilized Wood": {},
	"Basilisk Hide": {}, "Spellwoven Cloth": {},
}

func (c CoverMaterial) Valid() bool {
	_, ok := coverMaterials[c]
	return ok
}
