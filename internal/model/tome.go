package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StringList is a JSON-encoded string slice stored in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported StringList source type %T", src)
	}
}

type Character struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Slug      string    `json:"slug" gorm:"uniqueIndex"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Language struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Location struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string    `json:"name"`
	Realm       string    `json:"realm"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Spell struct {
	ID          string      `json:"id" gorm:"type:uuid;primaryKey"`
	TomeID      string      `json:"tome_id" gorm:"type:uuid;index"`
	Name        string      `json:"name"`
	Effect      string      `json:"effect"`
	DangerLevel DangerLevel `json:"danger_level"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Tome struct {
	ID              string     `json:"id" gorm:"type:uuid;primaryKey"`
	Slug            string     `json:"slug" gorm:"uniqueIndex"`
	Title           string     `json:"title"`
	AlternateTitles StringList `json:"alternate_titles" gorm:"type:text"`
	Origin          *string    `json:"origin"`

	AuthorID            *string `json:"author_id" gorm:"type:uuid;index"`
	LanguageID          *string `json:"language_id" gorm:"type:uuid;index"`
	CurrentOwnerID      *string `json:"current_owner_id" gorm:"type:uuid;index"`
	LastKnownLocationID *string `json:"last_known_location_id" gorm:"type:uuid;index"`

	ContentsSummary *string       `json:"contents_summary"`
	Cursed          bool          `json:"cursed"`
	Sentient        bool          `json:"sentient"`
	DangerLevel     DangerLevel   `json:"danger_level"`
	ArtifactType    *ArtifactType `json:"artifact_type"`
	CoverMaterial   *CoverMaterial `json:"cover_material"`
	Pages           *int          `json:"pages"`
	Illustrated     bool          `json:"illustrated"`
	NotableQuotes   StringList    `json:"notable_quotes" gorm:"type:text"`

	// Associations, populated only when explicitly loaded.
	Author            *Character `json:"-" gorm:"foreignKey:AuthorID"`
	Language          *Language  `json:"-" gorm:"foreignKey:LanguageID"`
	CurrentOwner      *Character `json:"-" gorm:"foreignKey:CurrentOwnerID"`
	LastKnownLocation *Location  `json:"-" gorm:"foreignKey:LastKnownLocationID"`
	Spells            []Spell    `json:"-" gorm:"foreignKey:TomeID"`
	SpellCount        int64      `json:"-" gorm:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Tome) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.DangerLevel == "" {
		t.DangerLevel = DangerUnknown
	}
	return nil
}

func (c *Character) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (l *Language) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

func (s *Spell) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
