package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/tomevault/tomevault/internal/model"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// TomeRepo is the catalog store. Associations are loaded explicitly by
// the caller; nothing is fetched implicitly.
type TomeRepo struct {
	db *gorm.DB
}

func NewTomeRepo(db *gorm.DB) (*TomeRepo, error) {
	if err := db.AutoMigrate(
		&model.Character{}, &model.Language{}, &model.Location{},
		&model.Tome{}, &model.Spell{},
	); err != nil {
		return nil, err
	}
	return &TomeRepo{db: db}, nil
}

func (r *TomeRepo) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.Tome{}).Count(&total).Error
	return total, err
}

// List returns one page of tomes with author and language preloaded and
// spell counts attached. page is 1-based; perPage <= 0 disables paging.
func (r *TomeRepo) List(ctx context.Context, page, perPage int) ([]model.Tome, error) {
	q := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Language").
		Order("created_at ASC")
	if perPage > 0 {
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * perPage).Limit(perPage)
	}

	var tomes []model.Tome
	if err := q.Find(&tomes).Error; err != nil {
		return nil, err
	}
	if err := r.attachSpellCounts(ctx, tomes); err != nil {
		return nil, err
	}
	return tomes, nil
}

func (r *TomeRepo) attachSpellCounts(ctx context.Context, tomes []model.Tome) error {
	if len(tomes) == 0 {
		return nil
	}
	ids := make([]string, len(tomes))
	for i, t := range tomes {
		ids[i] = t.ID
	}
	type spellCount struct {
		TomeID string
		Count  int64
	}
	var counts []spellCount
	err := r.db.WithContext(ctx).Model(&model.Spell{}).
		Select("tome_id, COUNT(*) AS count").
		Where("tome_id IN ?", ids).
		Group("tome_id").
		Find(&counts).Error
	if err != nil {
		return err
	}
	byID := make(map[string]int64, len(counts))
	for _, c := range counts {
		byID[c.TomeID] = c.Count
	}
	for i := range tomes {
		tomes[i].SpellCount = byID[tomes[i].ID]
	}
	return nil
}

// GetByIDOrSlug loads one tome with all associations. Returns nil when
// no tome matches.
func (r *TomeRepo) GetByIDOrSlug(ctx context.Context, key string) (*model.Tome, error) {
	q := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Language").
		Preload("CurrentOwner").
		Preload("LastKnownLocation").
		Preload("Spells")
	if uuidPattern.MatchString(strings.ToLower(key)) {
		q = q.Where("id = ?", key)
	} else {
		q = q.Where("slug = ?", key)
	}

	var tome model.Tome
	if err := q.First(&tome).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tome, nil
}

func (r *TomeRepo) Create(ctx context.Context, tome *model.Tome) error {
	return r.db.WithContext(ctx).Create(tome).Error
}

func (r *TomeRepo) Update(ctx context.Context, tome *model.Tome) error {
	return r.db.WithContext(ctx).Save(tome).Error
}

func (r *TomeRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Tome{}, "id = ?", id).Error
}

func (r *TomeRepo) CreateCharacter(ctx context.Context, c *model.Character) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *TomeRepo) CreateLanguage(ctx context.Context, l *model.Language) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *TomeRepo) CreateLocation(ctx context.Context, l *model.Location) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *TomeRepo) CreateSpell(ctx context.Context, s *model.Spell) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// ResolveCharacter finds a character by uuid or case-insensitive name.
// Returns "" when nothing matches; references are optional.
func (r *TomeRepo) ResolveCharacter(ctx context.Context, ref string) (string, error) {
	return r.resolveRef(ctx, &model.Character{}, ref)
}

func (r *TomeRepo) ResolveLanguage(ctx context.Context, ref string) (string, error) {
	return r.resolveRef(ctx, &model.Language{}, ref)
}

func (r *TomeRepo) ResolveLocation(ctx context.Context, ref string) (string, error) {
	return r.resolveRef(ctx, &model.Location{}, ref)
}

func (r *TomeRepo) resolveRef(ctx context.Context, dest any, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	q := r.db.WithContext(ctx).Model(dest)
	if uuidPattern.MatchString(strings.ToLower(ref)) {
		q = q.Where("id = ?", ref)
	} else {
		q = q.Where("LOWER(name) = ?", strings.ToLower(ref))
	}
	var ids []string
	if err := q.Limit(1).Pluck("id", &ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}
