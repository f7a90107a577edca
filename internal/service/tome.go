package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomevault/tomevault/internal/model"
	"github.com/tomevault/tomevault/internal/pkg/apperrors"
	"github.com/tomevault/tomevault/internal/repository"
)

// Lists longer than this page size are paginated; shorter collections
// come back whole.
const tomePageSize = 10

// TomeInput is the write payload. Reference fields accept either a uuid
// or a name; names resolve case-insensitively.
type TomeInput struct {
	Title             string   `json:"title"`
	AlternateTitles   []string `json:"alternate_titles"`
	Origin            *string  `json:"origin"`
	Author            string   `json:"author"`
	CurrentOwner      string   `json:"current_owner"`
	Language          string   `json:"language"`
	LastKnownLocation string   `json:"last_known_location"`
	ContentsSummary   *string  `json:"contents_summary"`
	Cursed            bool     `json:"cursed"`
	Sentient          bool     `json:"sentient"`
	DangerLevel       string   `json:"danger_level"`
	ArtifactType      *string  `json:"artifact_type"`
	CoverMaterial     *string  `json:"cover_material"`
	Pages             *int     `json:"pages"`
	Illustrated       bool     `json:"illustrated"`
	NotableQuotes     []string `json:"notable_quotes"`
	Slug              string   `json:"slug"`
}

// TomeListItem is the collection representation. Association-derived
// fields appear only when the association was loaded.
type TomeListItem struct {
	ID           string  `json:"id"`
	Slug         string  `json:"slug"`
	Title        string  `json:"title"`
	AuthorName   *string `json:"author,omitempty"`
	LanguageName *string `json:"language,omitempty"`
	DangerLevel  string  `json:"danger_level"`
	Cursed       bool    `json:"cursed"`
	Sentient     bool    `json:"sentient"`
	SpellCount   int64   `json:"spell_count"`
}

// TomeDetail nests full associations when loaded.
type TomeDetail struct {
	model.Tome
	Author            *model.Character `json:"author,omitempty"`
	Language          *model.Language  `json:"language,omitempty"`
	CurrentOwner      *model.Character `json:"current_owner,omitempty"`
	LastKnownLocation *model.Location  `json:"last_known_location,omitempty"`
	Spells            []model.Spell    `json:"spells,omitempty"`
}

// Pagination mirrors the list meta block.
type Pagination struct {
	Total       int64   `json:"total"`
	Count       int     `json:"count"`
	PerPage     int     `json:"per_page"`
	CurrentPage int     `json:"current_page"`
	LastPage    int     `json:"last_page"`
	NextPageURL *string `json:"next_page_url"`
	PrevPageURL *string `json:"prev_page_url"`
}

// TomeList is the list result. Pagination is nil when the collection
// fits on one page; Total is always set.
type TomeList struct {
	Items      []TomeListItem
	Total      int64
	Pagination *Pagination
}

type TomeService struct {
	repo *repository.TomeRepo
}

func NewTomeService(repo *repository.TomeRepo) *TomeService {
	return &TomeService{repo: repo}
}

// List returns the collection, paginated only when it exceeds the page
// size. baseURL is the request path used to build page links.
func (s *TomeService) List(ctx context.Context, page int, baseURL string) (*TomeList, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	if total <= tomePageSize {
		tomes, err := s.repo.List(ctx, 0, 0)
		if err != nil {
			return nil, apperrors.Wrap(err)
		}
		return &TomeList{Items: listItems(tomes), Total: total}, nil
	}

	if page < 1 {
		page = 1
	}
	tomes, err := s.repo.List(ctx, page, tomePageSize)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}

	lastPage := int((total + tomePageSize - 1) / tomePageSize)
	items := listItems(tomes)
	p := &Pagination{
		Total:       total,
		Count:       len(items),
		PerPage:     tomePageSize,
		CurrentPage: page,
		LastPage:    lastPage,
	}
	if page < lastPage {
		p.NextPageURL = pageURL(baseURL, page+1)
	}
	if page > 1 {
		p.PrevPageURL = pageURL(baseURL, page-1)
	}
	return &TomeList{Items: items, Total: total, Pagination: p}, nil
}

func pageURL(base string, page int) *string {
	u := fmt.Sprintf("%s?page=%d", base, page)
	return &u
}

func listItems(tomes []model.Tome) []TomeListItem {
	items := make([]TomeListItem, 0, len(tomes))
	for i := range tomes {
		t := &tomes[i]
		item := TomeListItem{
			ID:          t.ID,
			Slug:        t.Slug,
			Title:       t.Title,
			DangerLevel: string(t.DangerLevel),
			Cursed:      t.Cursed,
			Sentient:    t.Sentient,
			SpellCount:  t.SpellCount,
		}
		if t.Author != nil {
			item.AuthorName = &t.Author.Name
		}
		if t.Language != nil {
			item.LanguageName = &t.Language.Name
		}
		items = append(items, item)
	}
	return items
}

// Get loads one tome by uuid or slug.
func (s *TomeService) Get(ctx context.Context, key string) (*TomeDetail, error) {
	tome, err := s.repo.GetByIDOrSlug(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if tome == nil {
		return nil, apperrors.NewNotFound("Tome not found")
	}
	return detail(tome), nil
}

func detail(t *model.Tome) *TomeDetail {
	return &TomeDetail{
		Tome:              *t,
		Author:            t.Author,
		Language:          t.Language,
		CurrentOwner:      t.CurrentOwner,
		LastKnownLocation: t.LastKnownLocation,
		Spells:            t.Spells,
	}
}

// Create validates the payload, resolves references and stores the tome.
func (s *TomeService) Create(ctx context.Context, in *TomeInput) (*TomeDetail, error) {
	tome := &model.Tome{}
	if err := s.apply(ctx, tome, in); err != nil {
		return nil, err
	}
	if tome.Slug == "" {
		tome.Slug = slugify(tome.Title)
	}
	if err := s.repo.Create(ctx, tome); err != nil {
		return nil, apperrors.Wrap(err)
	}
	return s.Get(ctx, tome.ID)
}

// Update replaces the mutable fields of an existing tome.
func (s *TomeService) Update(ctx context.Context, key string, in *TomeInput) (*TomeDetail, error) {
	existing, err := s.repo.GetByIDOrSlug(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if existing == nil {
		return nil, apperrors.NewNotFound("Tome not found")
	}
	if err := s.apply(ctx, existing, in); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, apperrors.Wrap(err)
	}
	return s.Get(ctx, existing.ID)
}

func (s *TomeService) Delete(ctx context.Context, key string) error {
	existing, err := s.repo.GetByIDOrSlug(ctx, key)
	if err != nil {
		return apperrors.Wrap(err)
	}
	if existing == nil {
		return apperrors.NewNotFound("Tome not found")
	}
	if err := s.repo.Delete(ctx, existing.ID); err != nil {
		return apperrors.Wrap(err)
	}
	return nil
}

// apply validates the input and copies it onto the model. Validation
// problems accumulate into one field-error response.
func (s *TomeService) apply(ctx context.Context, tome *model.Tome, in *TomeInput) error {
	fields := map[string]string{}

	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "The title field is required."
	}
	danger := model.DangerLevel(in.DangerLevel)
	if in.DangerLevel != "" && !danger.Valid() {
		fields["danger_level"] = fmt.Sprintf("The selected danger level %q is invalid.", in.DangerLevel)
	}
	var artifact *model.ArtifactType
	if in.ArtifactType != nil && *in.ArtifactType != "" {
		a := model.ArtifactType(*in.ArtifactType)
		if !a.Valid() {
			fields["artifact_type"] = fmt.Sprintf("The selected artifact type %q is invalid.", *in.ArtifactType)
		} else {
			artifact = &a
		}
	}
	var cover *model.CoverMaterial
	if in.CoverMaterial != nil && *in.CoverMaterial != "" {
		c := model.CoverMaterial(*in.CoverMaterial)
		if !c.Valid() {
			fields["cover_material"] = fmt.Sprintf("The selected cover material %q is invalid.", *in.CoverMaterial)
		} else {
			cover = &c
		}
	}
	if in.Pages != nil && *in.Pages < 0 {
		fields["pages"] = "The pages field must be at least 0."
	}

	authorID, err := s.resolve(ctx, fields, "author", in.Author, s.repo.ResolveCharacter)
	if err != nil {
		return err
	}
	ownerID, err := s.resolve(ctx, fields, "current_owner", in.CurrentOwner, s.repo.ResolveCharacter)
	if err != nil {
		return err
	}
	languageID, err := s.resolve(ctx, fields, "language", in.Language, s.repo.ResolveLanguage)
	if err != nil {
		return err
	}
	locationID, err := s.resolve(ctx, fields, "last_known_location", in.LastKnownLocation, s.repo.ResolveLocation)
	if err != nil {
		return err
	}

	if len(fields) > 0 {
		return apperrors.NewValidation(fields)
	}

	tome.Title = in.Title
	tome.AlternateTitles = model.StringList(in.AlternateTitles)
	tome.Origin = in.Origin
	tome.AuthorID = authorID
	tome.CurrentOwnerID = ownerID
	tome.LanguageID = languageID
	tome.LastKnownLocationID = locationID
	tome.ContentsSummary = in.ContentsSummary
	tome.Cursed = in.Cursed
	tome.Sentient = in.Sentient
	if in.DangerLevel != "" {
		tome.DangerLevel = danger
	}
	tome.ArtifactType = artifact
	tome.CoverMaterial = cover
	tome.Pages = in.Pages
	tome.Illustrated = in.Illustrated
	tome.NotableQuotes = model.StringList(in.NotableQuotes)
	if in.Slug != "" {
		tome.Slug = slugify(in.Slug)
	}
	return nil
}

type resolveFn func(ctx context.Context, ref string) (string, error)

// resolve maps a uuid-or-name reference to an id. An unresolvable
// non-empty reference is a field error, not a silent null.
func (s *TomeService) resolve(ctx context.Context, fields map[string]string, field, ref string, fn resolveFn) (*string, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, nil
	}
	id, err := fn(ctx, ref)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if id == "" {
		fields[field] = fmt.Sprintf("No %s matches %q.", strings.ReplaceAll(field, "_", " "), ref)
		return nil, nil
	}
	return &id, nil
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
