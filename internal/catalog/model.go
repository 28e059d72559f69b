package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxPointValue bounds the numeric point value carried by a product.
	MaxPointValue = 1_000_000
	// MaxTagRunes bounds a single tag.
	MaxTagRunes = 32
	// MaxTagCount bounds the tag set of a product.
	MaxTagCount = 20
)

var (
	// ErrInvalidProductID indicates that a product identifier is not a UUID.
	ErrInvalidProductID = errors.New("catalog: invalid product id")
	// ErrInvalidCategory indicates an unknown product category.
	ErrInvalidCategory = errors.New("catalog: invalid category")
	// ErrInvalidPointValue indicates a point value outside the allowed range.
	ErrInvalidPointValue = errors.New("catalog: invalid point value")
	// ErrMissingPrimaryName indicates the primary-language name is empty after sanitization.
	ErrMissingPrimaryName = errors.New("catalog: primary language name is required")
)

// Category is the closed set of product categories.
type Category string

const (
	// CategoryHealth marks dietary and health products.
	CategoryHealth Category = "health"
	// CategoryCosmetic marks cosmetic products.
	CategoryCosmetic Category = "cosmetic"
)

// ParseCategory validates raw input and returns a Category.
func ParseCategory(raw string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryHealth:
		return CategoryHealth, nil
	case CategoryCosmetic:
		return CategoryCosmetic, nil
	case "":
		return CategoryHealth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
}

// PrimaryLanguage backs the catalog; every product name must be non-empty here.
const PrimaryLanguage = "ja"

// Languages returns the canonical supported language codes in fill-priority
// order. Deployments that predate this list are coerced through
// CoerceLanguage rather than special-cased per call site.
func Languages() []string {
	return []string{"ja", "en", "zh", "ko"}
}

var legacyLanguageAliases = map[string]string{
	"jp":    "ja",
	"jpn":   "ja",
	"kr":    "ko",
	"cn":    "zh",
	"zh-cn": "zh",
	"zh-tw": "zh",
	"en-us": "en",
	"en-gb": "en",
}

// CoerceLanguage folds raw language codes, including legacy aliases and
// region subtags, onto the canonical set. The second return reports whether
// the code is supported at all.
func CoerceLanguage(raw string) (string, bool) {
	code := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := legacyLanguageAliases[code]; ok {
		code = alias
	}
	if base, _, found := strings.Cut(code, "-"); found {
		if alias, ok := legacyLanguageAliases[base]; ok {
			code = alias
		} else {
			code = base
		}
	}
	for _, language := range Languages() {
		if code == language {
			return code, true
		}
	}
	return "", false
}

// LocalizedText maps language codes to translated strings.
type LocalizedText map[string]string

// Clone returns an independent copy of the mapping.
func (t LocalizedText) Clone() LocalizedText {
	if t == nil {
		return LocalizedText{}
	}
	copied := make(LocalizedText, len(t))
	for language, value := range t {
		copied[language] = value
	}
	return copied
}

// CoerceLocalized rewrites the keys of a localized mapping onto the canonical
// language set, dropping unsupported codes. It reports whether anything
// changed so callers can skip redundant writes.
func CoerceLocalized(values LocalizedText) (LocalizedText, bool) {
	coerced := make(LocalizedText, len(values))
	changed := false
	for rawLanguage, value := range values {
		language, ok := CoerceLanguage(rawLanguage)
		if !ok {
			changed = true
			continue
		}
		if language != rawLanguage {
			changed = true
		}
		if existing, present := coerced[language]; !present || existing == "" {
			coerced[language] = value
		}
	}
	return coerced, changed
}

// FillPlaceholders back-fills empty canonical languages from the first
// non-empty language in priority order, so bundled clients never render
// blank text.
func FillPlaceholders(values LocalizedText) LocalizedText {
	filled := values.Clone()
	fallback := ""
	for _, language := range Languages() {
		if filled[language] != "" {
			fallback = filled[language]
			break
		}
	}
	for _, language := range Languages() {
		if filled[language] == "" {
			filled[language] = fallback
		}
	}
	return filled
}

// NewProductID validates raw input as a UUID, or mints a new UUIDv7 when empty.
func NewProductID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		minted, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return minted.String(), nil
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProductID, err)
	}
	return parsed.String(), nil
}

// NewPointValue validates the bounded non-negative point value.
func NewPointValue(value int64) (int64, error) {
	if value < 0 || value > MaxPointValue {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPointValue, value)
	}
	return value, nil
}

// NormalizeTags trims, deduplicates and caps the tag set.
func NormalizeTags(raw []string) []string {
	normalized := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if runes := []rune(trimmed); len(runes) > MaxTagRunes {
			trimmed = string(runes[:MaxTagRunes])
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
		if len(normalized) == MaxTagCount {
			break
		}
	}
	return normalized
}

// Product is the authoritative catalog row.
type Product struct {
	ID          string        `gorm:"column:product_id;primaryKey;size:36;not null"`
	Category    string        `gorm:"column:category;size:32;not null;default:'health'"`
	PointValue  int64         `gorm:"column:point_value;not null;default:0"`
	Name        LocalizedText `gorm:"column:name_i18n;type:text;serializer:json"`
	Description LocalizedText `gorm:"column:description_i18n;type:text;serializer:json"`
	Effects     LocalizedText `gorm:"column:effects_i18n;type:text;serializer:json"`
	SideEffects LocalizedText `gorm:"column:side_effects_i18n;type:text;serializer:json"`
	GoodFor     LocalizedText `gorm:"column:good_for_i18n;type:text;serializer:json"`
	Tags        []string      `gorm:"column:tags;type:text;serializer:json"`
	CreatedAt   time.Time     `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_products_created,sort:desc"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;not null;autoUpdateTime:false;index:idx_products_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Product) TableName() string {
	return "catalog_products"
}
