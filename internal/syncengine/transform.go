package syncengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
)

// fallbackPointModulus bounds the point value derived for products whose
// bundles omit one.
const fallbackPointModulus = 1000

// ErrCorruptBundle indicates the decoded payload does not have the expected
// shape.
var ErrCorruptBundle = errors.New("syncengine: corrupt bundle payload")

// ErrSchemaVersion indicates a schema version this client does not speak.
var ErrSchemaVersion = errors.New("syncengine: unsupported bundle schema version")

// TagValue accepts the two wire shapes tags arrive in: a plain string or a
// small wrapper object ({"label": ...} or {"name": ...}).
type TagValue struct {
	value string
}

// String returns the normalized tag text.
func (t TagValue) String() string {
	return t.value
}

// UnmarshalJSON implements the tagged-union decoding.
func (t *TagValue) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		t.value = strings.TrimSpace(plain)
		return nil
	}

	var wrapper struct {
		Label string `json:"label"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("%w: unsupported tag shape", ErrCorruptBundle)
	}
	if wrapper.Label != "" {
		t.value = strings.TrimSpace(wrapper.Label)
		return nil
	}
	t.value = strings.TrimSpace(wrapper.Name)
	return nil
}

// localizedValue accepts localized text as either a language-keyed map or a
// legacy per-language array of {lang, value} entries.
type localizedValue struct {
	values map[string]string
}

func (l *localizedValue) UnmarshalJSON(data []byte) error {
	var keyed map[string]string
	if err := json.Unmarshal(data, &keyed); err == nil {
		l.values = keyed
		return nil
	}

	var entries []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: unsupported localized text shape", ErrCorruptBundle)
	}
	l.values = make(map[string]string, len(entries))
	for _, entry := range entries {
		value := entry.Value
		if value == "" {
			value = entry.Text
		}
		l.values[entry.Lang] = value
	}
	return nil
}

// toLocalized coerces wire language codes onto the canonical set.
func (l localizedValue) toLocalized() catalog.LocalizedText {
	coerced, _ := catalog.CoerceLocalized(l.values)
	for _, language := range catalog.Languages() {
		if _, ok := coerced[language]; !ok {
			coerced[language] = ""
		}
	}
	return coerced
}

type wireProduct struct {
	ID          string         `json:"id"`
	Category    string         `json:"category"`
	PointValue  *int64         `json:"pointValue"`
	Name        localizedValue `json:"name"`
	Description localizedValue `json:"description"`
	Effects     localizedValue `json:"effects"`
	SideEffects localizedValue `json:"sideEffects"`
	GoodFor     localizedValue `json:"goodFor"`
	Tags        []TagValue     `json:"tags"`
	UpdatedAt   string         `json:"updatedAt"`
}

type wireBundle struct {
	SchemaVersion string            `json:"schemaVersion"`
	BuiltAt       string            `json:"builtAt"`
	Products      []wireProduct     `json:"products"`
	PurchaseLog   []json.RawMessage `json:"purchaseLog"`
}

// transformProduct maps one wire product onto the local row shape.
func transformProduct(wire wireProduct) (LocalProduct, error) {
	if strings.TrimSpace(wire.ID) == "" {
		return LocalProduct{}, fmt.Errorf("%w: product without id", ErrCorruptBundle)
	}

	category, err := catalog.ParseCategory(wire.Category)
	if err != nil {
		category = catalog.CategoryHealth
	}

	pointValue := derivePointValue(wire.PointValue, wire.ID)

	tags := make([]string, 0, len(wire.Tags))
	for _, tag := range wire.Tags {
		if tag.String() != "" {
			tags = append(tags, tag.String())
		}
	}

	return LocalProduct{
		ID:          wire.ID,
		Category:    string(category),
		PointValue:  pointValue,
		Name:        wire.Name.toLocalized(),
		Description: wire.Description.toLocalized(),
		Effects:     wire.Effects.toLocalized(),
		SideEffects: wire.SideEffects.toLocalized(),
		GoodFor:     wire.GoodFor.toLocalized(),
		Tags:        catalog.NormalizeTags(tags),
		UpdatedAt:   wire.UpdatedAt,
	}, nil
}

// derivePointValue falls back to a stable hash of the identifier when the
// bundle omits the value.
func derivePointValue(value *int64, id string) int64 {
	if value != nil && *value >= 0 && *value <= catalog.MaxPointValue {
		return *value
	}
	digest := fnv.New32a()
	digest.Write([]byte(id))
	return int64(digest.Sum32() % fallbackPointModulus)
}
