// Package index reconciles a declared set of index descriptors against the
// indexes actually present on a collection.
package index

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codetrek/doclife/pkg/model"
)

// Type is the kind of index a descriptor declares.
type Type string

const (
	TypeNormal Type = "normal"
	TypeHash   Type = "hash"
	TypeGeo    Type = "geo"
	TypeText   Type = "text"
)

// IsValid checks if the type is a known index type.
func (t Type) IsValid() bool {
	switch t {
	case TypeNormal, TypeHash, TypeGeo, TypeText:
		return true
	}
	return false
}

// Field is one indexed field. Order is 1 or -1 and only meaningful for
// normal indexes.
type Field struct {
	Name  string `yaml:"name"`
	Order int32  `yaml:"order"`
}

// Descriptor declares a desired index by name and structure.
type Descriptor struct {
	Name               string           `yaml:"name"`
	Type               Type             `yaml:"type"`
	Unique             bool             `yaml:"unique"`
	Fields             []Field          `yaml:"fields"`
	ExpireAfterSeconds *int32           `yaml:"expire_after_seconds"`
	Weights            map[string]int32 `yaml:"weights"`
	DefaultLanguage    string           `yaml:"default_language"`
	LanguageOverride   string           `yaml:"language_override"`
	// PartialFilter is a JSON-encoded partial filter expression.
	PartialFilter string `yaml:"partial_filter"`
}

// Validate checks the descriptor shape before any store call.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return model.NewBadRequest("index name required")
	}
	if !d.Type.IsValid() {
		return model.NewBadRequest("index %q: unknown type %q", d.Name, string(d.Type))
	}
	if len(d.Fields) == 0 {
		return model.NewBadRequest("index %q: at least one field required", d.Name)
	}
	if (d.Type == TypeHash || d.Type == TypeGeo) && len(d.Fields) != 1 {
		return model.NewBadRequest("index %q: %s indexes take exactly one field", d.Name, string(d.Type))
	}
	return nil
}

// keys builds the key specification, dispatching on the index type.
func (d Descriptor) keys() bson.D {
	keys := bson.D{}
	switch d.Type {
	case TypeGeo:
		keys = append(keys, bson.E{Key: d.Fields[0].Name, Value: "2dsphere"})
	case TypeHash:
		keys = append(keys, bson.E{Key: d.Fields[0].Name, Value: "hashed"})
	case TypeText:
		for _, f := range d.Fields {
			keys = append(keys, bson.E{Key: f.Name, Value: "text"})
		}
	default:
		for _, f := range d.Fields {
			order := f.Order
			if order != -1 {
				order = 1
			}
			keys = append(keys, bson.E{Key: f.Name, Value: order})
		}
	}
	return keys
}

// indexModel converts the descriptor into the driver's creation model.
func (d Descriptor) indexModel() (mongo.IndexModel, error) {
	opts := options.Index().SetName(d.Name).SetUnique(d.Unique)
	if d.ExpireAfterSeconds != nil {
		opts.SetExpireAfterSeconds(*d.ExpireAfterSeconds)
	}
	if d.Type == TypeText {
		if len(d.Weights) > 0 {
			opts.SetWeights(weightsDoc(d.Weights))
		}
		if d.DefaultLanguage != "" {
			opts.SetDefaultLanguage(d.DefaultLanguage)
		}
		if d.LanguageOverride != "" {
			opts.SetLanguageOverride(d.LanguageOverride)
		}
	}
	if d.PartialFilter != "" {
		var expr bson.M
		if err := bson.UnmarshalExtJSON([]byte(d.PartialFilter), true, &expr); err != nil {
			return mongo.IndexModel{}, fmt.Errorf("index %q: invalid partial filter: %w", d.Name, err)
		}
		opts.SetPartialFilterExpression(expr)
	}
	return mongo.IndexModel{Keys: d.keys(), Options: opts}, nil
}

func weightsDoc(weights map[string]int32) bson.M {
	doc := make(bson.M, len(weights))
	for field, weight := range weights {
		doc[field] = weight
	}
	return doc
}
