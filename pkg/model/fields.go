package model

// Field names managed exclusively by the engine. Write payloads and update
// commands that touch them are rejected before any store call.
const (
	FieldCreatorID = "creatorId"
	FieldCreatedAt = "createdAt"
	FieldUpdaterID = "updaterId"
	FieldUpdatedAt = "updatedAt"
	FieldState     = "__STATE__"
	FieldID        = "_id"
)

// StandardFields lists the four audit fields, exported for validation layers
// above the engine.
var StandardFields = []string{
	FieldCreatorID,
	FieldCreatedAt,
	FieldUpdaterID,
	FieldUpdatedAt,
}

// IsStandardField reports whether name is one of the four audit fields.
func IsStandardField(name string) bool {
	for _, f := range StandardFields {
		if f == name {
			return true
		}
	}
	return false
}
