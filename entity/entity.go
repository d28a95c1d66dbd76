// Package entity is the demo domain served by rowstream: a table of
// entities streamed to HTTP clients through both cursor implementations.
package entity

import "fmt"

// Entity is one row of the entities table.
type Entity struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"size:1024"`
}

// TableName pins the table name.
func (Entity) TableName() string { return "entities" }

// Dto is the JSON projection of an Entity.
type Dto struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToDto maps an Entity to its JSON projection.
func ToDto(e Entity) Dto {
	return Dto{ID: e.ID, Name: e.Name, Description: e.Description}
}

// Fixture returns the seeded entity at zero-based index i. Ids start at 1
// while names and descriptions carry the index.
func Fixture(i int64) Entity {
	return Entity{
		ID:          i + 1,
		Name:        fmt.Sprintf("Entity %d", i),
		Description: fmt.Sprintf("Description for Entity %d", i),
	}
}
