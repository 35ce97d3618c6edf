package models

import (
	"time"

	"github.com/google/uuid"
)

type EntityKind string

const (
	EntityKindFund          EntityKind = "fund"
	EntityKindTender        EntityKind = "tender"
	EntityKindKnowledgeBase EntityKind = "knowledge_base"
)

// Entity is owned by the surrounding application; the pipeline only writes Ready and IndexName.
type Entity struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Name      string     `gorm:"type:text;not null" json:"name"`
	Kind      EntityKind `gorm:"type:text;not null" json:"kind"`
	Ready     bool       `gorm:"not null;default:false" json:"ready"`
	IndexName *string    `gorm:"type:text" json:"index_name,omitempty"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Entity) TableName() string {
	return "entities"
}
