package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CourseMeta holds the creator-editable descriptive fields of a course.
// Hash fields are opaque content-store references and are never interpreted.
type CourseMeta struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	ThumbnailHash string `json:"thumbnail_hash"`
	ContentHash   string `json:"content_hash"`
	ModuleCount   uint32 `json:"module_count"`
}

// Course represents a priced course listing
type Course struct {
	ID      uint64          `json:"id"`
	Creator Address         `json:"creator"`
	Price   decimal.Decimal `json:"price"`
	CourseMeta
	IsActive      bool            `json:"is_active"`
	TotalSales    uint64          `json:"total_sales"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	EnrolledUsers uint64          `json:"enrolled_users"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with c.
func (c *Course) Clone() *Course {
	cp := *c
	return &cp
}
