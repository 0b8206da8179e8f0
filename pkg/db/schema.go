package db

import (
	"time"
)

// Record is a requested DNS record. Every row is active: deleted records are removed.
type Record struct {
	ID        uint      `gorm:"primarykey"`
	OwnerID   string    `gorm:"column:userid;not null;index"`
	Name      string    `gorm:"column:record_name;not null;uniqueIndex"`
	Type      string    `gorm:"column:record_type;not null"`
	Content   string    `gorm:"column:content;not null"`
	Approved  bool      `gorm:"column:approved;not null;default:false;index"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

func (Record) TableName() string {
	return "records"
}

type AuditEntry struct {
	ID         uint   `gorm:"primarykey"`
	Actor      string `gorm:"index"`
	Action     string `gorm:"index"`
	RecordName string
	RecordType string
	Content    string
	Detail     string `gorm:"type:text"`
	CreatedAt  time.Time
}
