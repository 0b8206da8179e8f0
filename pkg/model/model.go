package model

import (
	"strings"
	"time"
)

const (
	RecordTypeA     = "A"
	RecordTypeAAAA  = "AAAA"
	RecordTypeCname = "CNAME"
	RecordTypeNS    = "NS"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

func IsValidRecordType(rt string) error {
	switch NormalizeType(rt) {
	case RecordTypeA, RecordTypeAAAA, RecordTypeCname, RecordTypeNS:
		return nil
	}

	return &ValidationError{Reason: "unsupported type"}
}

func NormalizeType(rt string) string {
	return strings.ToUpper(strings.TrimSpace(rt))
}

func NormalizeContent(content string) string {
	return strings.TrimSpace(content)
}

type RecordRequest struct {
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
}

type RecordResponse struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	FQDN      string    `json:"fqdn"`
	Owner     string    `json:"owner"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type RecordPage struct {
	Page    int              `json:"page"`
	Pages   int              `json:"pages"`
	Total   int              `json:"total"`
	Records []RecordResponse `json:"records"`
}

type SweepResponse struct {
	Count   int              `json:"count"`
	Cutoff  time.Time        `json:"cutoff"`
	Deleted []RecordResponse `json:"deleted"`
}

type ReminderResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

type AuditResponse struct {
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	RecordName string    `json:"recordName,omitempty"`
	RecordType string    `json:"recordType,omitempty"`
	Content    string    `json:"content,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AuditPage struct {
	Page    int             `json:"page"`
	Entries []AuditResponse `json:"entries"`
}

type ErrorResponse struct {
	Status  int         `json:"status,omitempty"`
	Message string      `json:"msg,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
