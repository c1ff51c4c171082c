// Package callcontext persists per-call context so the process that
// initiates a call and the process that serves its media stream can
// rendezvous on the provider-assigned call SID.
package callcontext

import "time"

// CallContext is one row per initiated call, keyed by the SID Exotel
// assigns at dial time.
type CallContext struct {
	CallSID     string    `gorm:"column:call_sid;primaryKey" json:"call_sid"`
	PhoneNumber string    `gorm:"column:phone_number;not null" json:"phone_number"`
	AppName     string    `gorm:"column:app_name" json:"app_name"`
	Reason      string    `gorm:"column:reason" json:"reason"`
	Language    string    `gorm:"column:language" json:"language"`
	ClientName  string    `gorm:"column:client_name" json:"client_name"`
	IsActive    bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (CallContext) TableName() string {
	return "call_contexts"
}
