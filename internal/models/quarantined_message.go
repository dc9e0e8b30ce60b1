package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuarantinedMessage holds an inbound proposal that failed validation. The
// gateway records it and keeps consuming; a cleanup job drops rows past the
// configured retention.
type QuarantinedMessage struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Topic string `gorm:"type:varchar(100);not null;index"`

	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ValidationError string         `gorm:"type:text;not null"`

	ReceivedAt time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (QuarantinedMessage) TableName() string {
	return "quarantined_messages"
}
