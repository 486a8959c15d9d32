package gormstore

import "time"

// ScheduleEntity is the persisted form of model.ScheduleDefinition.
// Nested blocks are stored as JSON text.
type ScheduleEntity struct {
	ID                  string `gorm:"primaryKey"`
	Name                string
	Description         string
	OwnerID             string `gorm:"index"`
	ConnectionID        string
	SQLText             string
	Parameters          string
	StartTime           time.Time
	EndTime             *time.Time
	Timezone            string
	Recurrence          string
	Notifications       string
	MaxHistoryRetention int
	Active              bool
	LastExecutionAt     *time.Time
	LastExecutionStatus string
	CreatedAt           time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime:false"`
}

func (ScheduleEntity) TableName() string {
	return "qd_schedules"
}

// ExecutionEntity is the persisted form of model.ExecutionRecord.
type ExecutionEntity struct {
	ID                 string `gorm:"primaryKey"`
	ScheduleID         string `gorm:"index:idx_qd_executions_schedule_time,priority:1"`
	ConnectionID       string
	OwnerID            string
	ExecutionTime      time.Time `gorm:"index:idx_qd_executions_schedule_time,priority:2"`
	CompletionTime     *time.Time
	Status             string
	SQLText            string
	Parameters         string
	Results            string
	ResultCount        int
	Error              string
	NotificationSent   bool
	NotificationStatus string
	AlertTriggered     bool
	AlertReason        string
	DurationMs         int64
}

func (ExecutionEntity) TableName() string {
	return "qd_executions"
}

// ConnectionEntity is the persisted form of model.ConnectionConfig.
type ConnectionEntity struct {
	ID                string `gorm:"primaryKey"`
	Name              string
	OwnerID           string `gorm:"index"`
	Host              string
	Port              int
	DatabaseName      string
	UserName          string
	EncryptedPassword string
	SSL               bool      `gorm:"column:use_ssl"`
	CreatedAt         time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime:false"`
}

func (ConnectionEntity) TableName() string {
	return "qd_connections"
}

// SnapshotVersionEntity is one immutable entry of the schema version history.
type SnapshotVersionEntity struct {
	VersionID    string `gorm:"primaryKey"`
	OwnerID      string
	ConnectionID string
	Snapshot     string
	TableCount   int
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
}

func (SnapshotVersionEntity) TableName() string {
	return "qd_schema_versions"
}

// CurrentSnapshotEntity points (owner, connection) at its current version.
type CurrentSnapshotEntity struct {
	OwnerID      string `gorm:"primaryKey"`
	ConnectionID string `gorm:"primaryKey"`
	VersionID    string
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (CurrentSnapshotEntity) TableName() string {
	return "qd_schema_current"
}

// DiffEntity is the stored diff between two consecutive versions.
type DiffEntity struct {
	OldVersionID string `gorm:"primaryKey"`
	NewVersionID string `gorm:"primaryKey"`
	OwnerID      string
	ConnectionID string
	Diff         string
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
}

func (DiffEntity) TableName() string {
	return "qd_schema_diffs"
}

// PreferencesEntity is the persisted form of model.NotificationPreferences.
type PreferencesEntity struct {
	OwnerID               string `gorm:"primaryKey"`
	EmailEnabled          bool
	EmailAddress          string
	PushEnabled           bool
	PushTokens            string
	WebhookURL            string
	ScheduleNotifications bool
	AlertNotifications    bool
	ErrorNotifications    bool
	UpdatedAt             time.Time `gorm:"autoUpdateTime:false"`
}

func (PreferencesEntity) TableName() string {
	return "qd_notification_preferences"
}

// NotificationEntity is the persisted form of model.Notification.
type NotificationEntity struct {
	ID         string `gorm:"primaryKey"`
	OwnerID    string `gorm:"index"`
	Type       string
	Title      string
	Message    string
	Priority   string
	Channels   string
	Recipients string
	Webhook    string
	Data       string
	Outcomes   string
	IsRead     bool
	CreatedAt  time.Time `gorm:"autoCreateTime:false"`
}

func (NotificationEntity) TableName() string {
	return "qd_notifications"
}
