package dto

import "time"

// MessageTemplateDTO is one message body of a campaign
type MessageTemplateDTO struct {
	Content  string  `json:"content" validate:"required,min=1,max=4096"`
	MediaURL *string `json:"media_url,omitempty" validate:"omitempty,url"`
}

// RecipientDTO is one audience member of a campaign
type RecipientDTO struct {
	Phone      string            `json:"phone" validate:"required,min=8,max=20"`
	Name       string            `json:"name,omitempty" validate:"omitempty,max=200"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ScheduleRequestDTO configures deferred or day-split delivery
type ScheduleRequestDTO struct {
	StartAt      time.Time `json:"start_at" validate:"required"`
	Mode         *string   `json:"mode,omitempty" validate:"omitempty,oneof=progressive fixed"`
	DailyPercent *int      `json:"daily_percent,omitempty" validate:"omitempty,gte=1,lte=100"`
	SendTimeMode *string   `json:"send_time_mode,omitempty" validate:"omitempty,oneof=same random"`
}

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	AccountUUID     string               `json:"account_uuid" validate:"required,uuid4"`
	Title           string               `json:"title" validate:"required,min=1,max=200"`
	Messages        []MessageTemplateDTO `json:"messages" validate:"required,min=1,max=10,dive"`
	Recipients      []RecipientDTO       `json:"recipients" validate:"required,min=1,dive"`
	RotateMessages  bool                 `json:"rotate_messages"`
	InjectVariation bool                 `json:"inject_variation"`
	MinDelaySeconds *int                 `json:"min_delay_seconds,omitempty" validate:"omitempty,gte=0,lte=3600"`
	MaxDelaySeconds *int                 `json:"max_delay_seconds,omitempty" validate:"omitempty,gte=0,lte=3600"`
	BatchSize       *int                 `json:"batch_size,omitempty" validate:"omitempty,gte=1,lte=10000"`
	CooldownSeconds *int                 `json:"cooldown_seconds,omitempty" validate:"omitempty,gte=0,lte=86400"`
	Schedule        *ScheduleRequestDTO  `json:"schedule,omitempty"`
}

// ScheduleDayDTO is one planned day slice in responses
type ScheduleDayDTO struct {
	Day        int       `json:"day"`
	Date       string    `json:"date"`
	SendAt     time.Time `json:"send_at"`
	Count      int       `json:"count"`
	Percent    float64   `json:"percent"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	TotalSent  int       `json:"total_sent"`
	Remaining  int       `json:"remaining"`
	Status     string    `json:"status"`
}

// CreateCampaignResponse represents the created campaign
type CreateCampaignResponse struct {
	Message      string           `json:"message"`
	UUID         string           `json:"uuid"`
	Status       string           `json:"status"`
	Total        int              `json:"total"`
	ScheduleDays []ScheduleDayDTO `json:"schedule_days,omitempty"`
}

// ControlActionResponse represents the outcome of a start/pause/resume/stop action
type ControlActionResponse struct {
	Message             string     `json:"message"`
	UUID                string     `json:"uuid"`
	Status              string     `json:"status"`
	CurrentIndex        int        `json:"current_index"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// RetryFailedResponse represents an accepted retry pass
type RetryFailedResponse struct {
	Message             string     `json:"message"`
	UUID                string     `json:"uuid"`
	Requeued            int        `json:"requeued"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// FailedRecipientDTO is one failed delivery in campaign detail responses
type FailedRecipientDTO struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// GetCampaignResponse represents campaign details and progress
type GetCampaignResponse struct {
	UUID             string               `json:"uuid"`
	Title            string               `json:"title"`
	Status           string               `json:"status"`
	Total            int                  `json:"total"`
	Sent             int                  `json:"sent"`
	Failed           int                  `json:"failed"`
	Pending          int                  `json:"pending"`
	CurrentIndex     int                  `json:"current_index"`
	Percentage       float64              `json:"percentage"`
	CreatedAt        time.Time            `json:"created_at"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
	ScheduleDays     []ScheduleDayDTO     `json:"schedule_days,omitempty"`
	FailedRecipients []FailedRecipientDTO `json:"failed_recipients,omitempty"`
}

// ListCampaignsFilter represents filter criteria for listing campaigns in request layer
type ListCampaignsFilter struct {
	Title  *string `json:"title,omitempty"`
	Status *string `json:"status,omitempty"`
}

// ListCampaignsRequest represents a paginated list request for an account's campaigns
type ListCampaignsRequest struct {
	AccountUUID string               `json:"account_uuid" validate:"required,uuid4"`
	Page        int                  `json:"page"`
	Limit       int                  `json:"limit"`
	OrderBy     string               `json:"orderby"` // newest, oldest
	Filter      *ListCampaignsFilter `json:"filter,omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// ListCampaignsResponse represents a paginated list of campaigns
type ListCampaignsResponse struct {
	Message    string                `json:"message"`
	Items      []GetCampaignResponse `json:"items"`
	Pagination PaginationInfo        `json:"pagination"`
}
