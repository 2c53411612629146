package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Category string

const (
	CategoryWarranty   Category = "warranty"
	CategoryInsurance  Category = "insurance"
	CategoryLease      Category = "lease"
	CategoryEmployment Category = "employment"
	CategoryContract   Category = "contract"
	CategoryOther      Category = "other"
)

// LifecycleStatus is derived from a document's expiration date, never stored.
type LifecycleStatus string

const (
	LifecycleActive   LifecycleStatus = "active"
	LifecycleExpiring LifecycleStatus = "expiring"
	LifecycleExpired  LifecycleStatus = "expired"
)

// ExpiringWindow is how far ahead of the expiration date a document is
// reported as expiring.
const ExpiringWindow = 30 * 24 * time.Hour

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID         string     `bun:"id,pk" json:"id"`
	UserID     string     `bun:"user_id,notnull" json:"userId"`
	Name       string     `bun:"name,notnull" json:"name"`
	Category   Category   `bun:"category,notnull" json:"category"`
	FileKey    string     `bun:"file_key,notnull" json:"fileKey"`
	MimeType   string     `bun:"mime_type,notnull" json:"mimeType"`
	Processed  bool       `bun:"processed,notnull,default:false" json:"processed"`
	Tags       []string   `bun:"tags,array" json:"tags,omitempty"`
	ExpiresAt  *time.Time `bun:"expires_at" json:"expiresAt,omitempty"`
	UploadedAt time.Time  `bun:"uploaded_at,notnull" json:"uploadedAt"`
}

// Lifecycle reports the document's status relative to now.
func (d *Document) Lifecycle(now time.Time) LifecycleStatus {
	if d.ExpiresAt == nil {
		return LifecycleActive
	}
	switch {
	case now.After(*d.ExpiresAt):
		return LifecycleExpired
	case now.Add(ExpiringWindow).After(*d.ExpiresAt):
		return LifecycleExpiring
	default:
		return LifecycleActive
	}
}

// Chunk is a bounded, ordered segment of a document's extracted text.
// Embedding stays nil until a backfill run fills it in; that is a valid,
// queryable state and the only representation of "not yet embedded".
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID         string    `bun:"id,pk" json:"id"`
	DocumentID string    `bun:"document_id,notnull" json:"documentId"`
	Index      int       `bun:"chunk_index,notnull" json:"index"`
	Content    string    `bun:"content,notnull" json:"content"`
	Embedding  []float32 `bun:"embedding,type:vector" json:"-"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"createdAt"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation points at a chunk that grounded an assistant answer.
type Citation struct {
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Similarity float64 `json:"similarity"`
}

type ChatMessage struct {
	bun.BaseModel `bun:"table:chat_messages,alias:m"`

	ID         string     `bun:"id,pk" json:"id"`
	DocumentID string     `bun:"document_id,notnull" json:"documentId"`
	UserID     string     `bun:"user_id,notnull" json:"userId"`
	Role       Role       `bun:"role,notnull" json:"role"`
	Content    string     `bun:"content,notnull" json:"content"`
	Citations  []Citation `bun:"citations,type:jsonb" json:"citations,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"createdAt"`
}

type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCanceling SubscriptionStatus = "canceling"
	SubscriptionCanceled  SubscriptionStatus = "canceled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionTrialing  SubscriptionStatus = "trialing"
)

// Subscription gates ingestion volume per user. External billing lifecycle
// is handled elsewhere; here the tier and limits are plain data.
type Subscription struct {
	bun.BaseModel `bun:"table:subscriptions,alias:s"`

	UserID             string             `bun:"user_id,pk" json:"userId"`
	Tier               Tier               `bun:"tier,notnull" json:"tier"`
	Status             SubscriptionStatus `bun:"status,notnull" json:"status"`
	DocumentLimit      int                `bun:"document_limit,notnull" json:"documentLimit"`
	MonthlyUploadLimit int                `bun:"monthly_upload_limit,notnull" json:"monthlyUploadLimit"`
	DocumentsUsed      int                `bun:"documents_used,notnull" json:"documentsUsed"`
	UploadsThisMonth   int                `bun:"uploads_this_month,notnull" json:"uploadsThisMonth"`
	UploadsResetAt     time.Time          `bun:"uploads_reset_at,notnull" json:"uploadsResetAt"`
	BillingCustomerID  string             `bun:"billing_customer_id" json:"-"`
	BillingSubID       string             `bun:"billing_sub_id" json:"-"`
}
