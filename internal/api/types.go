package api

// APISession is one entry of GET /user/sessions/.
// Documents carry either "id" or the raw store key "_id".
type APISession struct {
	ID                 string `json:"id"`
	StoreID            string `json:"_id"`
	SessionID          string `json:"session_id"`
	PhotoCount         int    `json:"photo_count"`
	MaxPhotos          int    `json:"max_photos"`
	PhotosPerUserLimit int    `json:"photos_per_user_limit"`
	IsActive           *bool  `json:"is_active"` // absent means active
	OwnerID            string `json:"owner_id"`

	// Timestamps (ISO 8601, often without zone)
	CreatedAt string  `json:"created_at"`
	ExpiresAt *string `json:"expires_at"`
}

// APIPhoto is one entry of GET /sessions/{id}/photos.
type APIPhoto struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	URL        string `json:"url"`
	UploadedAt string `json:"uploaded_at"`
}
