package api

import "time"

// Chapter is one entry of a book's chapter listing.
type Chapter struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	BookID    int64     `json:"book_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChapterContent is the text of a chapter. A nil Content means the text is not
// yet available; a nil Summary means no summary has been generated.
type ChapterContent struct {
	ID      int64   `json:"id"`
	Title   string  `json:"title"`
	Content *string `json:"content"`
	Summary *string `json:"summary"`
}

// UploadResult is the service response to a successful upload.
type UploadResult struct {
	Message  string   `json:"message"`
	Filename string   `json:"filename"`
	BookID   int64    `json:"book_id"`
	Chapters []string `json:"chapters"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}
