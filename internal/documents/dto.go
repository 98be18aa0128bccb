package documents

import (
	"time"

	"cv-adapter/resume/model"
)

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID     string    `json:"documentId"`
	Name           string    `json:"name"`
	Content        model.CV  `json:"content"`
	ContentVersion int       `json:"contentVersion"`
	PendingReview  bool      `json:"pendingReview"`
	SourceVersion  *int      `json:"sourceVersion,omitempty"`
	OptimizeStatus string    `json:"optimizeStatus"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID:     doc.ID,
		Name:           doc.Name,
		Content:        doc.Content,
		ContentVersion: doc.ContentVersion,
		PendingReview:  doc.PendingReview,
		SourceVersion:  doc.SourceVersion,
		OptimizeStatus: doc.OptimizeStatus,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

type createRequest struct {
	Name    string   `json:"name"`
	Content model.CV `json:"content"`
}
