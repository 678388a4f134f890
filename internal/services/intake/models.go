// internal/services/intake/models.go
package intake

import "io"

// Submission is a raw application as received from the public form.
type Submission struct {
	ContentType    string
	Name           string
	Email          string
	WhatsappNumber string
	Bio            *string
	Image          *ImageUpload
}

// ImageUpload is the attached profile picture. Size is the size declared by
// the client; Content is read at most once.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

type validatedSubmission struct {
	name           string
	email          string
	whatsappNumber string
	bio            *string
	profileImage   string
}
