// internal/services/intake/validation.go
package intake

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"

	apperrors "leader-intake/internal/common/errors"
)

const multipartFormData = "multipart/form-data"

// image/jpg is not a registered type but browsers and older clients send it.
var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
}

// validate checks a submission in a fixed order and stops at the first
// failure. The image is read and encoded here so that its real size is known
// before any slot is touched.
func validate(sub *Submission, maxImageBytes int64) (*validatedSubmission, error) {
	if sub == nil {
		return nil, apperrors.NewUnsupportedMediaTypeError("")
	}

	mediaType, _, err := mime.ParseMediaType(sub.ContentType)
	if err != nil || !strings.EqualFold(mediaType, multipartFormData) {
		return nil, apperrors.NewUnsupportedMediaTypeError(sub.ContentType)
	}

	name := strings.TrimSpace(sub.Name)
	if name == "" {
		return nil, apperrors.NewMissingNameError()
	}
	email := strings.ToLower(strings.TrimSpace(sub.Email))
	if email == "" {
		return nil, apperrors.NewMissingEmailError()
	}
	whatsapp := strings.TrimSpace(sub.WhatsappNumber)
	if whatsapp == "" {
		return nil, apperrors.NewMissingWhatsappError()
	}

	if sub.Image == nil || sub.Image.Content == nil {
		return nil, apperrors.NewMissingImageError()
	}

	imageType, err := normalizeImageType(sub.Image.ContentType)
	if err != nil {
		return nil, err
	}

	if sub.Image.Size > maxImageBytes {
		return nil, apperrors.NewImageTooLargeError(sub.Image.Size, maxImageBytes)
	}

	dataURL, err := encodeImage(sub.Image.Content, imageType, maxImageBytes)
	if err != nil {
		return nil, err
	}

	var bio *string
	if sub.Bio != nil {
		if trimmed := strings.TrimSpace(*sub.Bio); trimmed != "" {
			bio = &trimmed
		}
	}

	return &validatedSubmission{
		name:           name,
		email:          email,
		whatsappNumber: whatsapp,
		bio:            bio,
		profileImage:   dataURL,
	}, nil
}

func normalizeImageType(declared string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", apperrors.NewInvalidImageTypeError(declared)
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := allowedImageTypes[mediaType]; !ok {
		return "", apperrors.NewInvalidImageTypeError(mediaType)
	}
	return mediaType, nil
}

// encodeImage reads at most limit+1 bytes so an understated declared size
// cannot push an oversized blob into storage.
func encodeImage(r io.Reader, mediaType string, limit int64) (string, error) {
	content, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", apperrors.NewValidationError("profileImage").WithMetadata("readError", err.Error())
	}
	if int64(len(content)) > limit {
		return "", apperrors.NewImageTooLargeError(int64(len(content)), limit)
	}
	if len(content) == 0 {
		return "", apperrors.NewMissingImageError()
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(content)), nil
}
