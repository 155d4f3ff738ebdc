package service

import (
	"strings"
	"time"

	"Parley/internal/model"
)

// EditWindow is how long after sending a message its author may still edit it.
const EditWindow = 300000 * time.Millisecond

// Media labels used in roster previews.
const (
	previewDocument = "📎 document"
	previewImage    = "📷 image"
	previewVideo    = "📹 video"
)

// Preview derives the roster preview of a message: the text, suffixed by the
// media glyph when an attachment is present, or a canonical media label when
// there is no text.
func Preview(text string, media *model.Media) string {
	text = strings.TrimSpace(text)
	if media == nil {
		return text
	}

	var glyph, label string
	switch media.Kind {
	case model.MediaRaw:
		glyph, label = "📎", previewDocument
	case model.MediaVideo:
		glyph, label = "📹", previewVideo
	case model.MediaImage:
		glyph, label = "📷", previewImage
	default:
		return text
	}

	if text != "" {
		return text + " " + glyph
	}
	return label
}

// CanEdit reports whether viewer may still edit msg: own message, sent no
// more than EditWindow ago, with text.
func CanEdit(msg model.Message, viewer string, now time.Time) bool {
	if viewer == "" || msg.SenderID != viewer {
		return false
	}
	if msg.Text == "" {
		return false
	}
	return now.Sub(msg.CreatedAt) <= EditWindow
}
