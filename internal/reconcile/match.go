package reconcile

import (
	"time"

	"github.com/declanhiggins/echobridge/internal/chatdb"
)

// Matches reports whether row can be the observable result of exp.
// tolerance is how far before the send's start the row may be stamped
// and still count; it absorbs clock skew between this process and the
// store while rejecting rows that clearly predate the send.
//
// The check is pure: no state, no I/O. Callers own the one-shot
// resolution on top of it.
func Matches(exp *Expectation, row *chatdb.Message, tolerance time.Duration) bool {
	if !row.FromMe {
		return false
	}
	if row.Time.Before(exp.CreatedAt.Add(-tolerance)) {
		return false
	}
	if NormalizeTarget(row.ChatKey) != exp.TargetKey {
		return false
	}

	if exp.IsAttachment {
		return matchesAttachment(exp, row)
	}
	return NormalizeText(row.Text) == exp.ContentKey
}

func matchesAttachment(exp *Expectation, row *chatdb.Message) bool {
	if !row.HasAttachments() {
		return false
	}
	if exp.AttachmentKey == "" {
		return true
	}
	for _, att := range row.Attachments {
		if NormalizeAttachmentName(att.BaseName()) == exp.AttachmentKey {
			return true
		}
	}
	return false
}
