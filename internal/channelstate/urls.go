package channelstate

import (
	"net/url"
	"strconv"
	"time"

	"github.com/alexjbarnes/chat-sync/internal/models"
)

// amzDateLayout is the X-Amz-Date timestamp format.
const amzDateLayout = "20060102T150405Z"

// URLValidator reports whether a previously received attachment URL can
// still be used at now.
type URLValidator func(raw string, now time.Time) bool

// ValidURL is the default URLValidator. A URL is valid when it parses as
// an absolute http(s) URL and any signature deadline it carries has not
// passed. Two deadline forms are recognised: Expires=<unix seconds> and
// X-Amz-Date plus X-Amz-Expires=<seconds>.
func ValidURL(raw string, now time.Time) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	q := u.Query()

	if v := q.Get("Expires"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil || !time.Unix(sec, 0).After(now) {
			return false
		}
	}

	if v := q.Get("X-Amz-Expires"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false
		}

		signed, err := time.Parse(amzDateLayout, q.Get("X-Amz-Date"))
		if err != nil {
			return false
		}

		if !signed.Add(time.Duration(sec) * time.Second).After(now) {
			return false
		}
	}

	return true
}

// urlChoice is the outcome of comparing one old/new attachment pair.
type urlChoice int

const (
	chooseNew urlChoice = iota
	chooseOld
)

// chooseAttachment applies the URL preference table to one pair. Rows
// are evaluated in order and the first match wins.
func chooseAttachment(old, incoming *models.Attachment, valid URLValidator, now time.Time) urlChoice {
	// Row 1: nothing to preserve.
	if old.SameURLs(incoming) {
		return chooseNew
	}

	// Row 2: a different logical attachment.
	if !old.SameExceptURLs(incoming) {
		return chooseNew
	}

	// Row 3: no local URL to keep.
	if old.URL() == "" {
		return chooseNew
	}

	// Row 4: the local URL has expired or is malformed.
	if !valid(old.URL(), now) {
		return chooseNew
	}

	// Row 5: same attachment, the known URL still works.
	return chooseOld
}

// mergeAttachments pairs old and incoming by index and keeps each old
// attachment whose URL is still preferable. Lists of different lengths
// are not paired: incoming wins wholesale.
func mergeAttachments(old, incoming []models.Attachment, valid URLValidator, now time.Time) []models.Attachment {
	if len(old) != len(incoming) || len(old) == 0 {
		return incoming
	}

	out := make([]models.Attachment, len(incoming))
	for i := range incoming {
		if chooseAttachment(&old[i], &incoming[i], valid, now) == chooseOld {
			out[i] = old[i].Clone()
			continue
		}

		out[i] = incoming[i]
	}

	return out
}
