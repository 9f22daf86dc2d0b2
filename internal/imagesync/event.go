package imagesync

import (
	"errors"
	"path"
	"regexp"
	"strings"
)

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"

	FolderBefore = "before_images"
	FolderAfter  = "after_images"
)

var ErrInvalidEvent = errors.New("invalid storage event")

// Event is the storage change notification posted by the object store.
type Event struct {
	Type      string        `json:"type"`
	Table     string        `json:"table"`
	Schema    string        `json:"schema,omitempty"`
	Record    *ObjectRecord `json:"record"`
	OldRecord *ObjectRecord `json:"old_record"`
}

type ObjectRecord struct {
	Name     string `json:"name"`
	BucketID string `json:"bucket_id"`
}

// Object returns the record describing the changed object. Deletions carry
// it in old_record.
func (e Event) Object() *ObjectRecord {
	if e.Record != nil && e.Record.Name != "" {
		return e.Record
	}
	if e.OldRecord != nil && e.OldRecord.Name != "" {
		return e.OldRecord
	}
	return nil
}

func (e Event) validate() error {
	switch strings.ToUpper(e.Type) {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return errors.Join(ErrInvalidEvent, errors.New("unsupported event type "+e.Type))
	}
	if e.Object() == nil {
		return errors.Join(ErrInvalidEvent, errors.New("event has no object record"))
	}
	return nil
}

var objectPathPattern = regexp.MustCompile(`^([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})/(before_images|after_images)/(.+)$`)

// ObjectPath is a parsed `{portfolioId}/{folder}/{file}` key.
type ObjectPath struct {
	PortfolioID string
	Folder      string
	Key         string
}

func ParseObjectPath(key string) (ObjectPath, bool) {
	match := objectPathPattern.FindStringSubmatch(key)
	if match == nil {
		return ObjectPath{}, false
	}
	return ObjectPath{PortfolioID: match[1], Folder: match[2], Key: key}, true
}

func FolderPrefix(portfolioID, folder string) string {
	return portfolioID + "/" + folder + "/"
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".avif": {},
}

func IsImageKey(key string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(key))]
	return ok
}
