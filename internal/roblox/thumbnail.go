package roblox

import (
	"encoding/json"

	"rbx-avatar-renderer/internal/apperr"
)

// StatePending marks a thumbnail the upstream has not generated yet.
const StatePending = "Pending"

// ThumbnailEntry is one 3D thumbnail record.
type ThumbnailEntry struct {
	TargetID int64  `json:"targetId"`
	State    string `json:"state"`
	ImageURL string `json:"imageUrl"`
}

// ThumbnailSource tells which shape of payload produced the entry.
type ThumbnailSource int

const (
	SourceNone ThumbnailSource = iota
	SourceList
	SourceObject
)

// ThumbnailResult is the decoded thumbnail payload: either a list whose first
// element is used, or a flat object that is itself the entry.
type ThumbnailResult struct {
	Source ThumbnailSource
	entry  ThumbnailEntry
}

// Entry returns the selected entry, if any.
func (t ThumbnailResult) Entry() (ThumbnailEntry, bool) {
	return t.entry, t.Source != SourceNone
}

type thumbnailPayload struct {
	Data []ThumbnailEntry `json:"data"`
	ThumbnailEntry
}

// ParseThumbnail applies the precedence rule: a non-empty data list yields
// its first element; otherwise the payload itself is the entry when it
// carries an imageUrl (or, with acceptTarget, a targetId).
func ParseThumbnail(raw []byte, acceptTarget bool) (ThumbnailResult, error) {
	var p thumbnailPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ThumbnailResult{}, apperr.Wrap(apperr.BadUpstream, "malformed thumbnail response", err)
	}
	if len(p.Data) > 0 {
		return ThumbnailResult{Source: SourceList, entry: p.Data[0]}, nil
	}
	if p.ImageURL != "" || (acceptTarget && p.TargetID != 0) {
		return ThumbnailResult{Source: SourceObject, entry: p.ThumbnailEntry}, nil
	}
	return ThumbnailResult{Source: SourceNone}, nil
}
