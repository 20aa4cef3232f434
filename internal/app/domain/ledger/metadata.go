package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
)

// MetadataVersion is the current metadata schema version.
const MetadataVersion = 1

// Metadata is the versioned, per-kind description of committed content.
// Exactly one variant body is set and it matches Kind.
type Metadata struct {
	Version  int              `json:"version"`
	Kind     ContentType      `json:"kind"`
	Memorial *MemorialPayload `json:"memorial,omitempty"`
	Image    *ImagePayload    `json:"image,omitempty"`
	Cover    *CoverPayload    `json:"cover,omitempty"`
}

// MemorialPayload commits the memorial text itself.
type MemorialPayload struct {
	MemorialID string `json:"memorial_id"`
	Title      string `json:"title,omitempty"`
}

// ImagePayload commits a gallery image whose entry holds a working reference.
type ImagePayload struct {
	MemorialID     string `json:"memorial_id"`
	GalleryEntryID string `json:"gallery_entry_id"`
	WorkingRef     string `json:"working_ref"`
	MimeType       string `json:"mime_type,omitempty"`
}

// CoverPayload commits a memorial cover picture.
type CoverPayload struct {
	MemorialID string `json:"memorial_id"`
	WorkingRef string `json:"working_ref"`
}

// NewMemorialMetadata, NewImageMetadata and NewCoverMetadata build current-version variants.
func NewMemorialMetadata(p MemorialPayload) Metadata {
	return Metadata{Version: MetadataVersion, Kind: ContentMemorial, Memorial: &p}
}

func NewImageMetadata(p ImagePayload) Metadata {
	return Metadata{Version: MetadataVersion, Kind: ContentImage, Image: &p}
}

func NewCoverMetadata(p CoverPayload) Metadata {
	return Metadata{Version: MetadataVersion, Kind: ContentCover, Cover: &p}
}

// Validate checks version, kind and that exactly the matching body is present.
func (m Metadata) Validate() error {
	if m.Version != MetadataVersion {
		return core.NewValidationError("metadata.version", fmt.Sprintf("unsupported version %d", m.Version))
	}
	bodies := 0
	for _, set := range []bool{m.Memorial != nil, m.Image != nil, m.Cover != nil} {
		if set {
			bodies++
		}
	}
	if bodies != 1 {
		return core.NewValidationError("metadata", fmt.Sprintf("expected exactly one payload, got %d", bodies))
	}

	switch m.Kind {
	case ContentMemorial:
		if m.Memorial == nil {
			return core.NewValidationError("metadata.memorial", "missing for kind memorial")
		}
		if strings.TrimSpace(m.Memorial.MemorialID) == "" {
			return core.RequiredError("metadata.memorial.memorial_id")
		}
	case ContentImage:
		if m.Image == nil {
			return core.NewValidationError("metadata.image", "missing for kind image")
		}
		if strings.TrimSpace(m.Image.GalleryEntryID) == "" {
			return core.RequiredError("metadata.image.gallery_entry_id")
		}
		if strings.TrimSpace(m.Image.WorkingRef) == "" {
			return core.RequiredError("metadata.image.working_ref")
		}
	case ContentCover:
		if m.Cover == nil {
			return core.NewValidationError("metadata.cover", "missing for kind cover")
		}
		if strings.TrimSpace(m.Cover.MemorialID) == "" {
			return core.RequiredError("metadata.cover.memorial_id")
		}
		if strings.TrimSpace(m.Cover.WorkingRef) == "" {
			return core.RequiredError("metadata.cover.working_ref")
		}
	default:
		return core.NewValidationError("metadata.kind", fmt.Sprintf("unknown kind %q", m.Kind))
	}
	return nil
}

// ReferenceUpdates lists the external references that must be replaced once
// the transaction carrying this metadata is final.
func (m Metadata) ReferenceUpdates(txID, permanentRef string) []ReferenceUpdate {
	switch {
	case m.Image != nil:
		return []ReferenceUpdate{{
			Kind:          ReferenceGalleryImage,
			TransactionID: txID,
			MemorialID:    m.Image.MemorialID,
			EntryID:       m.Image.GalleryEntryID,
			OldRef:        m.Image.WorkingRef,
			NewRef:        permanentRef,
		}}
	case m.Cover != nil:
		return []ReferenceUpdate{{
			Kind:          ReferenceMemorialCover,
			TransactionID: txID,
			MemorialID:    m.Cover.MemorialID,
			OldRef:        m.Cover.WorkingRef,
			NewRef:        permanentRef,
		}}
	default:
		return nil
	}
}

// EncodeMetadata validates and serialises m.
func EncodeMetadata(m Metadata) (json.RawMessage, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMetadata parses raw strictly: unknown fields, an unsupported version
// or a kind differing from contentType are errors.
func DecodeMetadata(contentType ContentType, raw json.RawMessage) (Metadata, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Metadata{}, core.RequiredError("metadata")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return Metadata{}, core.NewValidationError("metadata", err.Error())
	}
	if m.Kind != contentType {
		return Metadata{}, core.NewValidationError("metadata.kind", fmt.Sprintf("%q does not match content type %q", m.Kind, contentType))
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
