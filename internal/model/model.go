// Package model holds the moderation agent's data types: tagged unions
// over embed variants and moderation events, plus the plain records that
// flow between pipeline stages.
package model

import "time"

// EmbedKind tags the variant carried by an EmbedVariant.
type EmbedKind int

const (
	EmbedImage EmbedKind = iota
	EmbedVideo
	EmbedRecord
	EmbedExternal
)

func (k EmbedKind) String() string {
	switch k {
	case EmbedImage:
		return "image"
	case EmbedVideo:
		return "video"
	case EmbedRecord:
		return "record"
	case EmbedExternal:
		return "external"
	default:
		return "unknown"
	}
}

// EmbedVariant is a tagged union: image{cid}, video{cid}, record{uri},
// external{uri}. Only the field matching Kind is populated.
type EmbedVariant struct {
	Kind EmbedKind
	CID  string
	URI  string
}

func NewImageEmbed(cid string) EmbedVariant    { return EmbedVariant{Kind: EmbedImage, CID: cid} }
func NewVideoEmbed(cid string) EmbedVariant    { return EmbedVariant{Kind: EmbedVideo, CID: cid} }
func NewRecordEmbed(uri string) EmbedVariant   { return EmbedVariant{Kind: EmbedRecord, URI: uri} }
func NewExternalEmbed(uri string) EmbedVariant { return EmbedVariant{Kind: EmbedExternal, URI: uri} }

// EmbedInfoList is produced by ingestion and consumed once by the embed
// checker queue: a repo/path pair and its ordered embed variants.
type EmbedInfoList struct {
	RepoDID string
	Path    string
	Embeds  []EmbedVariant
}

// RedirectChain is the per-external-embed scope the redirect follower
// accumulates: the originating URL and every hop observed after it.
type RedirectChain struct {
	Root string
	Hops []string
}

// RedirectOutcome distinctly counts how a redirect chain terminated.
type RedirectOutcome int

const (
	RedirectCompleted RedirectOutcome = iota
	RedirectOverflow
	RedirectError
)

func (o RedirectOutcome) String() string {
	switch o {
	case RedirectCompleted:
		return "completed"
	case RedirectOverflow:
		return "overflow"
	case RedirectError:
		return "error"
	default:
		return "unknown"
	}
}

// MatchResult is one rule-matcher hit against a candidate string.
type MatchResult struct {
	Rule      string
	Candidate string
}

// EventKind tags the variant carried by a ModerationEvent.
type EventKind int

const (
	EventReport EventKind = iota
	EventLabel
	EventAcknowledge
	EventTag
	EventComment
)

func (k EventKind) String() string {
	switch k {
	case EventReport:
		return "report"
	case EventLabel:
		return "label"
	case EventAcknowledge:
		return "acknowledge"
	case EventTag:
		return "tag"
	case EventComment:
		return "comment"
	default:
		return "unknown"
	}
}

// ModerationEvent is a tagged union over the five emission kinds the
// Action Router can submit. Only the fields relevant to Kind are set,
// favoring a flat struct over a type hierarchy.
type ModerationEvent struct {
	Kind       EventKind
	SubjectDID string
	CreatedBy  string

	// report
	ReasonType string
	Reason     string

	// label
	CreateLabelVals []string
	NegateLabelVals []string

	// acknowledge / comment
	Comment string

	// tag
	AddTags    []string
	RemoveTags []string
}

// NewReportEvent builds a report decision for subjectDID.
func NewReportEvent(subjectDID, createdBy, reasonType, reason string) ModerationEvent {
	return ModerationEvent{
		Kind:       EventReport,
		SubjectDID: subjectDID,
		CreatedBy:  createdBy,
		ReasonType: reasonType,
		Reason:     reason,
	}
}

// NewLabelEvent builds a label-application decision for subjectDID.
func NewLabelEvent(subjectDID, createdBy string, create, negate []string) ModerationEvent {
	return ModerationEvent{
		Kind:            EventLabel,
		SubjectDID:      subjectDID,
		CreatedBy:       createdBy,
		CreateLabelVals: create,
		NegateLabelVals: negate,
	}
}

// EmitResponse is the server's acknowledgement of a submitted event; it is
// opaque beyond logging.
type EmitResponse struct {
	CreatedAt time.Time
	ID        int64
	CreatedBy string
}
