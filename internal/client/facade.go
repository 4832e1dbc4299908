// Package client implements the Client Facade: the moderation agent's
// typed surface over the AT Protocol repo/report/moderation-event
// endpoints, composed from the Session Manager and the REST Executor.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/littleironwaltz/moderation-agent/internal/metrics"
	"github.com/littleironwaltz/moderation-agent/internal/model"
	"github.com/littleironwaltz/moderation-agent/internal/session"
	"github.com/littleironwaltz/moderation-agent/internal/transport"
)

const (
	repoRefType           = "com.atproto.admin.defs#repoRef"
	modEventLabelType     = "tools.ozone.moderation.defs#modEventLabel"
	modEventAckType       = "tools.ozone.moderation.defs#modEventAcknowledge"
	modEventCommentType   = "tools.ozone.moderation.defs#modEventComment"
	modEventTagType       = "tools.ozone.moderation.defs#modEventTag"
	defaultReasonType     = "com.atproto.moderation.defs#reasonOther"
)

// Facade is the Client Facade. It gates every emission and record write on
// session readiness and (when configured) short-circuits emissions in dry-run
// mode. Read calls (GetRecord, GetProfile, GetProfiles) are not gated.
type Facade struct {
	session  *session.Manager
	rest     *transport.Client
	dryRun   bool
	useToken bool
	logger   *slog.Logger
}

// New constructs a Facade composing the already-wired Session Manager and
// REST Executor. useToken mirrors use_token: whether read calls (getRecord,
// getProfile(s)) attach a bearer token. Writes always authenticate
// regardless of useToken, since the moderation API rejects them otherwise.
func New(s *session.Manager, rest *transport.Client, dryRun, useToken bool, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{session: s, rest: rest, dryRun: dryRun, useToken: useToken, logger: logger}
}

// readBearer returns the bearer mode for read-only calls, honoring
// use_token.
func (f *Facade) readBearer() transport.Bearer {
	if f.useToken {
		return transport.BearerAccess
	}
	return transport.BearerNone
}

// IsReady reports whether the facade is authenticated and may attempt
// calls.
func (f *Facade) IsReady() bool {
	return f.session.IsReady()
}

type repoRef struct {
	Type string `json:"$type"`
	DID  string `json:"did"`
}

func newRepoRef(did string) repoRef {
	return repoRef{Type: repoRefType, DID: did}
}

type emitEventRequest struct {
	Event     interface{} `json:"event"`
	Subject   repoRef     `json:"subject"`
	CreatedBy string      `json:"createdBy"`
}

type modEventLabel struct {
	Type            string   `json:"$type"`
	CreateLabelVals []string `json:"createLabelVals"`
	NegateLabelVals []string `json:"negateLabelVals"`
}

type modEventAcknowledge struct {
	Type    string `json:"$type"`
	Comment string `json:"comment"`
}

type modEventComment struct {
	Type    string `json:"$type"`
	Comment string `json:"comment"`
}

type modEventTag struct {
	Type   string   `json:"$type"`
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

type emitEventResponse struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"createdAt"`
	CreatedBy string `json:"createdBy"`
}

func (r emitEventResponse) toModel() model.EmitResponse {
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	return model.EmitResponse{ID: r.ID, CreatedAt: createdAt, CreatedBy: r.CreatedBy}
}

// Emit dispatches a ModerationEvent to exactly one emitEvent call, picking
// the ozone event variant that matches event.Kind — each emission maps to
// exactly one moderation API call.
func (f *Facade) Emit(ctx context.Context, event model.ModerationEvent) (model.EmitResponse, error) {
	switch event.Kind {
	case model.EventLabel:
		return f.LabelAccount(ctx, event.SubjectDID, event.CreatedBy, event.CreateLabelVals, event.NegateLabelVals)
	case model.EventAcknowledge:
		return f.AcknowledgeSubject(ctx, event.SubjectDID, event.CreatedBy, event.Comment)
	case model.EventComment:
		return f.AddCommentForSubject(ctx, event.SubjectDID, event.CreatedBy, event.Comment)
	case model.EventTag:
		return f.TagReportSubject(ctx, event.SubjectDID, event.CreatedBy, event.AddTags, event.RemoveTags)
	case model.EventReport:
		return f.SendReport(ctx, event)
	default:
		return model.EmitResponse{}, fmt.Errorf("client: unsupported event kind %v", event.Kind)
	}
}

// LabelAccount applies and/or negates labels on subjectDID.
func (f *Facade) LabelAccount(ctx context.Context, subjectDID, createdBy string, create, negate []string) (model.EmitResponse, error) {
	return f.emit(ctx, model.EventLabel, subjectDID, createdBy, modEventLabel{
		Type:            modEventLabelType,
		CreateLabelVals: create,
		NegateLabelVals: negate,
	})
}

// AddCommentForSubject attaches an operator comment to subjectDID without
// any other moderation action.
func (f *Facade) AddCommentForSubject(ctx context.Context, subjectDID, createdBy, comment string) (model.EmitResponse, error) {
	return f.emit(ctx, model.EventComment, subjectDID, createdBy, modEventComment{
		Type:    modEventCommentType,
		Comment: comment,
	})
}

// AcknowledgeSubject marks subjectDID as reviewed with no further action.
func (f *Facade) AcknowledgeSubject(ctx context.Context, subjectDID, createdBy, comment string) (model.EmitResponse, error) {
	return f.emit(ctx, model.EventAcknowledge, subjectDID, createdBy, modEventAcknowledge{
		Type:    modEventAckType,
		Comment: comment,
	})
}

// TagReportSubject adds and/or removes triage tags on subjectDID.
func (f *Facade) TagReportSubject(ctx context.Context, subjectDID, createdBy string, add, remove []string) (model.EmitResponse, error) {
	return f.emit(ctx, model.EventTag, subjectDID, createdBy, modEventTag{
		Type:   modEventTagType,
		Add:    add,
		Remove: remove,
	})
}

func (f *Facade) emit(ctx context.Context, kind model.EventKind, subjectDID, createdBy string, eventBody interface{}) (model.EmitResponse, error) {
	if skip, resp, err := f.gate(ctx, kind); skip {
		return resp, err
	}

	req := emitEventRequest{Event: eventBody, Subject: newRepoRef(subjectDID), CreatedBy: createdBy}
	var resp emitEventResponse
	err := f.rest.Do(ctx, "tools.ozone.moderation.emitEvent", req, &resp, transport.Options{Bearer: transport.BearerAccess, Labeled: true})
	f.countEmission(kind, err)
	if err != nil {
		return model.EmitResponse{}, fmt.Errorf("client: emitEvent: %w", err)
	}
	return resp.toModel(), nil
}

type createReportRequest struct {
	ReasonType string  `json:"reasonType"`
	Reason     string  `json:"reason"`
	Subject    repoRef `json:"subject"`
}

// SendReport files an account-level moderation report, e.g. for a redirect
// chain that exceeded its hop limit.
func (f *Facade) SendReport(ctx context.Context, event model.ModerationEvent) (model.EmitResponse, error) {
	if skip, resp, err := f.gate(ctx, model.EventReport); skip {
		return resp, err
	}

	reasonType := event.ReasonType
	if reasonType == "" {
		reasonType = defaultReasonType
	}
	req := createReportRequest{
		ReasonType: reasonType,
		Reason:     event.Reason,
		Subject:    newRepoRef(event.SubjectDID),
	}
	var resp emitEventResponse
	err := f.rest.Do(ctx, "com.atproto.moderation.createReport", req, &resp, transport.Options{Bearer: transport.BearerAccess})
	f.countEmission(model.EventReport, err)
	if err != nil {
		return model.EmitResponse{}, fmt.Errorf("client: createReport: %w", err)
	}
	return resp.toModel(), nil
}

// gate applies the readiness, refresh, and dry-run short-circuits shared by
// every emission call. skip is true when the caller should return
// immediately with resp/err as given. A refresh is attempted before every
// write, the same as checkReady does for record operations, so a near-expiry
// access token never reaches the wire.
func (f *Facade) gate(ctx context.Context, kind model.EventKind) (skip bool, resp model.EmitResponse, err error) {
	if !f.session.IsReady() {
		f.logger.Warn("client: dropping emission, session not ready", "kind", kind.String())
		metrics.EmissionsTotal.WithLabelValues(kind.String(), "not_ready").Inc()
		return true, model.EmitResponse{}, nil
	}
	if f.dryRun {
		f.logger.Info("client: dry-run, skipping emission", "kind", kind.String())
		metrics.EmissionsTotal.WithLabelValues(kind.String(), "dry_run").Inc()
		return true, model.EmitResponse{}, nil
	}
	if err := f.session.CheckRefresh(ctx); err != nil {
		f.logger.Warn("client: refresh before emission failed", "kind", kind.String(), "err", err)
		metrics.EmissionsTotal.WithLabelValues(kind.String(), "error").Inc()
		return true, model.EmitResponse{}, fmt.Errorf("client: refresh before emission: %w", err)
	}
	return false, model.EmitResponse{}, nil
}

func (f *Facade) countEmission(kind model.EventKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.EmissionsTotal.WithLabelValues(kind.String(), outcome).Inc()
}

type createRecordRequest struct {
	Repo       string      `json:"repo"`
	Collection string      `json:"collection"`
	Rkey       string      `json:"rkey,omitempty"`
	Record     interface{} `json:"record"`
}

type recordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// CreateRecord creates a new record of the given collection in repoDID's
// repository, returning its at:// URI and CID.
func (f *Facade) CreateRecord(ctx context.Context, repoDID, collection string, record interface{}) (uri, cid string, err error) {
	if err := f.checkReady(ctx); err != nil {
		return "", "", err
	}
	req := createRecordRequest{Repo: repoDID, Collection: collection, Record: record}
	var resp recordResponse
	if err := f.rest.Do(ctx, "com.atproto.repo.createRecord", req, &resp, transport.Options{Bearer: transport.BearerAccess}); err != nil {
		return "", "", fmt.Errorf("client: createRecord: %w", err)
	}
	return resp.URI, resp.CID, nil
}

// PutRecord replaces the record at repoDID/collection/rkey.
func (f *Facade) PutRecord(ctx context.Context, repoDID, collection, rkey string, record interface{}) (uri, cid string, err error) {
	if err := f.checkReady(ctx); err != nil {
		return "", "", err
	}
	req := createRecordRequest{Repo: repoDID, Collection: collection, Rkey: rkey, Record: record}
	var resp recordResponse
	if err := f.rest.Do(ctx, "com.atproto.repo.putRecord", req, &resp, transport.Options{Bearer: transport.BearerAccess}); err != nil {
		return "", "", fmt.Errorf("client: putRecord: %w", err)
	}
	return resp.URI, resp.CID, nil
}

// GetRecord fetches one record by repo/collection/rkey and decodes it into
// out.
func (f *Facade) GetRecord(ctx context.Context, repoDID, collection, rkey string, out interface{}) error {
	path := fmt.Sprintf("com.atproto.repo.getRecord?repo=%s&collection=%s&rkey=%s",
		url.QueryEscape(repoDID), url.QueryEscape(collection), url.QueryEscape(rkey))
	if err := f.rest.Do(ctx, path, nil, out, transport.Options{Method: "GET", Bearer: f.readBearer()}); err != nil {
		return fmt.Errorf("client: getRecord: %w", err)
	}
	return nil
}

// Profile is the subset of app.bsky.actor.defs#profileViewDetailed the
// agent needs when evaluating an account.
type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type profilesResponse struct {
	Profiles []Profile `json:"profiles"`
}

// GetProfile fetches a single actor's profile.
func (f *Facade) GetProfile(ctx context.Context, actor string) (Profile, error) {
	path := "app.bsky.actor.getProfile?actor=" + url.QueryEscape(actor)
	var profile Profile
	if err := f.rest.Do(ctx, path, nil, &profile, transport.Options{Method: "GET", Bearer: f.readBearer()}); err != nil {
		return Profile{}, fmt.Errorf("client: getProfile: %w", err)
	}
	return profile, nil
}

// GetProfiles batch-fetches up to 25 actors' profiles in one call.
func (f *Facade) GetProfiles(ctx context.Context, actors []string) ([]Profile, error) {
	q := url.Values{}
	for _, a := range actors {
		q.Add("actors", a)
	}
	path := "app.bsky.actor.getProfiles?" + q.Encode()
	var resp profilesResponse
	if err := f.rest.Do(ctx, path, nil, &resp, transport.Options{Method: "GET", Bearer: f.readBearer()}); err != nil {
		return nil, fmt.Errorf("client: getProfiles: %w", err)
	}
	return resp.Profiles, nil
}

// checkReady gates the repo write operations (CreateRecord, PutRecord) on
// session readiness and refreshes the access token ahead of expiry.
func (f *Facade) checkReady(ctx context.Context) error {
	if !f.session.IsReady() {
		return fmt.Errorf("client: session not ready")
	}
	return f.session.CheckRefresh(ctx)
}
