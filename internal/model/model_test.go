package model

import "testing"

func TestEmbedConstructors(t *testing.T) {
	img := NewImageEmbed("cid-1")
	if img.Kind != EmbedImage || img.CID != "cid-1" {
		t.Errorf("unexpected image embed: %+v", img)
	}

	vid := NewVideoEmbed("cid-2")
	if vid.Kind != EmbedVideo || vid.CID != "cid-2" {
		t.Errorf("unexpected video embed: %+v", vid)
	}

	rec := NewRecordEmbed("at://did:plc:x/app.bsky.feed.post/abc")
	if rec.Kind != EmbedRecord || rec.URI == "" {
		t.Errorf("unexpected record embed: %+v", rec)
	}

	ext := NewExternalEmbed("https://example.com")
	if ext.Kind != EmbedExternal || ext.URI != "https://example.com" {
		t.Errorf("unexpected external embed: %+v", ext)
	}
}

func TestEmbedKindString(t *testing.T) {
	cases := map[EmbedKind]string{
		EmbedImage:    "image",
		EmbedVideo:    "video",
		EmbedRecord:   "record",
		EmbedExternal: "external",
		EmbedKind(99): "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("EmbedKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestRedirectOutcomeString(t *testing.T) {
	cases := map[RedirectOutcome]string{
		RedirectCompleted:   "completed",
		RedirectOverflow:    "overflow",
		RedirectError:       "error",
		RedirectOutcome(99): "unknown",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("RedirectOutcome(%d).String() = %q, want %q", outcome, got, want)
		}
	}
}

func TestNewReportEvent(t *testing.T) {
	ev := NewReportEvent("did:plc:subject", "did:plc:operator", "com.atproto.moderation.defs#reasonSpam", "redirect chain overflow")
	if ev.Kind != EventReport {
		t.Errorf("expected EventReport, got %v", ev.Kind)
	}
	if ev.SubjectDID != "did:plc:subject" || ev.CreatedBy != "did:plc:operator" {
		t.Errorf("unexpected event subject/creator: %+v", ev)
	}
}

func TestNewLabelEvent(t *testing.T) {
	ev := NewLabelEvent("did:plc:subject", "did:plc:operator", []string{"spam"}, nil)
	if ev.Kind != EventLabel {
		t.Errorf("expected EventLabel, got %v", ev.Kind)
	}
	if len(ev.CreateLabelVals) != 1 || ev.CreateLabelVals[0] != "spam" {
		t.Errorf("unexpected label values: %+v", ev.CreateLabelVals)
	}
}
