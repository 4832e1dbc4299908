package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerWritesLevelAndAttrsAsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewZerologHandler(&buf, slog.LevelInfo))

	logger.Info("session established", "did", "did:plc:agent", "attempt", 1)

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal log line: %v, raw: %s", err, buf.String())
	}
	if doc["message"] != "session established" {
		t.Errorf("expected message field, got %v", doc["message"])
	}
	if doc["did"] != "did:plc:agent" {
		t.Errorf("expected did attr, got %v", doc["did"])
	}
	if doc["level"] != "info" {
		t.Errorf("expected info level, got %v", doc["level"])
	}
}

func TestHandlerSuppressesBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewZerologHandler(&buf, slog.LevelInfo))

	logger.Debug("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected debug line to be suppressed, got %q", buf.String())
	}
}

func TestHandlerWithAttrsPrependsFieldsToEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewZerologHandler(&buf, slog.LevelInfo))
	scoped := base.With("op", "emitEvent")

	scoped.Warn("dropped", "reason", "not_ready")

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if doc["op"] != "emitEvent" {
		t.Errorf("expected op attr carried from With, got %v", doc["op"])
	}
	if doc["reason"] != "not_ready" {
		t.Errorf("expected reason attr, got %v", doc["reason"])
	}
}

func TestHandlerWithGroupPrefixesKeys(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewZerologHandler(&buf, slog.LevelInfo))
	grouped := base.WithGroup("request")

	grouped.Info("served", "path", "/xrpc/com.atproto.repo.getRecord")

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if doc["request.path"] == nil {
		t.Errorf("expected group-prefixed key, got %v", doc)
	}
}

func TestHandlerImplementsSlogHandlerInterface(t *testing.T) {
	var h slog.Handler = NewZerologHandler(&bytes.Buffer{}, slog.LevelInfo)
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("expected warn to be enabled at info threshold")
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be disabled at info threshold")
	}
}
