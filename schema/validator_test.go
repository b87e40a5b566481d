package pageschema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"horse.fit/pageid/internal/globaltime"
)

func TestValidatePageIdentityPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"canonicalUrl":"https://a.com/story/1",
		"normalizedUrl":"https://a.com/story/1",
		"sourceUrl":"https://a.com/story/1?utm_source=x",
		"contentSignature":"12345678901234567890",
		"layoutSignature":"0xFFEE",
		"layoutTokens":["main","h1","p"],
		"textTokenSample":42,
		"generatedAt":"2026-02-14T10:00:00Z"
	}`)

	identity, err := ValidatePageIdentityPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if identity.NormalizedURL != "https://a.com/story/1" || identity.TextTokenSample != 42 {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !identity.GeneratedAt.Equal(time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected generatedAt: %v", identity.GeneratedAt)
	}
}

func TestValidatePageIdentityPayload_FillsGeneratedAt(t *testing.T) {
	fixed := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)
	globaltime.SetMockTime(fixed)
	defer globaltime.ResetTime()

	identity, err := ValidatePageIdentityPayload(json.RawMessage(`{
		"normalizedUrl":"https://a.com/x",
		"contentSignature":"1",
		"layoutSignature":"2",
		"layoutTokens":[],
		"textTokenSample":0
	}`))
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if !identity.GeneratedAt.Equal(fixed) {
		t.Fatalf("expected generatedAt to default to now, got %v", identity.GeneratedAt)
	}
}

func TestValidatePageIdentityPayload_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing normalizedUrl":  `{"contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":0}`,
		"blank normalizedUrl":    `{"normalizedUrl":" ","contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":0}`,
		"numeric signature":      `{"normalizedUrl":"https://a.com","contentSignature":1,"layoutSignature":"2","layoutTokens":[],"textTokenSample":0}`,
		"signature overflow":     `{"normalizedUrl":"https://a.com","contentSignature":"99999999999999999999","layoutSignature":"2","layoutTokens":[],"textTokenSample":0}`,
		"negative sample":        `{"normalizedUrl":"https://a.com","contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":-1}`,
		"fractional sample":      `{"normalizedUrl":"https://a.com","contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":1.5}`,
		"unknown field":          `{"normalizedUrl":"https://a.com","contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":0,"extra":true}`,
		"blank layout token":     `{"normalizedUrl":"https://a.com","contentSignature":"1","layoutSignature":"2","layoutTokens":["  "],"textTokenSample":0}`,
		"bad generatedAt":        `{"normalizedUrl":"https://a.com","contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":0,"generatedAt":"yesterday"}`,
		"hostless canonical url": `{"canonicalUrl":"https://","normalizedUrl":"https://a.com","contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":0}`,
		"trailing content":       `{"normalizedUrl":"https://a.com","contentSignature":"1","layoutSignature":"2","layoutTokens":[],"textTokenSample":0} {}`,
		"empty":                  `   `,
	}
	for name, raw := range cases {
		if _, err := ValidatePageIdentityPayload(json.RawMessage(raw)); err == nil {
			t.Fatalf("%s: expected validation to fail", name)
		}
	}
}

func TestValidatePageIdentityPayload_OpaqueCanonical(t *testing.T) {
	identity, err := ValidatePageIdentityPayload(json.RawMessage(`{
		"canonicalUrl":"story-1",
		"normalizedUrl":"https://a.com/x",
		"contentSignature":"-1",
		"layoutSignature":"2",
		"layoutTokens":["div"],
		"textTokenSample":3
	}`))
	if err != nil {
		t.Fatalf("data-page-id canonical values should be accepted: %v", err)
	}
	if !strings.EqualFold(identity.CanonicalURL, "story-1") {
		t.Fatalf("unexpected canonical %q", identity.CanonicalURL)
	}
}
