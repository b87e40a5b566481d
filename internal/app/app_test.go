package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"horse.fit/pageid/internal/fingerprint"
)

const samplePayload = `{
	"normalizedUrl":"https://a.com/x",
	"contentSignature":"1024",
	"layoutSignature":"2048",
	"layoutTokens":["main","h1","p"],
	"textTokenSample":12
}`

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = previous })
	return &buf
}

func TestCollectJSONFilesRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, "b.txt"), `x`)
	mustWriteFile(t, filepath.Join(root, ".hidden.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.JSON"), `{}`)
	mustWriteFile(t, filepath.Join(root, ".git", "d.json"), `{}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 json files, got %d (%v)", len(files), files)
	}

	files, err = collectJSONFiles(root, false)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 top-level json file, got %d (%v)", len(files), files)
	}

	if _, err := collectJSONFiles(filepath.Join(root, "a.json"), true); err == nil {
		t.Fatalf("expected error for a file root")
	}
}

func TestValidatePayloadFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "ok.json"), samplePayload)
	mustWriteFile(t, filepath.Join(root, "broken.json"), `{"normalizedUrl":`)
	mustWriteFile(t, filepath.Join(root, "missing.json"), `{"normalizedUrl":"https://a.com"}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	result := validatePayloadFiles(files)
	if result.Scanned != 3 || result.Valid != 1 || result.Invalid != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestComparePayloadFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	subject := filepath.Join(root, "subject.json")
	candidate := filepath.Join(root, "candidate.json")
	mustWriteFile(t, subject, samplePayload)
	mustWriteFile(t, candidate, strings.Replace(samplePayload, `"1024"`, `"1025"`, 1))

	out, err := comparePayloadFiles(subject, candidate, fingerprint.CompareOptions{})
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if !out.Comparison.IsMatch || out.Comparison.ContentDistance != 1 {
		t.Fatalf("unexpected comparison: %+v", out.Comparison)
	}

	if _, err := comparePayloadFiles(subject, filepath.Join(root, "absent.json"), fingerprint.CompareOptions{}); err == nil {
		t.Fatalf("expected error for missing candidate")
	}
}

func TestRunCaptureFromFile(t *testing.T) {
	out := captureStdout(t)
	t.Setenv("LOG_LEVEL", "error")

	page := filepath.Join(t.TempDir(), "page.html")
	mustWriteFile(t, page, `<!doctype html><html><head>
		<link rel="canonical" href="/story/9?utm_source=x">
	</head><body><main><h1>Quarterly results announced</h1><p>Revenue grew across every region.</p></main></body></html>`)

	code := Run([]string{"capture", "--env", filepath.Join(t.TempDir(), "none.env"), "--file", page, "--source-url", "https://a.com/story/9?ref=home"})
	if code != 0 {
		t.Fatalf("capture exited %d", code)
	}

	var identity fingerprint.PageIdentity
	if err := json.Unmarshal(out.Bytes(), &identity); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out.String())
	}
	if identity.CanonicalURL != "https://a.com/story/9?utm_source=x" || identity.NormalizedURL != "https://a.com/story/9" {
		t.Fatalf("unexpected urls: %+v", identity)
	}
	if identity.TextTokenSample == 0 || len(identity.LayoutTokens) != 2 {
		t.Fatalf("unexpected sample: %+v", identity)
	}
}

func TestRunRejectsBadUsage(t *testing.T) {
	if code := Run(nil); code != 2 {
		t.Fatalf("no args should exit 2, got %d", code)
	}
	if code := Run([]string{"bogus"}); code != 2 {
		t.Fatalf("unknown command should exit 2, got %d", code)
	}
	if code := Run([]string{"capture"}); code != 2 {
		t.Fatalf("capture without input should exit 2, got %d", code)
	}
	if code := Run([]string{"capture", "--file", "x.html", "--render"}); code != 2 {
		t.Fatalf("--render without --url should exit 2, got %d", code)
	}
}
