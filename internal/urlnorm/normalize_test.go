package urlnorm

import "testing"

func TestNormalize_StripsTrackingAndSortsParams(t *testing.T) {
	t.Parallel()

	got := Normalize("https://x.com/p?b=2&a=1&utm_source=x", Options{})
	if got != "https://x.com/p?a=1&b=2" {
		t.Fatalf("unexpected normalized url: %q", got)
	}
}

func TestNormalize_DropsDefaultTrackingKeysCaseInsensitively(t *testing.T) {
	t.Parallel()

	got := Normalize("https://Example.COM:443/news?FBCLID=1&gclid=2&ref_src=tw&UTM_Campaign=z&id=7#top", Options{})
	if got != "https://example.com/news?id=7" {
		t.Fatalf("unexpected normalized url: %q", got)
	}
}

func TestNormalize_DropsEmptyValuesAndSortsByValue(t *testing.T) {
	t.Parallel()

	got := Normalize("https://x.com/?tag=b&empty=&tag=a", Options{})
	if got != "https://x.com/?tag=a&tag=b" {
		t.Fatalf("unexpected normalized url: %q", got)
	}
}

func TestNormalize_KeepFragment(t *testing.T) {
	t.Parallel()

	got := Normalize("https://x.com/app?q=1#/inbox/42", Options{KeepFragment: true})
	if got != "https://x.com/app?q=1#/inbox/42" {
		t.Fatalf("unexpected normalized url: %q", got)
	}

	stripped := Normalize("https://x.com/app#/inbox/42", Options{})
	if stripped != "https://x.com/app" {
		t.Fatalf("expected fragment to be stripped, got %q", stripped)
	}
}

func TestNormalize_ResolvesAgainstBaseURL(t *testing.T) {
	t.Parallel()

	got := Normalize("/docs/page?utm_medium=mail", Options{BaseURL: "https://x.com/root/"})
	if got != "https://x.com/docs/page" {
		t.Fatalf("unexpected normalized url: %q", got)
	}
}

func TestNormalize_CustomIgnoredParams(t *testing.T) {
	t.Parallel()

	got := Normalize("https://x.com/p?session=abc&utm_source=x&v=2", Options{IgnoredParams: []string{"session"}})
	if got != "https://x.com/p?utm_source=x&v=2" {
		t.Fatalf("unexpected normalized url: %q", got)
	}
}

func TestNormalize_KeepsPairsWithSemicolonsOrBadEscapes(t *testing.T) {
	t.Parallel()

	first := Normalize("https://x.com/p?id=1;v=2", Options{})
	second := Normalize("https://x.com/p?id=2;v=2", Options{})
	if first != "https://x.com/p?id=1%3Bv%3D2" {
		t.Fatalf("semicolon pair dropped or mangled: %q", first)
	}
	if first == second {
		t.Fatalf("distinct queries collapsed onto %q", first)
	}

	got := Normalize("https://x.com/p?q=100%&id=7&utm_source=%zz", Options{})
	if got != "https://x.com/p?id=7&q=100%25" {
		t.Fatalf("malformed escape pair dropped or tracking key kept: %q", got)
	}
}

func TestNormalize_FailsOpen(t *testing.T) {
	t.Parallel()

	inputs := []string{"not a url", "http://[::1", "", "/relative/only"}
	for _, input := range inputs {
		if got := Normalize(input, Options{}); got != input {
			t.Fatalf("expected %q to be returned unchanged, got %q", input, got)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://x.com/p?b=2&a=1&utm_source=x",
		"HTTP://Example.com:80",
		"https://x.com/a%20b?q=hello+world&z=%2F",
		"https://x.com/search?q=caf%C3%A9&fbclid=1#frag",
		"http://[2001:db8::1]:8080/x?b=&a=1",
		"https://x.com/p?id=1;v=2&&q=100%",
	}
	for _, input := range inputs {
		once := Normalize(input, Options{})
		twice := Normalize(once, Options{})
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: once=%q twice=%q", input, once, twice)
		}
	}
}

func TestDefaultIgnoredParamsReturnsCopy(t *testing.T) {
	t.Parallel()

	params := DefaultIgnoredParams()
	params[0] = "mutated"
	if DefaultIgnoredParams()[0] != "utm_*" {
		t.Fatalf("expected default ignore set to be unaffected by caller mutation")
	}
}
