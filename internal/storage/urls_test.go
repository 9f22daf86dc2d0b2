package storage

import "testing"

func TestURLMapperRoundTrip(t *testing.T) {
	mapper := NewURLMapper("https://cdn.example.com/storage/v1/object/public/", "portfolio")
	key := "0b9f1d3e-8a44-4c1e-9a53-5f0d3e2c7b11/before_images/dresser front.jpg"

	url := mapper.PublicURL(key)
	want := "https://cdn.example.com/storage/v1/object/public/portfolio/0b9f1d3e-8a44-4c1e-9a53-5f0d3e2c7b11/before_images/dresser%20front.jpg"
	if url != want {
		t.Fatalf("PublicURL() = %q, want %q", url, want)
	}

	got, ok := mapper.ObjectKey(url)
	if !ok || got != key {
		t.Fatalf("ObjectKey() = %q, %v; want %q", got, ok, key)
	}
}

func TestURLMapperRejectsForeignURLs(t *testing.T) {
	mapper := NewURLMapper("https://cdn.example.com", "portfolio")
	for _, raw := range []string{
		"https://elsewhere.example.com/portfolio/a/before_images/x.jpg",
		"https://cdn.example.com/other-bucket/a/before_images/x.jpg",
		"https://cdn.example.com/portfolio/",
		"https://cdn.example.com/portfolio/%zz",
	} {
		if key, ok := mapper.ObjectKey(raw); ok {
			t.Fatalf("expected %q to be rejected, got key %q", raw, key)
		}
	}
}
