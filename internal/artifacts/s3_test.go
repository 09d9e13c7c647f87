package artifacts

import "testing"

func TestNewS3MirrorValidates(t *testing.T) {
	if _, err := NewS3Mirror(S3Config{Bucket: "renders"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := NewS3Mirror(S3Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
	m, err := NewS3Mirror(S3Config{Endpoint: "localhost:9000", Bucket: "renders", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	if m.Bucket() != "renders" {
		t.Fatalf("bucket = %q, want renders", m.Bucket())
	}
}

func TestObjectKeyAndContentType(t *testing.T) {
	if got := ObjectKey("/2025-11-26/abc/", "output.png"); got != "2025-11-26/abc/output.png" {
		t.Fatalf("ObjectKey = %q", got)
	}
	tests := map[string]string{
		"output.png": "image/png",
		"render.JPG": "image/jpeg",
		"meta.json":  "application/json",
		"mesh.glb":   "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
