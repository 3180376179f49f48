package gcs

import "testing"

func TestSplitURI(t *testing.T) {
	bucket, object, err := splitURI("gs://my-bucket/statements/org-1/jan.csv")
	if err != nil {
		t.Fatalf("splitURI: %v", err)
	}
	if bucket != "my-bucket" || object != "statements/org-1/jan.csv" {
		t.Errorf("got %q/%q", bucket, object)
	}

	if _, _, err := splitURI("http://example.com/x"); err == nil {
		t.Error("non-gs scheme must be rejected")
	}
	if _, _, err := splitURI("gs://bucket-only"); err == nil {
		t.Error("URI without object path must be rejected")
	}
}

func TestFilenameFromURI(t *testing.T) {
	if got := FilenameFromURI("gs://bucket/folder/file.csv"); got != "file.csv" {
		t.Errorf("got %q, want file.csv", got)
	}
	if got := FilenameFromURI("gs://bucket"); got != "bucket" {
		t.Errorf("got %q, want bucket", got)
	}
}
