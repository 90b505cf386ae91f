package outbox

import "testing"

func TestConfig_ValidateRequiresBucket(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	cfg.Bucket = "my-bucket"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
