package pluginmgr

import (
	"context"
	"testing"
)

func TestNewR2ClientRequiresCredentials(t *testing.T) {
	tests := []struct {
		name string
		s    R2Settings
	}{
		{"empty", R2Settings{}},
		{"no secret", R2Settings{AccountID: "acct", AccessKey: "key", Bucket: "plugins"}},
		{"no bucket", R2Settings{AccountID: "acct", AccessKey: "key", SecretKey: "secret"}},
		{"no account or endpoint", R2Settings{AccessKey: "key", SecretKey: "secret", Bucket: "plugins"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewR2Client(context.Background(), tt.s); err == nil {
				t.Error("NewR2Client succeeded without full credentials")
			}
		})
	}
}

func TestNewR2ClientCustomEndpoint(t *testing.T) {
	c, err := NewR2Client(context.Background(), R2Settings{
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "plugins",
		Prefix:    "nightly/",
		Endpoint:  "http://127.0.0.1:9000",
	})
	if err != nil {
		t.Fatalf("NewR2Client: %v", err)
	}
	if c.BucketName != "plugins" || c.Prefix != "nightly/" {
		t.Errorf("client = %+v", c)
	}
	if got := c.Client.Options().BaseEndpoint; got == nil || *got != "http://127.0.0.1:9000" {
		t.Errorf("BaseEndpoint = %v", got)
	}
}
