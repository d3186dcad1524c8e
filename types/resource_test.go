package types

import (
	"testing"
	"time"
)

func TestProviderConfig_MergeOver(t *testing.T) {
	defaults := ProviderConfig{
		BaseEndpoint:   "https://api.e2b.app",
		Template:       "base",
		RequestTimeout: 30 * time.Second,
		MaxConcurrent:  10,
		Extras:         map[string]string{"role_arn": "arn:aws:iam::1:role/x", "tier": "standard"},
	}

	merged := ProviderConfig{
		APIKey:   "k",
		Template: "gpu-base",
		Extras:   map[string]string{"tier": "pro"},
	}.MergeOver(defaults)

	if merged.APIKey != "k" {
		t.Errorf("APIKey = %q", merged.APIKey)
	}
	if merged.Template != "gpu-base" {
		t.Errorf("Template = %q, caller value must win", merged.Template)
	}
	if merged.BaseEndpoint != "https://api.e2b.app" {
		t.Errorf("BaseEndpoint = %q, default must fill", merged.BaseEndpoint)
	}
	if merged.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", merged.RequestTimeout)
	}
	if merged.Extras["tier"] != "pro" {
		t.Errorf("Extras[tier] = %q, caller value must win", merged.Extras["tier"])
	}
	if merged.Extras["role_arn"] != "arn:aws:iam::1:role/x" {
		t.Errorf("Extras[role_arn] = %q, default must carry over", merged.Extras["role_arn"])
	}
}

func TestProviderConfig_ResolveAPIKey(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
		want string
	}{
		{"explicit key wins", ProviderConfig{APIKey: "a", Credentials: Credentials{APIKey: "b"}}, "a"},
		{"credentials fallback", ProviderConfig{Credentials: Credentials{APIKey: "b"}}, "b"},
		{"empty when neither set", ProviderConfig{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolveAPIKey(); got != tt.want {
				t.Errorf("ResolveAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResource_View_OmitsConfig(t *testing.T) {
	r := Resource{
		ID:       "sbx-1",
		Type:     ResourceSandbox,
		Provider: "e2b",
		Status:   StatusReady,
		Config:   ProviderConfig{APIKey: "secret"},
		Metadata: map[string]string{"owner": "ci"},
	}

	view := r.View()
	if view.ID != "sbx-1" || view.Status != StatusReady {
		t.Errorf("view = %+v", view)
	}
	// The view must be a copy: mutating it cannot touch the resource.
	view.Metadata["owner"] = "other"
	if r.Metadata["owner"] != "ci" {
		t.Error("view metadata aliases resource metadata")
	}
}

func TestResource_Matches(t *testing.T) {
	r := Resource{ID: "sbx-1", Type: ResourceSandbox, Provider: "e2b", Status: StatusReady}

	tests := []struct {
		name   string
		filter ResourceFilter
		want   bool
	}{
		{"empty filter matches", ResourceFilter{}, true},
		{"type match", ResourceFilter{Type: ResourceSandbox}, true},
		{"type mismatch", ResourceFilter{Type: ResourceFunction}, false},
		{"provider match", ResourceFilter{Provider: "e2b"}, true},
		{"provider mismatch", ResourceFilter{Provider: "lambda"}, false},
		{"id in list", ResourceFilter{IDs: []string{"other", "sbx-1"}}, true},
		{"id not in list", ResourceFilter{IDs: []string{"other"}}, false},
		{"status mismatch", ResourceFilter{Status: StatusTerminated}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Matches(tt.filter); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
