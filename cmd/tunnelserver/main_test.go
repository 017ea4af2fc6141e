package main

import (
	"testing"

	"github.com/tunnelcast/tunnelcast/internal/config"
)

func TestAdminPortFlagDefault(t *testing.T) {
	if adminPort == nil {
		t.Fatal("adminPort flag not defined")
	}
	if *adminPort != 0 {
		t.Errorf("expected adminPort default to be 0 (use config), got %d", *adminPort)
	}
}

func TestApplyOverridesLeavesConfigUntouchedWhenFlagsUnset(t *testing.T) {
	cfg := config.DefaultShowConfig()
	want := cfg

	applyOverrides(&cfg)

	if *cfg.NumLayers != *want.NumLayers ||
		*cfg.RenderPort != *want.RenderPort ||
		*cfg.TimesyncPort != *want.TimesyncPort ||
		*cfg.AdminPort != *want.AdminPort {
		t.Errorf("applyOverrides changed config with no flags set: got %+v, want %+v", cfg, want)
	}
}

func TestApplyOverridesSetsNonZeroFlagValues(t *testing.T) {
	originalRenderPort := *renderPort
	defer func() { *renderPort = originalRenderPort }()
	*renderPort = 7000

	cfg := config.DefaultShowConfig()
	applyOverrides(&cfg)

	if *cfg.RenderPort != 7000 {
		t.Errorf("expected RenderPort override to take effect, got %d", *cfg.RenderPort)
	}
}
