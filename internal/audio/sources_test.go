package audio

import (
	"errors"
	"strings"
	"testing"
)

var mockSources = []SourceInfo{
	{ID: "alsa_input.usb-Focusrite_Scarlett_Solo", Name: "Scarlett Solo"},
	{ID: "bluez_input.AirPods", Name: "AirPods Pro", Bluetooth: true},
	{ID: "alsa_input.pci-0000_00_1f.3.analog-stereo", Name: "Built-in Audio"},
	{ID: "alsa_input.pci-0000_00_1f.3.analog-stereo.2", Name: "Built-in Audio"},
}

func TestValidateSource_Success(t *testing.T) {
	err := ValidateSource("alsa_input.usb-Focusrite_Scarlett_Solo", mockSources)
	if err != nil {
		t.Errorf("Expected no error for valid single source, got: %v", err)
	}
}

func TestValidateSource_ByName(t *testing.T) {
	src, err := ResolveSource("scarlett solo", mockSources)
	if err != nil {
		t.Fatalf("Expected name lookup to succeed, got: %v", err)
	}
	if src.ID != "alsa_input.usb-Focusrite_Scarlett_Solo" {
		t.Errorf("Expected Scarlett ID, got %s", src.ID)
	}
}

func TestValidateSource_NotFound(t *testing.T) {
	err := ValidateSource("nonexistent", mockSources)
	if err == nil {
		t.Fatal("Expected error for nonexistent source")
	}
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got: %v", err)
	}
	if !strings.Contains(err.Error(), "source not found") {
		t.Errorf("Expected 'source not found' error, got: %v", err)
	}
}

func TestValidateSource_DuplicateNames(t *testing.T) {
	err := ValidateSource("Built-in Audio", mockSources)
	if err == nil {
		t.Fatal("Expected error for ambiguous source name")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}

	// The ID of either duplicate is still unambiguous.
	if err := ValidateSource("alsa_input.pci-0000_00_1f.3.analog-stereo.2", mockSources); err != nil {
		t.Errorf("Expected ID lookup to succeed, got: %v", err)
	}
}

func TestValidateSource_EmptyAndDefault(t *testing.T) {
	if err := ValidateSource("", nil); err != nil {
		t.Errorf("Expected no error for empty string, got: %v", err)
	}
	src, err := ResolveSource("default", nil)
	if err != nil || src != nil {
		t.Errorf("Expected default to resolve to nil, got %v, %v", src, err)
	}
}

func TestIsBluetooth(t *testing.T) {
	tests := map[string]bool{
		"AirPods Pro":                 true,
		"bluez_input.00_1B_66":        true,
		"Jabra Evolve2 65":            true,
		"Scarlett Solo USB":           false,
		"Built-in Microphone":         false,
		"Sony WH-1000XM4 (Bluetooth)": true,
	}
	for name, want := range tests {
		if got := IsBluetooth(name); got != want {
			t.Errorf("IsBluetooth(%q) = %v, expected %v", name, got, want)
		}
	}
}

func TestClassifyOpenError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Access denied.", ErrPermissionDenied},
		{"Operation not permitted", ErrPermissionDenied},
		{"microphone permission refused", ErrPermissionDenied},
		{"No such device.", ErrDeviceUnavailable},
		{"Failed to initialize backend.", ErrDeviceUnavailable},
		{"Device type not supported.", ErrDeviceUnavailable},
		{"Device busy", ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		err := classifyOpenError(errors.New(tt.msg))
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyOpenError(%q): Expected %v, got %v", tt.msg, tt.want, err)
		}
		if !strings.Contains(err.Error(), tt.msg) {
			t.Errorf("classifyOpenError(%q): Expected original message kept, got %v", tt.msg, err)
		}
	}
}
