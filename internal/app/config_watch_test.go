package app

import (
	"testing"
)

func TestConfigAsUpdateKeepsExistingAPIKey(t *testing.T) {
	base := DefaultConfig()
	base.APIKey = "from-env"

	// A reloaded file with no key leaves the stored key alone.
	loaded := DefaultConfig()
	got := base.applied(configAsUpdate(loaded))
	if got.APIKey != "from-env" {
		t.Errorf("Empty file key clobbered the stored key: %q", got.APIKey)
	}

	// An explicit file key still wins.
	loaded.APIKey = "from-file"
	got = base.applied(configAsUpdate(loaded))
	if got.APIKey != "from-file" {
		t.Errorf("Expected the file key to apply, got %q", got.APIKey)
	}
}

func TestConfigAsUpdateCarriesEveryOtherField(t *testing.T) {
	loaded := DefaultConfig()
	loaded.DefaultModel = "llama3.2:3b"
	loaded.ConfidenceThreshold = 0.65
	loaded.HistoryLimit = 50

	got := DefaultConfig().applied(configAsUpdate(loaded))
	if got.DefaultModel != "llama3.2:3b" {
		t.Errorf("Expected reloaded model, got %q", got.DefaultModel)
	}
	if got.ConfidenceThreshold != 0.65 {
		t.Errorf("Expected reloaded threshold, got %v", got.ConfidenceThreshold)
	}
	if got.HistoryLimit != 50 {
		t.Errorf("Expected reloaded history limit, got %d", got.HistoryLimit)
	}
}
