package zerolog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

func TestLogger_ImplementsInterface(t *testing.T) {
	var _ entitlement.Logger = NewLogger(zerolog.Nop())
}

func TestLogger_FieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf))

	logger.Info("unlock granted",
		entitlement.Field{Key: "account_id", Value: "acct1"},
		entitlement.Field{Key: "credits", Value: 5})

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if line["level"] != "info" {
		t.Errorf("Expected info level, got %v", line["level"])
	}
	if line["message"] != "unlock granted" {
		t.Errorf("Expected message, got %v", line["message"])
	}
	if line["account_id"] != "acct1" {
		t.Errorf("Expected account_id field, got %v", line["account_id"])
	}
	if line["credits"] != float64(5) {
		t.Errorf("Expected credits field, got %v", line["credits"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("quiet")
	logger.Info("quiet")
	logger.Warn("loud")
	logger.Error("loud")

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if lines != 2 {
		t.Errorf("Expected 2 lines past the level filter, got %d: %s", lines, buf.String())
	}
}
