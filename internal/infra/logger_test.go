package infra

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerCarriesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{AppEnv: "production", ServiceName: "clipgen", BuildVersion: "1.2.3"})
	Component(logger, "worker").Debug().Msg("hidden")
	Component(logger, "worker").Info().Msg("visible")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "clipgen" || line["version"] != "1.2.3" || line["component"] != "worker" {
		t.Fatalf("unexpected fields %v", line)
	}
	if line["message"] != "visible" {
		t.Fatalf("unexpected message %v", line["message"])
	}
}
