package config

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfigJSONUnmarshaling(t *testing.T) {
	jsonData := `{
		"log_level": "debug",
		"server": {"host": "0.0.0.0", "port": 9090, "rate_limit": {"enabled": true}},
		"ocr": {"backend": "tesseract", "preprocess": {"sharpen": 1.5}},
		"patients": {"archive": {"base_url": "http://pacs.local"}}
	}`

	var cfg Config
	if err := json.Unmarshal([]byte(jsonData), &cfg); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	if cfg.LogLevel != debugLevel || cfg.Server.Port != 9090 || !cfg.Server.RateLimit.Enabled {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.OCR.Backend != BackendTesseract || cfg.OCR.Preprocess.Sharpen != 1.5 {
		t.Errorf("Unexpected ocr config: %+v", cfg.OCR)
	}
	if cfg.Patients.Archive.BaseURL != "http://pacs.local" {
		t.Errorf("Unexpected archive config: %+v", cfg.Patients.Archive)
	}
}

func TestConfigRoundTripYAML(t *testing.T) {
	original := DefaultConfig()
	original.Server.Port = 9191
	original.Store.ArchivePath = "/var/lib/doseocr/jobs.db"
	original.Extract.ReferenceDate = "2024-03-01"

	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("yaml.Marshal() error: %v", err)
	}

	var decoded Config
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("YAML round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

// TestStructTags checks that every field agrees on its key across mapstructure, yaml and json.
func TestStructTags(t *testing.T) {
	var walk func(reflect.Type)
	walk = func(typ reflect.Type) {
		for i := range typ.NumField() {
			f := typ.Field(i)
			ms := f.Tag.Get("mapstructure")
			if ms == "" {
				t.Errorf("%s.%s has no mapstructure tag", typ.Name(), f.Name)
				continue
			}
			if y := f.Tag.Get("yaml"); y != ms {
				t.Errorf("%s.%s yaml tag %q != mapstructure %q", typ.Name(), f.Name, y, ms)
			}
			if j := strings.Split(f.Tag.Get("json"), ",")[0]; j != ms {
				t.Errorf("%s.%s json tag %q != mapstructure %q", typ.Name(), f.Name, j, ms)
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type)
			}
		}
	}
	walk(reflect.TypeOf(Config{}))
}
