package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("server.address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Assessment.TechnicalWeight != 70 || cfg.Assessment.PsychometricWeight != 30 {
		t.Errorf("weights = %d/%d, want 70/30", cfg.Assessment.TechnicalWeight, cfg.Assessment.PsychometricWeight)
	}
	if cfg.Proctor.SampleInterval != 3*time.Second {
		t.Errorf("proctor.sample_interval = %v, want 3s", cfg.Proctor.SampleInterval)
	}
	if cfg.Proctor.FaceThrottle != 10*time.Second {
		t.Errorf("proctor.face_throttle = %v, want 10s", cfg.Proctor.FaceThrottle)
	}
	if cfg.Integrity.IngestWorkers != 1 {
		t.Errorf("integrity.ingest_workers = %d, want 1", cfg.Integrity.IngestWorkers)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := []byte("database:\n  driver: memory\n  seed_applications:\n    - job_id: job-1\n      candidate_id: cand-1\nproctor:\n  sink: amqp\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SERVER_ADDRESS", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("database.driver = %q, want memory", cfg.Database.Driver)
	}
	if len(cfg.Database.SeedApplications) != 1 || cfg.Database.SeedApplications[0].CandidateID != "cand-1" {
		t.Errorf("database.seed_applications = %+v", cfg.Database.SeedApplications)
	}
	if cfg.Proctor.Sink != "amqp" {
		t.Errorf("proctor.sink = %q, want amqp", cfg.Proctor.Sink)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("server.address = %q, want :9999 from env", cfg.Server.Address)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database:   DatabaseConfig{Driver: "postgres"},
			Assessment: AssessmentConfig{TechnicalWeight: 70, PsychometricWeight: 30},
			Proctor:    ProctorConfig{Classifier: "mock", Sink: "http"},
			Integrity:  IntegrityConfig{IngestWorkers: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"bad driver", func(c *Config) { c.Database.Driver = "sqlite" }, false},
		{"weights", func(c *Config) { c.Assessment.TechnicalWeight = 80 }, false},
		{"classifier", func(c *Config) { c.Proctor.Classifier = "tf" }, false},
		{"sink", func(c *Config) { c.Proctor.Sink = "ws" }, false},
		{"workers", func(c *Config) { c.Integrity.IngestWorkers = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5433, Name: "db", SSLMode: "disable"}
	want := "postgres://u:p@h:5433/db?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
