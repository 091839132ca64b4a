package studio

import (
	"context"
	"os"
)

// Health reports whether the data directories exist and the database
// answers.
type Health struct {
	OK            bool   `json:"ok"`
	ConfigPath    string `json:"configPath"`
	DataDir       string `json:"dataDir"`
	UploadsDir    bool   `json:"uploadsDir"`
	OutputsDir    bool   `json:"outputsDir"`
	Database      bool   `json:"database"`
	DatabaseError string `json:"databaseError,omitempty"`
}

func dirExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// Health checks the data directories and pings the database.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		ConfigPath: s.configPath,
		DataDir:    s.cfg.DataDir,
		UploadsDir: dirExists(s.cfg.UploadsDir()),
		OutputsDir: dirExists(s.cfg.OutputsDir()),
	}
	if err := s.store.Ping(ctx); err != nil {
		h.DatabaseError = err.Error()
	} else {
		h.Database = true
	}
	h.OK = h.UploadsDir && h.OutputsDir && h.Database
	return h
}
