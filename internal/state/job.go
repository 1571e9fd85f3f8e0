// Package state provides filesystem-backed configuration storage.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Job is a named prompt fired on a cron schedule against one session.
type Job struct {
	Name       string `json:"name"`
	Prompt     string `json:"prompt"`
	Schedule   string `json:"schedule"`
	OwnerID    string `json:"owner_id"`
	ContextKey string `json:"context_key"`
	Enabled    bool   `json:"enabled"`
}

// JobStore is a JSON-file-backed store for scheduled jobs.
type JobStore struct {
	path string
	mu   sync.RWMutex
}

// NewJobStore creates a file-backed JobStore at the given file path.
func NewJobStore(path string) *JobStore {
	return &JobStore{path: path}
}

// Path returns the file path used by this store.
func (s *JobStore) Path() string {
	return s.path
}

// List returns all jobs. Returns an empty slice if the file doesn't exist.
func (s *JobStore) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		return []*Job{}, nil
	}
	return jobs, nil
}

// Get finds a job by name. Returns an error if not found.
func (s *JobStore) Get(name string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", name)
}

// Add appends a job. Returns an error if a job with the same name exists.
func (s *JobStore) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("job already exists: %s", job.Name)
		}
	}
	jobs = append(jobs, job)
	return s.save(jobs)
}

// Remove deletes a job by name. Returns an error if not found.
func (s *JobStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for i, job := range jobs {
		if job.Name == name {
			jobs = append(jobs[:i], jobs[i+1:]...)
			return s.save(jobs)
		}
	}
	return fmt.Errorf("job not found: %s", name)
}

// SetEnabled toggles the enabled flag for a job. Returns an error if not
// found.
func (s *JobStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Name == name {
			job.Enabled = enabled
			return s.save(jobs)
		}
	}
	return fmt.Errorf("job not found: %s", name)
}

// load reads the JSON file. Returns nil if the file doesn't exist.
func (s *JobStore) load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("unmarshal jobs: %w", err)
	}
	return jobs, nil
}

// save writes the job list to disk atomically (temp file + rename).
func (s *JobStore) save(jobs []*Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create jobs dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp jobs file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp jobs file: %w", err)
	}
	return nil
}
