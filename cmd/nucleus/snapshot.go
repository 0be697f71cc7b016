package main

import (
	"fmt"
	"os"

	"github.com/zeusync/nucleus/internal/core/ecs"
)

func saveSnapshot(m *ecs.Manager, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := m.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func loadSnapshot(m *ecs.Manager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return m.Load(f)
}
