package storage

import "database/sql"

// Repositories bundles every repository the server needs
type Repositories struct {
	Theories     TheoryRepository
	Users        UserRepository
	Logs         ModerationLogRepository
	Audit        AuditLogRepository
	Interactions InteractionRepository
}

// NewPostgresRepositories wires all repositories to one database
func NewPostgresRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Theories:     NewPostgresTheoryRepository(db),
		Users:        NewPostgresUserRepository(db),
		Logs:         NewPostgresModerationLogRepository(db),
		Audit:        NewPostgresAuditLogRepository(db),
		Interactions: NewPostgresInteractionRepository(db),
	}
}

// NewMemoryRepositories backs every repository with one MemoryStore
func NewMemoryRepositories() (*Repositories, *MemoryStore) {
	m := NewMemoryStore()
	return &Repositories{
		Theories:     m,
		Users:        m,
		Logs:         m,
		Audit:        m,
		Interactions: m,
	}, m
}
