package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates all system tables and seeds the initial admin user.
// Safe to run on every startup; all DDL is IF NOT EXISTS.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range splitStatements(s.Dialect.SystemTablesSQL()) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

// splitStatements breaks a DDL script into individual statements.
// pgx/stdlib uses the extended protocol, which rejects multi-statement Exec.
func splitStatements(script string) []string {
	var stmts []string
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	row, err := QueryRow(ctx, s.DB, "SELECT COUNT(*) AS count FROM _users")
	if err != nil {
		return err
	}
	if count, ok := row["count"].(int64); ok && count > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	_, err = Exec(ctx, s.DB,
		fmt.Sprintf(`INSERT INTO _users (id, email, password_hash, roles, active) VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(uuid.New().String()), pb.Add("admin@local"), pb.Add(string(hashBytes)),
			pb.Add(`["admin"]`), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		return err
	}
	log.Println("Seeded admin user admin@local (change the password)")
	return nil
}
