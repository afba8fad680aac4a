package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chatpd/orchestrator/internal/database"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Runner struct {
	db          *gorm.DB
	autoMigrate func() error
	logger      *logrus.Logger
}

func NewRunner(dbManager *database.Manager, logger *logrus.Logger) *Runner {
	return &Runner{
		db:          dbManager.DB,
		autoMigrate: dbManager.Migrate,
		logger:      logger,
	}
}

// RunMigrations runs the GORM auto-migrations, then every .sql file of
// migrationsPath in name order. The SQL files are idempotent.
func (r *Runner) RunMigrations(migrationsPath string) error {
	r.logger.Info("Starting database migrations...")

	if r.autoMigrate != nil {
		if err := r.autoMigrate(); err != nil {
			return fmt.Errorf("GORM auto-migration failed: %w", err)
		}
	}

	if err := r.runSQLMigrations(migrationsPath); err != nil {
		return fmt.Errorf("SQL migrations failed: %w", err)
	}

	r.logger.Info("Database migrations completed successfully")
	return nil
}

func (r *Runner) runSQLMigrations(migrationsPath string) error {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, fileName := range sqlFiles {
		if err := r.runSQLFile(filepath.Join(migrationsPath, fileName)); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", fileName, err)
		}
		r.logger.WithField("file", fileName).Info("Migration executed successfully")
	}

	return nil
}

func (r *Runner) runSQLFile(filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	name := filepath.Base(filePath)

	for i, stmt := range splitSQLStatements(string(content)) {
		r.logger.WithFields(logrus.Fields{
			"file":      name,
			"statement": i + 1,
		}).Debug("Executing SQL statement")

		if err := r.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, name, err)
		}
	}
	return nil
}

// splitSQLStatements cuts a script at top-level semicolons. Semicolons inside
// quoted literals, quoted identifiers, comments and dollar-quoted bodies do not
// end a statement. Comments are dropped.
func splitSQLStatements(sql string) []string {
	var (
		result []string
		stmt   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(stmt.String()); s != "" {
			result = append(result, s)
		}
		stmt.Reset()
	}

	for i := 0; i < len(sql); {
		switch c := sql[i]; {
		case c == '-' && strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end
			}
		case c == '/' && strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 4
			}
			stmt.WriteByte(' ')
		case c == '\'' || c == '"':
			end := quotedEnd(sql, i, c)
			stmt.WriteString(sql[i:end])
			i = end
		case c == '$':
			if tag := dollarTag(sql[i:]); tag != "" {
				end := strings.Index(sql[i+len(tag):], tag)
				if end < 0 {
					end = len(sql)
				} else {
					end = i + len(tag) + end + len(tag)
				}
				stmt.WriteString(sql[i:end])
				i = end
				continue
			}
			stmt.WriteByte(c)
			i++
		case c == ';':
			flush()
			i++
		default:
			stmt.WriteByte(c)
			i++
		}
	}
	flush()
	return result
}

// quotedEnd returns the index just past the literal opened at start. A doubled
// quote is an escaped quote.
func quotedEnd(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}

// dollarTag returns the opening "$$" or "$tag$" at the start of s, or "".
func dollarTag(s string) string {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1]
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9':
		default:
			return ""
		}
	}
	return ""
}
