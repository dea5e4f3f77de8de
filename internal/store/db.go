package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned for unknown or erased evaluations.
var ErrNotFound = errors.New("evaluation not found")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Evaluation{}, &AuditEntry{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveEvaluation inserts the evaluation row and its creation audit entry.
func (d *Database) SaveEvaluation(e *Evaluation, actor string) error {
	if e == nil {
		return errors.New("evaluation is nil")
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("evaluation id is required")
	}
	if !e.CaseTextStored {
		e.CaseText = nil
	}
	if e.PIIJSON == "" {
		e.SetPIITypes(nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		return tx.Create(&AuditEntry{
			EvalID: e.ID,
			Action: ActionEvaluationCreated,
			Actor:  actorOrSystem(actor),
			Detail: fmt.Sprintf("decision=%s score=%d model=%s", e.Decision, e.FinalScore, e.ModelUsed),
		}).Error
	})
}

// GetEvaluation returns a live (not erased) evaluation.
func (d *Database) GetEvaluation(id string) (*Evaluation, error) {
	var row Evaluation
	err := d.gorm.Where("id = ? AND deleted_at IS NULL", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// EvaluationQuery encapsulates filters and pagination for listing evaluation rows.
type EvaluationQuery struct {
	CaseHash string
	Offset   int
	Limit    int
}

// ListEvaluations returns live evaluations newest first, with the total count.
func (d *Database) ListEvaluations(opts EvaluationQuery) ([]Evaluation, int64, error) {
	var total int64
	base := d.gorm.Model(&Evaluation{}).Where("deleted_at IS NULL")
	if hash := strings.TrimSpace(opts.CaseHash); hash != "" {
		base = base.Where("case_hash = ?", hash)
	}
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := base.Omit("result_json", "case_text").Order("created_at DESC").Offset(opts.Offset)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var rows []Evaluation
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// EraseEvaluation clears case text and result for id and marks it deleted.
func (d *Database) EraseEvaluation(id, actor string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		n, err := eraseRow(tx, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.Create(&AuditEntry{
			EvalID: id,
			Action: ActionEvaluationDeleted,
			Actor:  actorOrSystem(actor),
			Detail: "erasure request: case_text nullified, result_json cleared",
		}).Error
	})
}

// RedactCaseText rewrites the stored case text with redact.
func (d *Database) RedactCaseText(id, actor string, redact func(string) string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		var row Evaluation
		err := tx.Select("id", "case_text").Where("id = ? AND deleted_at IS NULL", id).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (row.CaseText == nil || *row.CaseText == "")) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&Evaluation{}).Where("id = ?", id).Update("case_text", redact(*row.CaseText)).Error; err != nil {
			return err
		}
		return tx.Create(&AuditEntry{
			EvalID: id,
			Action: ActionCaseTextRedacted,
			Actor:  actorOrSystem(actor),
			Detail: "PII patterns redacted from stored case_text",
		}).Error
	})
}

// PurgeExpired erases every live evaluation whose expiry is at or before now.
func (d *Database) PurgeExpired(now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	err := d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Evaluation{}).
			Where("expires_at IS NOT NULL AND expires_at <= ? AND deleted_at IS NULL", now.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := eraseRow(tx, id, now.UTC()); err != nil {
				return err
			}
			if err := tx.Create(&AuditEntry{
				EvalID: id,
				Action: ActionDataRetentionPurge,
				Actor:  "system",
				Detail: "data retention: auto-purged after expiry",
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// WriteAudit appends an audit entry.
func (d *Database) WriteAudit(evalID, action, actor, detail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Create(&AuditEntry{
		EvalID: evalID,
		Action: action,
		Actor:  actorOrSystem(actor),
		Detail: detail,
	}).Error
}

// AuditTrail returns the audit entries for an evaluation, oldest first.
func (d *Database) AuditTrail(evalID string) ([]AuditEntry, error) {
	var entries []AuditEntry
	if err := d.gorm.Where("eval_id = ?", evalID).Order("created_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountEvaluations returns the number of live evaluations.
func (d *Database) CountEvaluations() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Evaluation{}).Where("deleted_at IS NULL").Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func eraseRow(tx *gorm.DB, id string, at time.Time) (int64, error) {
	res := tx.Model(&Evaluation{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"case_text":   gorm.Expr("NULL"),
			"result_json": "{}",
			"deleted_at":  at,
		})
	return res.RowsAffected, res.Error
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "system"
	}
	return actor
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_evaluations_case_hash_created ON evaluations(case_hash, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_eval_created ON audit_log(eval_id, created_at)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
